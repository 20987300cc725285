// Package projective implements the 3x3 homogeneous algebra behind the
// overlay warp: adjugate-based basis solving, general four-point projective
// mappings and the conversion to a CSS matrix3d layout.
//
// No function in this package guards against degenerate input. If any three
// of the four control points are collinear the basis matrix is singular and
// the result carries NaN or Inf entries; Finite reports that condition.
package projective

import (
	"math"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// Matrix3 is a row-major 3x3 matrix:
//
//	[0 1 2]
//	[3 4 5]
//	[6 7 8]
type Matrix3 [9]float64

// Identity returns the 3x3 identity matrix.
func Identity() Matrix3 {
	return Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Adjugate returns the transpose of the cofactor matrix of m.
func (m Matrix3) Adjugate() Matrix3 {
	return Matrix3{
		m[4]*m[8] - m[5]*m[7], m[2]*m[7] - m[1]*m[8], m[1]*m[5] - m[2]*m[4],
		m[5]*m[6] - m[3]*m[8], m[0]*m[8] - m[2]*m[6], m[2]*m[3] - m[0]*m[5],
		m[3]*m[7] - m[4]*m[6], m[1]*m[6] - m[0]*m[7], m[0]*m[4] - m[1]*m[3],
	}
}

// Determinant returns det(m).
func (m Matrix3) Determinant() float64 {
	return m[0]*(m[4]*m[8]-m[5]*m[7]) -
		m[1]*(m[3]*m[8]-m[5]*m[6]) +
		m[2]*(m[3]*m[7]-m[4]*m[6])
}

// Mul returns the matrix product m·n.
func (m Matrix3) Mul(n Matrix3) Matrix3 {
	var out Matrix3
	for i := range 3 {
		for j := range 3 {
			var sum float64
			for k := range 3 {
				sum += m[3*i+k] * n[3*k+j]
			}
			out[3*i+j] = sum
		}
	}
	return out
}

// MulVec returns m·v.
func (m Matrix3) MulVec(v [3]float64) [3]float64 {
	return [3]float64{
		m[0]*v[0] + m[1]*v[1] + m[2]*v[2],
		m[3]*v[0] + m[4]*v[1] + m[5]*v[2],
		m[6]*v[0] + m[7]*v[1] + m[8]*v[2],
	}
}

// Scale returns m with every entry multiplied by s.
func (m Matrix3) Scale(s float64) Matrix3 {
	for i := range m {
		m[i] *= s
	}
	return m
}

// Inverse returns adj(m)/det(m). A singular m yields Inf/NaN entries.
func (m Matrix3) Inverse() Matrix3 {
	return m.Adjugate().Scale(1 / m.Determinant())
}

// Normalize divides every entry by m[8] so that the homogeneous scale entry
// becomes exactly 1. A zero or non-finite m[8] turns entry 8 into NaN.
func (m Matrix3) Normalize() Matrix3 {
	d := m[8]
	for i := range m {
		m[i] /= d
	}
	return m
}

// Apply maps p through m with the perspective divide.
func (m Matrix3) Apply(p geometry.Point) geometry.Point {
	v := m.MulVec([3]float64{p.X, p.Y, 1})
	return geometry.Point{X: v[0] / v[2], Y: v[1] / v[2]}
}

// Weight returns the homogeneous weight m applies to p before the divide.
func (m Matrix3) Weight(p geometry.Point) float64 {
	return m[6]*p.X + m[7]*p.Y + m[8]
}

// Translation returns the (m[2], m[5]) translation terms.
func (m Matrix3) Translation() geometry.Point {
	return geometry.Point{X: m[2], Y: m[5]}
}

// Finite reports whether every entry is a finite number.
func (m Matrix3) Finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// IsAffine reports whether the bottom row is (0, 0, 1) within eps, i.e. the
// matrix carries no perspective term. m should be normalized.
func (m Matrix3) IsAffine(eps float64) bool {
	return math.Abs(m[6]) <= eps && math.Abs(m[7]) <= eps && math.Abs(m[8]-1) <= eps
}
