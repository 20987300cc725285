package projective

import (
	"math"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

const (
	// singularEps bounds the cofactors treated as zero relative to the
	// squared span of the points.
	singularEps = 1e-9
	// roundingEps covers cancellation in the cofactors, which grows with the
	// squared magnitude of the coordinates; fractional collinear points never
	// cancel exactly.
	roundingEps = 1e-13
)

// BasisToPoints returns the projective matrix that carries the canonical
// homogeneous basis (1,0,0), (0,1,0), (0,0,1), (1,1,1) onto p1..p4.
//
// The columns of M are (p1,1), (p2,1), (p3,1); M·v = (p4,1) is solved through
// the adjugate and the result is M·diag(v). If any three of the points are
// collinear the result is all NaN.
func BasisToPoints(p1, p2, p3, p4 geometry.Point) Matrix3 {
	m := Matrix3{
		p1.X, p2.X, p3.X,
		p1.Y, p2.Y, p3.Y,
		1, 1, 1,
	}
	v := m.Adjugate().MulVec([3]float64{p4.X, p4.Y, 1})
	det := m.Determinant()

	// det is twice the area of p1,p2,p3 and v[i] twice the area of the
	// triangle with p4 in place of p(i+1).
	span := geometry.BoundingBox(p1, p2, p3, p4)
	w := math.Max(span.Width(), span.Height())
	mag := 1 + magnitude(p1) + magnitude(p2) + magnitude(p3) + magnitude(p4)
	tol := singularEps*w*w + roundingEps*mag*mag
	if math.Abs(det) <= tol || math.Abs(v[0]) <= tol || math.Abs(v[1]) <= tol || math.Abs(v[2]) <= tol {
		return nanMatrix()
	}
	return m.Mul(Matrix3{
		v[0] / det, 0, 0,
		0, v[1] / det, 0,
		0, 0, v[2] / det,
	})
}

func magnitude(p geometry.Point) float64 {
	return math.Abs(p.X) + math.Abs(p.Y)
}

func nanMatrix() Matrix3 {
	n := math.NaN()
	return Matrix3{n, n, n, n, n, n, n, n, n}
}

// GeneralProjection returns the matrix mapping src[i] onto dst[i] for all four
// points. The point order is significant: both arrays must list their
// corners in the same order, and the first three of each must not be
// collinear.
func GeneralProjection(src, dst [4]geometry.Point) Matrix3 {
	s := BasisToPoints(src[0], src[1], src[2], src[3])
	d := BasisToPoints(dst[0], dst[1], dst[2], dst[3])
	return d.Mul(s.Adjugate())
}

// RectToQuad returns the normalized projection of the rectangle
// (0,0), (w,0), (0,h), (w,h) onto tl, tr, bl, br. Note the bottom-left corner
// precedes the bottom-right one.
func RectToQuad(w, h float64, tl, tr, bl, br geometry.Point) Matrix3 {
	return GeneralProjection(
		[4]geometry.Point{{X: 0, Y: 0}, {X: w, Y: 0}, {X: 0, Y: h}, {X: w, Y: h}},
		[4]geometry.Point{tl, tr, bl, br},
	).Normalize()
}

// ExtentToQuad projects an image of the given extent onto q.
func ExtentToQuad(e geometry.Extent, q geometry.Quad) Matrix3 {
	return RectToQuad(float64(e.Width), float64(e.Height), q.TopLeft, q.TopRight, q.BottomLeft, q.BottomRight)
}
