package projective

import (
	"math"
	"strconv"
	"strings"
)

// Matrix4 is a 4x4 graphics matrix in column-major order, the argument order
// of CSS matrix3d().
type Matrix4 [16]float64

// Matrix4 lays m out as a 4x4 graphics matrix. The z axis is passed through,
// the perspective row of m lands in the fourth row and the translation terms
// m[2], m[5] in the fourth column. m should be normalized first.
func (m Matrix3) Matrix4() Matrix4 {
	return Matrix4{
		m[0], m[3], 0, m[6],
		m[1], m[4], 0, m[7],
		0, 0, 1, 0,
		m[2], m[5], 0, m[8],
	}
}

// Finite reports whether every entry is a finite number.
func (m Matrix4) Finite() bool {
	for _, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// CSS formats m as a CSS matrix3d() function.
func (m Matrix4) CSS() string {
	var b strings.Builder
	b.WriteString("matrix3d(")
	for i, v := range m {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(FormatNumber(v))
	}
	b.WriteByte(')')
	return b.String()
}

// FormatNumber prints v in the shortest form that round-trips, with negative
// zero printed as 0.
func FormatNumber(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
