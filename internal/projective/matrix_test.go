package projective

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestAdjugate(t *testing.T) {
	m := Matrix3{2, 0, 1, 1, 3, 2, 1, 1, 1}
	adj := m.Adjugate()

	// m·adj(m) = det(m)·I
	det := m.Determinant()
	assert.InDelta(t, 1.0, det, 1e-12)
	if diff := cmp.Diff(Identity().Scale(det), m.Mul(adj), approx); diff != "" {
		t.Errorf("m·adj(m) mismatch (-want +got):\n%s", diff)
	}
}

func TestAdjugate_Singular(t *testing.T) {
	m := Matrix3{1, 2, 3, 2, 4, 6, 1, 1, 1}
	assert.Zero(t, m.Determinant())
	// Still defined, but m·adj(m) collapses to zero.
	if diff := cmp.Diff(Matrix3{}, m.Mul(m.Adjugate()), approx); diff != "" {
		t.Errorf("singular m·adj(m) should vanish (-want +got):\n%s", diff)
	}
	assert.False(t, m.Inverse().Finite())
}

func TestInverse(t *testing.T) {
	m := Matrix3{0.5, 0.1, 10, -0.2, 0.7, 20, 0.0001, 0.0002, 1}
	if diff := cmp.Diff(Identity(), m.Mul(m.Inverse()), cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("m·m⁻¹ mismatch (-want +got):\n%s", diff)
	}
}

func TestMulVecAndApply(t *testing.T) {
	m := Matrix3{2, 0, 5, 0, 3, -1, 0, 0, 1}
	assert.Equal(t, [3]float64{7, 2, 1}, m.MulVec([3]float64{1, 1, 1}))
	assert.Equal(t, geometry.Pt(25, 29), m.Apply(geometry.Pt(10, 10)))

	persp := Matrix3{1, 0, 0, 0, 1, 0, 0.5, 0, 1}
	p := persp.Apply(geometry.Pt(2, 4))
	assert.InDelta(t, 1.0, p.X, 1e-12)
	assert.InDelta(t, 2.0, p.Y, 1e-12)
	assert.InDelta(t, 2.0, persp.Weight(geometry.Pt(2, 4)), 1e-12)
}

func TestNormalize(t *testing.T) {
	m := Matrix3{2, 4, 6, 8, 10, 12, 0, 0, 2}.Normalize()
	assert.Equal(t, Matrix3{1, 2, 3, 4, 5, 6, 0, 0, 1}, m)
	assert.True(t, m.IsAffine(0))

	z := Matrix3{1, 0, 0, 0, 1, 0, 0, 0, 0}.Normalize()
	assert.True(t, math.IsNaN(z[8]))
	assert.False(t, z.Finite())
}

func TestTranslation(t *testing.T) {
	m := Matrix3{1, 0, 7, 0, 1, -3, 0, 0, 1}
	assert.Equal(t, geometry.Pt(7, -3), m.Translation())
}

func TestMatrix4Layout(t *testing.T) {
	m := Matrix3{1, 2, 3, 4, 5, 6, 7, 8, 9}
	assert.Equal(t, Matrix4{
		1, 4, 0, 7,
		2, 5, 0, 8,
		0, 0, 1, 0,
		3, 6, 0, 9,
	}, m.Matrix4())
}

func TestMatrix4CSS(t *testing.T) {
	css := Identity().Matrix4().CSS()
	assert.Equal(t, "matrix3d(1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1)", css)

	m := Matrix3{0.5, 0, 10, 0, 0.5, 10, 0, 0, 1}.Matrix4()
	require.True(t, m.Finite())
	assert.Equal(t, "matrix3d(0.5, 0, 0, 0, 0, 0.5, 0, 0, 0, 0, 1, 0, 10, 10, 0, 1)", m.CSS())

	bad := Matrix3{math.NaN(), 0, 0, 0, 1, 0, 0, 0, 1}.Matrix4()
	assert.False(t, bad.Finite())
	assert.Contains(t, bad.CSS(), "NaN")
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "0", FormatNumber(math.Copysign(0, -1)))
	assert.Equal(t, "-0.25", FormatNumber(-0.25))
	assert.Equal(t, "1234.5", FormatNumber(1234.5))
}
