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

func TestBasisToPoints_MapsCanonicalBasis(t *testing.T) {
	p1, p2, p3, p4 := geometry.Pt(3, 1), geometry.Pt(20, 4), geometry.Pt(2, 15), geometry.Pt(25, 22)
	m := BasisToPoints(p1, p2, p3, p4)

	check := func(v [3]float64, want geometry.Point) {
		t.Helper()
		h := m.MulVec(v)
		assert.InDelta(t, want.X, h[0]/h[2], 1e-9)
		assert.InDelta(t, want.Y, h[1]/h[2], 1e-9)
	}
	check([3]float64{1, 0, 0}, p1)
	check([3]float64{0, 1, 0}, p2)
	check([3]float64{0, 0, 1}, p3)
	check([3]float64{1, 1, 1}, p4)
}

func TestRectToQuad_Identity(t *testing.T) {
	m := RectToQuad(800, 600, geometry.Pt(0, 0), geometry.Pt(800, 0), geometry.Pt(0, 600), geometry.Pt(800, 600))
	if diff := cmp.Diff(Identity(), m, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("expected identity (-want +got):\n%s", diff)
	}
}

func TestRectToQuad_ScaledRectangle(t *testing.T) {
	q := geometry.NewQuad(geometry.Pt(10, 10), geometry.Pt(410, 10), geometry.Pt(410, 310), geometry.Pt(10, 310))
	m := ExtentToQuad(geometry.Extent{Width: 800, Height: 600}, q)

	want := Matrix3{0.5, 0, 10, 0, 0.5, 10, 0, 0, 1}
	if diff := cmp.Diff(want, m, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("scaled rectangle (-want +got):\n%s", diff)
	}
	assert.Equal(t, 1.0, m[8])
	assert.True(t, m.IsAffine(1e-12))
}

func TestRectToQuad_Parallelogram(t *testing.T) {
	// Sheared by 0.25 along x.
	tl, tr := geometry.Pt(5, 5), geometry.Pt(105, 5)
	bl := geometry.Pt(30, 105)
	br := tr.Add(bl.Sub(tl))
	m := RectToQuad(100, 100, tl, tr, bl, br)

	require.True(t, m.Finite())
	assert.True(t, m.IsAffine(1e-9), "parallelogram should carry no perspective: %v", m)
	assert.InDelta(t, 0.25, m[1], 1e-9)
}

func TestRectToQuad_Perspective(t *testing.T) {
	tl, tr := geometry.Pt(0, 0), geometry.Pt(100, 0)
	bl, br := geometry.Pt(-20, 80), geometry.Pt(140, 90)
	m := RectToQuad(50, 40, tl, tr, bl, br)

	require.True(t, m.Finite())
	assert.False(t, m.IsAffine(1e-6))

	weights := []float64{
		m.Weight(geometry.Pt(0, 0)),
		m.Weight(geometry.Pt(50, 0)),
		m.Weight(geometry.Pt(0, 40)),
		m.Weight(geometry.Pt(50, 40)),
	}
	differs := false
	for _, w := range weights {
		if math.Abs(w-1) > 1e-6 {
			differs = true
		}
	}
	assert.True(t, differs, "expected a corner weight != 1, got %v", weights)
}

func TestRectToQuad_RoundTrip(t *testing.T) {
	tl, tr := geometry.Pt(12.5, -3), geometry.Pt(320, 18)
	bl, br := geometry.Pt(-4, 250), geometry.Pt(298, 301)
	m := RectToQuad(640, 480, tl, tr, bl, br)

	src := []geometry.Point{{X: 0, Y: 0}, {X: 640, Y: 0}, {X: 0, Y: 480}, {X: 640, Y: 480}}
	dst := []geometry.Point{tl, tr, bl, br}
	got := make([]geometry.Point, len(src))
	for i, p := range src {
		got[i] = m.Apply(p)
	}
	if diff := cmp.Diff(dst, got, cmpopts.EquateApprox(1e-9, 1e-9)); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}
}

func TestRectToQuad_Degenerate(t *testing.T) {
	tests := []struct {
		name           string
		tl, tr, bl, br geometry.Point
	}{
		{"three collinear on top edge", geometry.Pt(0, 0), geometry.Pt(50, 0), geometry.Pt(100, 0), geometry.Pt(100, 100)},
		{"duplicate corner", geometry.Pt(0, 0), geometry.Pt(0, 0), geometry.Pt(0, 100), geometry.Pt(100, 100)},
		{"bottom-right on the top edge line", geometry.Pt(0, 0), geometry.Pt(100, 0), geometry.Pt(0, 100), geometry.Pt(200, 0)},
		{"all on a diagonal", geometry.Pt(0, 0), geometry.Pt(10, 10), geometry.Pt(20, 20), geometry.Pt(30, 30)},
		{"fractional tl, tr, bl collinear", geometry.Pt(0.1, 0.1), geometry.Pt(0.2, 0.2), geometry.Pt(0.3, 0.3), geometry.Pt(5, 9)},
		{"fractional tl, tr, br collinear", geometry.Pt(0.1, 0.7), geometry.Pt(0.2, 1.4), geometry.Pt(5, 9), geometry.Pt(0.3, 2.1)},
		{"fractional tr, bl, br collinear", geometry.Pt(3, 7), geometry.Pt(12.3, 4.1), geometry.Pt(24.6, 8.2), geometry.Pt(36.9, 12.3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := RectToQuad(100, 100, tt.tl, tt.tr, tt.bl, tt.br)
			assert.False(t, m.Finite(), "expected NaN/Inf, got %v", m)
			assert.False(t, m.Matrix4().Finite())
		})
	}
}

func TestRectToQuad_NearDegenerate(t *testing.T) {
	// bl sits 1e-3 off the line through tl and tr: still a valid projection.
	tl, tr := geometry.Pt(0, 0), geometry.Pt(100, 0)
	bl, br := geometry.Pt(50, 1e-3), geometry.Pt(100, 100)
	m := RectToQuad(100, 100, tl, tr, bl, br)

	require.True(t, m.Finite())
	p := m.Apply(geometry.Pt(0, 100))
	assert.InDelta(t, bl.X, p.X, 1e-4)
	assert.InDelta(t, bl.Y, p.Y, 1e-4)
}

func TestRectToQuad_FarFromOrigin(t *testing.T) {
	off := geometry.Pt(1e6+0.25, -2e6+0.75)
	q := geometry.NewQuad(geometry.Pt(0, 0), geometry.Pt(480, 20), geometry.Pt(500, 400), geometry.Pt(-10, 380))
	far := q.Map(func(p geometry.Point) geometry.Point { return p.Add(off) })

	m := ExtentToQuad(geometry.Extent{Width: 800, Height: 600}, far)
	require.True(t, m.Finite())
	p := m.Apply(geometry.Pt(800, 600))
	assert.InDelta(t, far.BottomRight.X, p.X, 1e-2)
	assert.InDelta(t, far.BottomRight.Y, p.Y, 1e-2)

	// The same fractional collinear triple stays detectable off origin.
	tl, tr, bl := geometry.Pt(0.1, 0.1).Add(off), geometry.Pt(0.2, 0.2).Add(off), geometry.Pt(0.3, 0.3).Add(off)
	m = RectToQuad(800, 600, tl, tr, bl, geometry.Pt(5, 9).Add(off))
	assert.False(t, m.Finite())
}

