package selector

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

func TestParsePathData_Commands(t *testing.T) {
	tests := []struct {
		name  string
		data  string
		kinds []segKind
		end   geometry.Point
	}{
		{"absolute lines", "M0 0 L10 0 L10 10", []segKind{segLine, segLine}, geometry.Pt(10, 10)},
		{"implicit lineto", "M0 0 10 0 10 10 0 10z", []segKind{segLine, segLine, segLine, segLine}, geometry.Pt(0, 0)},
		{"relative h v", "m10 10 h80 v80 h-80 z", []segKind{segLine, segLine, segLine, segLine}, geometry.Pt(10, 10)},
		{"compact numbers", "M0,0L-5.5.5", []segKind{segLine}, geometry.Pt(-5.5, 0.5)},
		{"exponent", "M0 0 L1e1 2E-1", []segKind{segLine}, geometry.Pt(10, 0.2)},
		{"cubic and smooth", "M0 0 C0 10 10 10 10 0 S20 -10 20 0", []segKind{segCubic, segCubic}, geometry.Pt(20, 0)},
		{"quad and smooth", "M0 0 Q5 10 10 0 T20 0", []segKind{segQuad, segQuad}, geometry.Pt(20, 0)},
		{"relative arc with packed flags", "M0 0 a5 5 0 1010 0", []segKind{segArc}, geometry.Pt(10, 0)},
		{"zero radius arc is a line", "M0 0 A0 5 0 0 1 10 0", []segKind{segLine}, geometry.Pt(10, 0)},
		{"close on start adds nothing", "M0 0 L5 0 L5 5 L0 0 Z", []segKind{segLine, segLine, segLine}, geometry.Pt(0, 0)},
		{"two subpaths", "M0 0 L1 0 M5 5 l1 0", []segKind{segLine, segLine}, geometry.Pt(6, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			segs, err := parsePathData(tt.data)
			require.NoError(t, err)
			kinds := make([]segKind, len(segs))
			for i, s := range segs {
				kinds[i] = s.kind
			}
			assert.Equal(t, tt.kinds, kinds)
			assert.InDelta(t, tt.end.X, segs[len(segs)-1].end().X, 1e-12)
			assert.InDelta(t, tt.end.Y, segs[len(segs)-1].end().Y, 1e-12)
		})
	}
}

func TestParsePathData_SmoothReflection(t *testing.T) {
	segs, err := parsePathData("M0 0 C0 10 10 10 10 0 S20 -10 20 0")
	require.NoError(t, err)
	assert.Equal(t, geometry.Pt(10, -10), segs[1].p1)

	segs, err = parsePathData("M0 0 Q5 10 10 0 T20 0")
	require.NoError(t, err)
	assert.Equal(t, geometry.Pt(15, -10), segs[1].p1)

	// Without a preceding curve the first control point is the pen.
	segs, err = parsePathData("M3 4 S20 -10 20 0")
	require.NoError(t, err)
	assert.Equal(t, geometry.Pt(3, 4), segs[0].p1)
}

func TestParsePathData_Errors(t *testing.T) {
	for _, data := range []string{
		"",
		"L10 10",
		"10 10",
		"M0",
		"M0 0 L10",
		"M0 0 X5 5",
		"M0 0 Z 5 5",
		"M0 0 A5 5 0 2 0 10 0",
	} {
		_, err := parsePathData(data)
		assert.Error(t, err, "data %q", data)
	}
}

func TestArc_Semicircle(t *testing.T) {
	segs, err := parsePathData("M0 50 A50 50 0 0 1 100 50")
	require.NoError(t, err)
	require.Len(t, segs, 1)
	s := segs[0]

	mid := s.at(0.5)
	assert.InDelta(t, 50, mid.X, 1e-9)
	assert.InDelta(t, 0, mid.Y, 1e-9)
	assert.Equal(t, geometry.Pt(100, 50), s.at(1))
	start := s.at(0)
	assert.InDelta(t, 0, start.X, 1e-9)
	assert.InDelta(t, 50, start.Y, 1e-9)

	// Every point stays on the circle.
	for i := 0; i <= 10; i++ {
		p := s.at(float64(i) / 10)
		assert.InDelta(t, 50, p.Dist(geometry.Pt(50, 50)), 1e-9)
	}
}

func TestArc_RadiusScaledUp(t *testing.T) {
	// Radius 1 cannot span 10 px; it is scaled to 5.
	segs, err := parsePathData("M0 0 A1 1 0 0 1 10 0")
	require.NoError(t, err)
	assert.InDelta(t, 5, segs[0].arc.rx, 1e-9)
	assert.InDelta(t, math.Pi, math.Abs(segs[0].arc.delta), 1e-9)
}

func TestSamplePath_StraightSegmentsKeepVertices(t *testing.T) {
	segs, err := parsePathData("M0 0 L100 0 L100 100 L0 100 Z")
	require.NoError(t, err)
	pts := samplePath(segs, 1)
	assert.Equal(t, []geometry.Point{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 100, Y: 100}, {X: 0, Y: 100}}, pts)
}

func TestSamplePath_CurvesAreSampledByArcLength(t *testing.T) {
	segs, err := parsePathData("M0 50 A50 50 0 0 1 100 50")
	require.NoError(t, err)

	pts := samplePath(segs, 1)
	// Half circumference of r=50 is ~157; one sample per unit plus the end.
	assert.InDelta(t, 158, len(pts), 2)
	assert.Equal(t, geometry.Pt(0, 50), pts[0])
	assert.Equal(t, geometry.Pt(100, 50), pts[len(pts)-1])
	for i := 1; i < len(pts)-1; i++ {
		assert.InDelta(t, 1, pts[i].Dist(pts[i-1]), 0.01)
	}

	coarse := samplePath(segs, 10)
	assert.InDelta(t, 17, len(coarse), 2)
}

func TestSamplePath_MixedSegments(t *testing.T) {
	segs, err := parsePathData("M0 0 L10 0 Q15 5 10 10 L0 10 Z")
	require.NoError(t, err)
	pts := samplePath(segs, 1)

	assert.Equal(t, geometry.Pt(0, 0), pts[0])
	assert.Equal(t, geometry.Pt(10, 0), pts[1])
	// Curve samples between the line vertices.
	assert.Greater(t, len(pts), 8)
	assert.Equal(t, geometry.Pt(0, 10), pts[len(pts)-1])
	for _, p := range pts {
		assert.True(t, p.X <= 12.5+1e-9, "sample %v outside curve hull", p)
	}
}

// A run of curves is never thinned: every curve keeps all of its arc-length
// samples, each join vertex is kept, and only exact repeats are dropped.
func TestSamplePath_CurveRunKeepsEverySample(t *testing.T) {
	segs, err := parsePathData("M0 0 C0 20 20 20 20 0 S40 -20 40 0 Q50 10 60 0 A10 10 0 0 1 80 0")
	require.NoError(t, err)
	require.Len(t, segs, 4)

	pts := samplePath(segs, 1)

	next := 0
	for _, s := range segs {
		found := false
		for ; next < len(pts); next++ {
			if pts[next] == s.start() {
				found = true
				break
			}
		}
		assert.True(t, found, "join vertex %v missing or out of order", s.start())
	}
	assert.Equal(t, geometry.Pt(80, 0), pts[len(pts)-1])

	for i := 1; i < len(pts); i++ {
		d := pts[i].Dist(pts[i-1])
		assert.Greater(t, d, 0.0, "consecutive duplicate at %d", i)
		assert.LessOrEqual(t, d, 1.0+1e-6, "gap at %d", i)
	}
	// The run spans 80 units in x and bulges well beyond that.
	assert.Greater(t, len(pts), 100)
}
