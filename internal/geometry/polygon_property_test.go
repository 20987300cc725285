package geometry

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genPoint generates a random point.
func genPoint() gopter.Gen {
	return gopter.CombineGens(
		gen.Float64Range(-1000, 1000),
		gen.Float64Range(-1000, 1000),
	).Map(func(vals []interface{}) Point {
		return Point{X: vals[0].(float64), Y: vals[1].(float64)}
	})
}

// TestBoundingBox_ContainsAllPoints verifies every input point lies in its box.
func TestBoundingBox_ContainsAllPoints(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("bounding box contains all points", prop.ForAll(
		func(points []Point) bool {
			b := BoundingBox(points...)
			for _, p := range points {
				if !b.Contains(p, 0) {
					return false
				}
			}
			return b.Width() >= 0 && b.Height() >= 0
		},
		gen.SliceOfN(12, genPoint()),
	))

	properties.TestingRun(t)
}

// TestSimplifyPolygon_OutputNonIncreasing verifies output length <= input length
// and that the endpoints survive.
func TestSimplifyPolygon_OutputNonIncreasing(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("simplified polygon keeps endpoints and never grows", prop.ForAll(
		func(points []Point, epsilon float64) bool {
			out := SimplifyPolygon(points, epsilon)
			if len(out) > len(points) {
				return false
			}
			return out[0] == points[0] && out[len(out)-1] == points[len(points)-1]
		},
		gen.SliceOfN(15, genPoint()),
		gen.Float64Range(0.1, 50.0),
	))

	properties.TestingRun(t)
}

// TestParallelogramCorner_Completes verifies any quad built from its own
// parallelogram corner reports as a parallelogram.
func TestParallelogramCorner_Completes(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("completed quad is a parallelogram", prop.ForAll(
		func(tl, tr, bl Point) bool {
			q := NewQuad(tl, tr, Point{}, bl)
			q.BottomRight = q.ParallelogramCorner()
			return q.IsParallelogram(1e-9)
		},
		genPoint(), genPoint(), genPoint(),
	))

	properties.TestingRun(t)
}
