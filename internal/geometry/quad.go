package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Quad is an ordered quadrilateral of control points. The order is always
// top-left, top-right, bottom-right, bottom-left. Quads are replaced as a
// whole; there is no API to move a single corner.
type Quad struct {
	TopLeft     Point `json:"top_left"`
	TopRight    Point `json:"top_right"`
	BottomRight Point `json:"bottom_right"`
	BottomLeft  Point `json:"bottom_left"`
}

// NewQuad builds a Quad from its corners in quad order.
func NewQuad(tl, tr, br, bl Point) Quad {
	return Quad{TopLeft: tl, TopRight: tr, BottomRight: br, BottomLeft: bl}
}

// RectQuad returns the axis-aligned rectangle with origin (x, y) and size w×h.
func RectQuad(x, y, w, h float64) Quad {
	return NewQuad(Pt(x, y), Pt(x+w, y), Pt(x+w, y+h), Pt(x, y+h))
}

// Points returns the corners in quad order.
func (q Quad) Points() [4]Point {
	return [4]Point{q.TopLeft, q.TopRight, q.BottomRight, q.BottomLeft}
}

// Map returns a new Quad with f applied to every corner.
func (q Quad) Map(f func(Point) Point) Quad {
	return NewQuad(f(q.TopLeft), f(q.TopRight), f(q.BottomRight), f(q.BottomLeft))
}

// ParallelogramCorner returns topRight + (bottomLeft - topLeft), the corner
// that completes the parallelogram spanned at the top-left corner.
func (q Quad) ParallelogramCorner() Point {
	return q.TopRight.Add(q.BottomLeft.Sub(q.TopLeft))
}

// IsParallelogram reports whether the bottom-right corner coincides with the
// parallelogram completion within eps.
func (q Quad) IsParallelogram(eps float64) bool {
	return q.ParallelogramCorner().Dist(q.BottomRight) <= eps
}

// IsConvex reports whether the quad is strictly convex and not
// self-intersecting: every turn along the boundary has the same sign.
func (q Quad) IsConvex() bool {
	p := q.Points()
	var sign float64
	for i := range 4 {
		c := cross(p[i], p[(i+1)%4], p[(i+2)%4])
		if c == 0 {
			return false
		}
		if sign == 0 {
			sign = c
			continue
		}
		if (c > 0) != (sign > 0) {
			return false
		}
	}
	return true
}

// HasCollinearTriple reports whether any three corners are collinear within
// eps (measured as twice the triangle area). Such quads have no finite
// projective mapping.
func (q Quad) HasCollinearTriple(eps float64) bool {
	p := q.Points()
	for i := range 4 {
		a, b, c := p[i], p[(i+1)%4], p[(i+2)%4]
		if math.Abs(cross(a, b, c)) <= eps {
			return true
		}
	}
	return false
}

func (q Quad) String() string {
	p := q.Points()
	parts := make([]string, len(p))
	for i, pt := range p {
		parts[i] = strconv.FormatFloat(pt.X, 'f', -1, 64) + "," + strconv.FormatFloat(pt.Y, 'f', -1, 64)
	}
	return strings.Join(parts, " ")
}

// ParseQuad parses four "x,y" pairs separated by whitespace or semicolons, in
// quad order (top-left, top-right, bottom-right, bottom-left).
func ParseQuad(s string) (Quad, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ';' || r == '\t' || r == '\n'
	})
	if len(fields) != 4 {
		return Quad{}, fmt.Errorf("quad needs 4 points, got %d in %q", len(fields), s)
	}
	var pts [4]Point
	for i, f := range fields {
		xy := strings.Split(f, ",")
		if len(xy) != 2 {
			return Quad{}, fmt.Errorf("invalid point %q (want x,y)", f)
		}
		x, err := strconv.ParseFloat(strings.TrimSpace(xy[0]), 64)
		if err != nil {
			return Quad{}, fmt.Errorf("invalid x in %q: %w", f, err)
		}
		y, err := strconv.ParseFloat(strings.TrimSpace(xy[1]), 64)
		if err != nil {
			return Quad{}, fmt.Errorf("invalid y in %q: %w", f, err)
		}
		pts[i] = Pt(x, y)
		if !pts[i].Finite() {
			return Quad{}, fmt.Errorf("invalid point %q: coordinates must be finite", f)
		}
	}
	return NewQuad(pts[0], pts[1], pts[2], pts[3]), nil
}
