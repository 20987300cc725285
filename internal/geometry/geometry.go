// Package geometry holds the plain 2D value types shared by the selector,
// projective and overlay packages.
package geometry

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Point represents a 2D coordinate in float space. Its unit depends on the
// caller: logical (geographic) coordinates, viewport pixels or image pixels.
// Geographic surfaces use X for longitude and Y for latitude.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Pt is shorthand for Point{X: x, Y: y}.
func Pt(x, y float64) Point { return Point{X: x, Y: y} }

// Add returns p+q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Sub returns p-q.
func (p Point) Sub(q Point) Point { return Point{X: p.X - q.X, Y: p.Y - q.Y} }

// Scale returns p scaled by sx, sy.
func (p Point) Scale(sx, sy float64) Point { return Point{X: p.X * sx, Y: p.Y * sy} }

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 { return math.Hypot(p.X-q.X, p.Y-q.Y) }

// Finite reports whether both coordinates are finite numbers.
func (p Point) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsNaN(p.Y) && !math.IsInf(p.X, 0) && !math.IsInf(p.Y, 0)
}

func (p Point) String() string { return fmt.Sprintf("(%g,%g)", p.X, p.Y) }

// Box represents an axis-aligned bounding box in float coordinates.
type Box struct {
	MinX float64 `json:"min_x"`
	MinY float64 `json:"min_y"`
	MaxX float64 `json:"max_x"`
	MaxY float64 `json:"max_y"`
}

// NewBox constructs a Box from min/max coordinates ensuring ordering.
func NewBox(x1, y1, x2, y2 float64) Box {
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return Box{MinX: x1, MinY: y1, MaxX: x2, MaxY: y2}
}

// Width returns the box width.
func (b Box) Width() float64 { return b.MaxX - b.MinX }

// Height returns the box height.
func (b Box) Height() float64 { return b.MaxY - b.MinY }

// Min returns the top-left corner.
func (b Box) Min() Point { return Point{X: b.MinX, Y: b.MinY} }

// Contains reports whether p lies inside b, borders included, within eps.
func (b Box) Contains(p Point, eps float64) bool {
	return p.X >= b.MinX-eps && p.X <= b.MaxX+eps && p.Y >= b.MinY-eps && p.Y <= b.MaxY+eps
}

// BoundingBox returns the axis-aligned bounding box for a set of points.
func BoundingBox(pts ...Point) Box {
	if len(pts) == 0 {
		return Box{}
	}
	minX, minY := pts[0].X, pts[0].Y
	maxX, maxY := pts[0].X, pts[0].Y
	for _, p := range pts[1:] {
		if p.X < minX {
			minX = p.X
		}
		if p.Y < minY {
			minY = p.Y
		}
		if p.X > maxX {
			maxX = p.X
		}
		if p.Y > maxY {
			maxY = p.Y
		}
	}
	return Box{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
}

// Extent is the natural pixel size of a raster. The zero value means the size
// is not known yet.
type Extent struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Known reports whether both dimensions are positive.
func (e Extent) Known() bool { return e.Width > 0 && e.Height > 0 }

func (e Extent) String() string { return fmt.Sprintf("%dx%d", e.Width, e.Height) }

// ParseExtent parses "WxH" (e.g. "800x600").
func ParseExtent(s string) (Extent, error) {
	ws, hs, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Extent{}, fmt.Errorf("invalid extent %q (want WxH)", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return Extent{}, fmt.Errorf("invalid extent %q (want WxH): %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return Extent{}, fmt.Errorf("invalid extent %q (want WxH): %w", s, err)
	}
	e := Extent{Width: w, Height: h}
	if e.Width < 0 || e.Height < 0 {
		return Extent{}, fmt.Errorf("invalid extent %q: negative dimension", s)
	}
	return e, nil
}
