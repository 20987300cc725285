package overlay

import (
	"strings"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/projective"
)

// TransformOrigin is the transform origin every overlay element uses: the
// top-left corner of its container.
const TransformOrigin = "0 0"

// DisplayTransform is the positioned container plus the warp that carries the
// source image into it. It is recomputed from scratch on every viewport
// change and never persisted.
type DisplayTransform struct {
	// Container is the viewport-pixel box covering the projected quad and its
	// parallelogram completion.
	Container geometry.Box `json:"container"`
	// Offset is the projected top-left corner relative to Container's origin.
	Offset geometry.Point `json:"offset"`
	// Projection maps image pixels to viewport pixels, normalized so that
	// entry 8 is 1.
	Projection projective.Matrix3 `json:"projection"`
	// Matrix is Projection in 4x4 layout.
	Matrix projective.Matrix4 `json:"matrix"`
	// Translation holds the (t2, t5) terms of Projection.
	Translation geometry.Point `json:"translation"`
	// Deferred is set while the source extent is unknown. Only Container and
	// Offset are meaningful then.
	Deferred bool `json:"deferred"`
}

// ComputeDisplay positions the container for the four viewport-projected quad
// corners (quad order) and, when the extent is known, derives the warp of an
// extent-sized image onto them.
func ComputeDisplay(projected [4]geometry.Point, extent geometry.Extent) DisplayTransform {
	tl, tr, br, bl := projected[0], projected[1], projected[2], projected[3]

	// The container covers the parallelogram completion too, so a skewed
	// quad is never clipped.
	synthetic := tr.Add(bl.Sub(tl))
	box := geometry.BoundingBox(tl, tr, br, bl, synthetic)

	d := DisplayTransform{
		Container: box,
		Offset:    tl.Sub(box.Min()),
	}
	if !extent.Known() {
		d.Deferred = true
		return d
	}

	d.Projection = projective.RectToQuad(float64(extent.Width), float64(extent.Height), tl, tr, bl, br)
	d.Matrix = d.Projection.Matrix4()
	d.Translation = d.Projection.Translation()
	return d
}

// Finite reports whether the container and the warp are free of NaN and Inf.
// A degenerate quad fails this check and should be hidden by the host.
func (d DisplayTransform) Finite() bool {
	b := d.Container
	if !geometry.Pt(b.MinX, b.MinY).Finite() || !geometry.Pt(b.MaxX, b.MaxY).Finite() {
		return false
	}
	if d.Deferred {
		return true
	}
	return d.Projection.Finite() && d.Matrix.Finite()
}

// Shift returns the container-local translation applied before the matrix:
// -(Translation - Offset).
func (d DisplayTransform) Shift() geometry.Point {
	return geometry.Point{}.Sub(d.Translation.Sub(d.Offset))
}

// CSS returns the combined transform, "translate(x, y) matrix3d(...)". It is
// empty while deferred.
func (d DisplayTransform) CSS() string {
	if d.Deferred {
		return ""
	}
	s := d.Shift()
	var b strings.Builder
	b.WriteString("translate(")
	b.WriteString(projective.FormatNumber(s.X))
	b.WriteString("px, ")
	b.WriteString(projective.FormatNumber(s.Y))
	b.WriteString("px) ")
	b.WriteString(d.Matrix.CSS())
	return b.String()
}

// Style is what a host applies to the overlay element on every recompute.
type Style struct {
	Left            float64          `json:"left"`
	Top             float64          `json:"top"`
	Width           float64          `json:"width"`
	Height          float64          `json:"height"`
	Transform       string           `json:"transform,omitempty"`
	TransformOrigin string           `json:"transform_origin"`
	Visible         bool             `json:"visible"`
	Display         DisplayTransform `json:"display"`
}

// StyleFor derives the element style from a display transform. Deferred and
// non-finite transforms are invisible.
func StyleFor(d DisplayTransform) Style {
	visible := !d.Deferred && d.Finite()
	s := Style{
		Left:            d.Container.MinX,
		Top:             d.Container.MinY,
		Width:           d.Container.Width(),
		Height:          d.Container.Height(),
		TransformOrigin: TransformOrigin,
		Visible:         visible,
		Display:         d,
	}
	if visible {
		s.Transform = d.CSS()
	}
	return s
}
