// Package render rasterizes a projectively warped image, producing the same
// picture a browser shows for an overlay's CSS transform.
package render

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
)

var (
	// ErrDegenerate is returned when the corners admit no finite projection.
	ErrDegenerate = errors.New("degenerate projection")
	// ErrEmptySource is returned for sources without pixels.
	ErrEmptySource = errors.New("empty source image")
	// ErrCanvasTooLarge is returned before allocating a canvas above the
	// pixel budget.
	ErrCanvasTooLarge = errors.New("render canvas too large")
)

// DefaultMaxCanvasPixels is the pixel budget used when
// Options.MaxCanvasPixels is not positive.
const DefaultMaxCanvasPixels = 64 << 20

// maxCoord keeps container edges well inside the int range.
const maxCoord = 1 << 30

// Sampling selects the pixel interpolation.
type Sampling string

const (
	Bilinear Sampling = "bilinear"
	Nearest  Sampling = "nearest"
)

// ParseSampling accepts "bilinear" (or "") and "nearest".
func ParseSampling(s string) (Sampling, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Bilinear):
		return Bilinear, nil
	case string(Nearest):
		return Nearest, nil
	default:
		return "", fmt.Errorf("unknown sampling %q", s)
	}
}

// Options controls Warp.
type Options struct {
	Sampling Sampling
	// Opacity in [0,1]. Nil or out of range values mean fully opaque.
	Opacity *float64
	// Background fills pixels the image does not cover. Nil is transparent.
	Background color.Color
	// ClipPolygon restricts the visible part of the source, in percent of
	// its width and height (as produced by the selector package).
	ClipPolygon []geometry.Point
	// Canvas is the output rectangle in target coordinates. When empty the
	// overlay's container box is used.
	Canvas image.Rectangle
	// MaxSize, if positive, downscales the result to fit a MaxSize square.
	MaxSize int
	// MaxCanvasPixels bounds the full-size canvas, before any MaxSize
	// downscale.
	MaxCanvasPixels int64
}

// Result is a rendered overlay.
type Result struct {
	Image *image.NRGBA
	// Origin is the target coordinate of the image's top-left pixel.
	Origin  image.Point
	Display overlay.DisplayTransform
}

// Warp draws src mapped onto corners. Every output pixel center is mapped
// back through the inverse projection and sampled from src.
func Warp(src image.Image, corners geometry.Quad, opts Options) (*Result, error) {
	sb := src.Bounds()
	if sb.Empty() {
		return nil, ErrEmptySource
	}
	ext := geometry.Extent{Width: sb.Dx(), Height: sb.Dy()}

	d := overlay.ComputeDisplay(corners.Points(), ext)
	inv := d.Projection.Inverse()
	if !d.Finite() || !inv.Finite() {
		return nil, fmt.Errorf("%w: corners %s", ErrDegenerate, corners)
	}

	limit := opts.MaxCanvasPixels
	if limit <= 0 {
		limit = DefaultMaxCanvasPixels
	}
	canvas := opts.Canvas
	if canvas.Empty() {
		b := d.Container
		outside := math.Abs(b.MinX) > maxCoord || math.Abs(b.MinY) > maxCoord ||
			math.Abs(b.MaxX) > maxCoord || math.Abs(b.MaxY) > maxCoord
		if outside || b.Width()*b.Height() > float64(limit) {
			return nil, fmt.Errorf("%w: container %.0fx%.0f exceeds %d pixels", ErrCanvasTooLarge, b.Width(), b.Height(), limit)
		}
		canvas = containerRect(b)
	}
	if canvas.Empty() {
		return nil, fmt.Errorf("%w: empty container", ErrDegenerate)
	}
	if n := int64(canvas.Dx()) * int64(canvas.Dy()); n > limit {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrCanvasTooLarge, canvas.Dx(), canvas.Dy(), limit)
	}

	pix := imaging.Clone(src)
	clip := clipPixels(opts.ClipPolygon, ext)
	sample := bilinear
	if opts.Sampling == Nearest {
		sample = nearest
	}

	bg := color.NRGBA{}
	if opts.Background != nil {
		bg = color.NRGBAModel.Convert(opts.Background).(color.NRGBA)
	}
	opacity := 1.0
	if opts.Opacity != nil && *opts.Opacity >= 0 && *opts.Opacity <= 1 {
		opacity = *opts.Opacity
	}

	out := imaging.New(canvas.Dx(), canvas.Dy(), bg)
	w, h := float64(ext.Width), float64(ext.Height)
	for y := range canvas.Dy() {
		for x := range canvas.Dx() {
			v := inv.MulVec([3]float64{float64(canvas.Min.X+x) + 0.5, float64(canvas.Min.Y+y) + 0.5, 1})
			if v[2] == 0 {
				continue
			}
			u := geometry.Pt(v[0]/v[2], v[1]/v[2])
			if u.X < 0 || u.Y < 0 || u.X >= w || u.Y >= h {
				continue
			}
			if clip != nil && !geometry.Contains(clip, u) {
				continue
			}
			out.SetNRGBA(x, y, over(sample(pix, u.X, u.Y), bg, opacity))
		}
	}

	if opts.MaxSize > 0 && (out.Bounds().Dx() > opts.MaxSize || out.Bounds().Dy() > opts.MaxSize) {
		out = imaging.Fit(out, opts.MaxSize, opts.MaxSize, imaging.Lanczos)
	}

	return &Result{Image: out, Origin: canvas.Min, Display: d}, nil
}

// WarpSelection crops src to the extracted region and warps the crop onto
// corners, clipped by the region's clip polygon. The region is intersected
// with the source bounds.
func WarpSelection(src image.Image, sel selector.Result, corners geometry.Quad, opts Options) (*Result, error) {
	r := sel.Region
	rect := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height).Add(src.Bounds().Min)
	if rect.Intersect(src.Bounds()).Empty() {
		return nil, fmt.Errorf("%w: region %s outside image", ErrEmptySource, r)
	}
	opts.ClipPolygon = sel.ClipPolygon
	return Warp(imaging.Crop(src, rect), corners, opts)
}

func containerRect(b geometry.Box) image.Rectangle {
	return image.Rect(
		int(math.Floor(b.MinX)), int(math.Floor(b.MinY)),
		int(math.Ceil(b.MaxX)), int(math.Ceil(b.MaxY)),
	)
}

// clipPixels converts a percentage polygon to source pixels.
func clipPixels(poly []geometry.Point, ext geometry.Extent) []geometry.Point {
	if len(poly) < 3 {
		return nil
	}
	sx, sy := float64(ext.Width)/100, float64(ext.Height)/100
	out := make([]geometry.Point, len(poly))
	for i, p := range poly {
		out[i] = p.Scale(sx, sy)
	}
	return out
}

func nearest(img *image.NRGBA, x, y float64) color.NRGBA {
	b := img.Bounds()
	xi := clampInt(int(x), 0, b.Dx()-1)
	yi := clampInt(int(y), 0, b.Dy()-1)
	return img.NRGBAAt(b.Min.X+xi, b.Min.Y+yi)
}

// bilinear interpolates premultiplied channels around the pixel centers
// nearest to (x,y). Edges are clamped.
func bilinear(img *image.NRGBA, x, y float64) color.NRGBA {
	b := img.Bounds()
	fx, fy := x-0.5, y-0.5
	x0, y0 := int(math.Floor(fx)), int(math.Floor(fy))
	tx, ty := fx-float64(x0), fy-float64(y0)
	x1, y1 := x0+1, y0+1
	x0 = clampInt(x0, 0, b.Dx()-1)
	x1 = clampInt(x1, 0, b.Dx()-1)
	y0 = clampInt(y0, 0, b.Dy()-1)
	y1 = clampInt(y1, 0, b.Dy()-1)

	c00 := premul(img.NRGBAAt(b.Min.X+x0, b.Min.Y+y0))
	c10 := premul(img.NRGBAAt(b.Min.X+x1, b.Min.Y+y0))
	c01 := premul(img.NRGBAAt(b.Min.X+x0, b.Min.Y+y1))
	c11 := premul(img.NRGBAAt(b.Min.X+x1, b.Min.Y+y1))

	var c [4]float64
	for i := range c {
		c[i] = lerp(lerp(c00[i], c10[i], tx), lerp(c01[i], c11[i], tx), ty)
	}
	if c[3] <= 0 {
		return color.NRGBA{}
	}
	return color.NRGBA{
		R: to8(c[0] / c[3] * 255),
		G: to8(c[1] / c[3] * 255),
		B: to8(c[2] / c[3] * 255),
		A: to8(c[3]),
	}
}

// over composites src scaled by opacity onto dst.
func over(src, dst color.NRGBA, opacity float64) color.NRGBA {
	sa := float64(src.A) / 255 * opacity
	da := float64(dst.A) / 255
	a := sa + da*(1-sa)
	if a <= 0 {
		return color.NRGBA{}
	}
	mix := func(s, d uint8) uint8 {
		return to8((float64(s)*sa + float64(d)*da*(1-sa)) / a)
	}
	return color.NRGBA{R: mix(src.R, dst.R), G: mix(src.G, dst.G), B: mix(src.B, dst.B), A: to8(a * 255)}
}

func premul(c color.NRGBA) [4]float64 {
	a := float64(c.A)
	return [4]float64{float64(c.R) * a / 255, float64(c.G) * a / 255, float64(c.B) * a / 255, a}
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func to8(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ParseColor parses "transparent", "#rgb", "#rrggbb" or "#rrggbbaa".
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" || s == "transparent" || s == "none" {
		return color.NRGBA{}, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
