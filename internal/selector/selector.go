// Package selector turns IIIF and W3C annotation target selectors into pixel
// regions for IIIF Image API region requests, plus a percentage clip-path
// polygon for non-rectangular selections.
package selector

import (
	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// Kind names a selector variant.
type Kind string

const (
	KindPixelFragment Kind = "pixel_fragment"
	KindSvgPolygon    Kind = "svg_polygon"
	KindSvgPath       Kind = "svg_path"
)

// Selector is the parsed form of an annotation target selector. It is one of
// PixelFragment, SvgPolygon or SvgPath.
type Selector interface {
	Kind() Kind
	sealed()
}

// PixelFragment is a rectangular media fragment with origin (X, Y) and size
// W×H in image pixels.
type PixelFragment struct {
	X, Y, W, H float64
}

// SvgPolygon is a closed polygon in image pixels.
type SvgPolygon struct {
	Points []geometry.Point
}

// SvgPath is raw SVG path data in image pixels.
type SvgPath struct {
	Data string
}

func (PixelFragment) Kind() Kind { return KindPixelFragment }
func (SvgPolygon) Kind() Kind    { return KindSvgPolygon }
func (SvgPath) Kind() Kind       { return KindSvgPath }

func (PixelFragment) sealed() {}
func (SvgPolygon) sealed()    {}
func (SvgPath) sealed()       {}

// W3C is a W3C Web Annotation selector as found in annotation JSON.
type W3C struct {
	Type       string `json:"type"`
	Value      string `json:"value"`
	ConformsTo string `json:"conformsTo,omitempty"`
}

// Selector parses the W3C selector.
func (w W3C) Selector() (Selector, error) {
	return FromW3C(w.Type, w.Value)
}

// FromW3C parses the value of a FragmentSelector or SvgSelector.
func FromW3C(typ, value string) (Selector, error) {
	switch typ {
	case "FragmentSelector":
		return parseFragment(value)
	case "SvgSelector":
		return parseSVG(value)
	default:
		return nil, parseErr(value, "unsupported selector type "+typ, nil)
	}
}
