package selector

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// Parse recognizes a selector string. Accepted forms:
//
//	xywh=x,y,w,h              media fragment, pixel unit implied
//	xywh=pixel:x,y,w,h        media fragment
//	https://host/img#xywh=... URL carrying a media fragment
//	<svg>...</svg>            SVG markup; the first polygon, polyline, rect
//	                          or path element is used
func Parse(s string) (Selector, error) {
	t := strings.TrimSpace(s)
	switch {
	case t == "":
		return nil, parseErr(s, "empty selector", nil)
	case strings.HasPrefix(t, "<"):
		return parseSVG(t)
	case strings.HasPrefix(t, "xywh="), strings.Contains(t, "#xywh="), strings.Contains(t, "&xywh="):
		return parseFragment(t)
	default:
		return nil, parseErr(s, "neither a media fragment nor SVG", nil)
	}
}

// parseFragment parses the xywh parameter of a media fragment. Anything up to
// a '#' is ignored, as are other fragment parameters.
func parseFragment(s string) (Selector, error) {
	frag := strings.TrimSpace(s)
	if i := strings.LastIndexByte(frag, '#'); i >= 0 {
		frag = frag[i+1:]
	}
	var value string
	found := false
	for _, param := range strings.Split(frag, "&") {
		if v, ok := strings.CutPrefix(param, "xywh="); ok {
			value, found = v, true
			break
		}
	}
	if !found {
		return nil, parseErr(s, "missing xywh parameter", nil)
	}

	switch {
	case strings.HasPrefix(value, "percent:"):
		return nil, parseErr(s, "percent fragments need the image size", ErrUnsupportedUnit)
	case strings.HasPrefix(value, "pixel:"):
		value = strings.TrimPrefix(value, "pixel:")
	case strings.Contains(value, ":"):
		return nil, parseErr(s, "unknown unit", ErrUnsupportedUnit)
	}

	parts := strings.Split(value, ",")
	if len(parts) != 4 {
		return nil, parseErr(s, fmt.Sprintf("xywh needs 4 values, got %d", len(parts)), nil)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, parseErr(s, "bad xywh value", err)
		}
		v[i] = f
	}
	if v[2] < 0 || v[3] < 0 {
		return nil, parseErr(s, "negative width or height", nil)
	}
	return PixelFragment{X: v[0], Y: v[1], W: v[2], H: v[3]}, nil
}

// parseSVG finds the first shape element of an SVG document.
func parseSVG(s string) (Selector, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil, parseErr(s, "no polygon, polyline, rect or path element", nil)
		}
		if err != nil {
			return nil, parseErr(s, "malformed SVG", err)
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch el.Name.Local {
		case "polygon", "polyline":
			pts, err := parsePoints(attr(el, "points"))
			if err != nil {
				return nil, parseErr(s, "bad points attribute", err)
			}
			return SvgPolygon{Points: pts}, nil
		case "rect":
			q, err := parseRect(el)
			if err != nil {
				return nil, parseErr(s, "bad rect", err)
			}
			p := q.Points()
			return SvgPolygon{Points: p[:]}, nil
		case "path":
			d := strings.TrimSpace(attr(el, "d"))
			if _, err := parsePathData(d); err != nil {
				return nil, parseErr(s, "bad path data", err)
			}
			return SvgPath{Data: d}, nil
		}
	}
}

func attr(el xml.StartElement, name string) string {
	for _, a := range el.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func parseRect(el xml.StartElement) (geometry.Quad, error) {
	var v [4]float64
	for i, name := range []string{"x", "y", "width", "height"} {
		raw := strings.TrimSuffix(strings.TrimSpace(attr(el, name)), "px")
		if raw == "" {
			if i < 2 {
				continue
			}
			return geometry.Quad{}, fmt.Errorf("missing %s", name)
		}
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return geometry.Quad{}, fmt.Errorf("%s: %w", name, err)
		}
		v[i] = f
	}
	return geometry.RectQuad(v[0], v[1], v[2], v[3]), nil
}

// parsePoints parses an SVG points list: coordinate pairs separated by
// whitespace and/or commas.
func parsePoints(s string) ([]geometry.Point, error) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	if len(fields) == 0 {
		return nil, errors.New("no coordinates")
	}
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("odd number of coordinates (%d)", len(fields))
	}
	pts := make([]geometry.Point, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		x, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(fields[i+1], 64)
		if err != nil {
			return nil, err
		}
		pts = append(pts, geometry.Pt(x, y))
	}
	return pts, nil
}
