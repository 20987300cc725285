package selector

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// Config tunes extraction.
type Config struct {
	// PathStep is the arc-length sampling step for SVG paths, in pixels.
	PathStep float64 `mapstructure:"path_step" yaml:"path_step" json:"path_step"`
	// SimplifyTolerance enables Douglas-Peucker simplification of sampled
	// paths when positive.
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance" yaml:"simplify_tolerance" json:"simplify_tolerance"`
	// PercentPrecision is the number of decimals kept in clip-path
	// percentages.
	PercentPrecision int `mapstructure:"percent_precision" yaml:"percent_precision" json:"percent_precision"`
}

// DefaultConfig returns unit path steps, no simplification and four decimals.
func DefaultConfig() Config {
	return Config{PathStep: 1, PercentPrecision: 4}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PathStep <= 0 || math.IsNaN(c.PathStep) {
		return fmt.Errorf("path_step must be positive, got %v", c.PathStep)
	}
	if c.SimplifyTolerance < 0 {
		return fmt.Errorf("simplify_tolerance must not be negative, got %v", c.SimplifyTolerance)
	}
	if c.PercentPrecision < 0 || c.PercentPrecision > 10 {
		return fmt.Errorf("percent_precision must be in [0,10], got %d", c.PercentPrecision)
	}
	return nil
}

// Region is an integer pixel rectangle.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String formats the region as an IIIF region parameter, "x,y,w,h".
func (r Region) String() string {
	return fmt.Sprintf("%d,%d,%d,%d", r.X, r.Y, r.Width, r.Height)
}

// ImageURL returns the IIIF Image API request for the region at full size.
// base is the image service id and may end in "/info.json".
func (r Region) ImageURL(base string) string {
	base = strings.TrimSuffix(base, "/info.json")
	base = strings.TrimRight(base, "/")
	return base + "/" + r.String() + "/full/0/default.jpg"
}

// Result is the outcome of extracting one selector.
type Result struct {
	Kind   Kind   `json:"kind"`
	Region Region `json:"region"`
	// ClipPath is a CSS polygon() in percent of the region, empty for
	// rectangular selectors.
	ClipPath string `json:"clip_path,omitempty"`
	// ClipPolygon holds the same polygon as numbers, in percent.
	ClipPolygon []geometry.Point `json:"clip_polygon,omitempty"`
}

// Extractor extracts regions with a fixed configuration. It holds no state
// between calls.
type Extractor struct {
	cfg Config
}

// NewExtractor returns an extractor. A non-positive PathStep or a negative
// PercentPrecision falls back to DefaultConfig.
func NewExtractor(cfg Config) *Extractor {
	def := DefaultConfig()
	if cfg.PathStep <= 0 {
		cfg.PathStep = def.PathStep
	}
	if cfg.PercentPrecision < 0 {
		cfg.PercentPrecision = def.PercentPrecision
	}
	return &Extractor{cfg: cfg}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config { return e.cfg }

// ExtractRegion computes the region of sel with the default configuration.
func ExtractRegion(sel Selector) (Result, error) {
	return NewExtractor(DefaultConfig()).Extract(sel)
}

// Extract computes the pixel region and clip path of sel.
func (e *Extractor) Extract(sel Selector) (Result, error) {
	switch s := sel.(type) {
	case PixelFragment:
		return e.fragment(s)
	case SvgPolygon:
		return e.polygon(KindSvgPolygon, s.Points)
	case SvgPath:
		segs, err := parsePathData(s.Data)
		if err != nil {
			return Result{}, parseErr(s.Data, "bad path data", err)
		}
		pts := samplePath(segs, e.cfg.PathStep)
		if e.cfg.SimplifyTolerance > 0 && len(pts) > 3 {
			pts = geometry.SimplifyPolygon(pts, e.cfg.SimplifyTolerance)
		}
		return e.polygon(KindSvgPath, pts)
	case nil:
		return Result{}, parseErr("", "nil selector", nil)
	default:
		return Result{}, parseErr(fmt.Sprintf("%T", sel), "unknown selector variant", nil)
	}
}

// ExtractString parses and extracts s.
func (e *Extractor) ExtractString(s string) (Result, error) {
	sel, err := Parse(s)
	if err != nil {
		return Result{}, err
	}
	return e.Extract(sel)
}

// Outcome pairs an input with its result or error.
type Outcome struct {
	Input  string
	Result Result
	Err    error
}

// ExtractAll extracts every input independently; a failing input never
// affects the others.
func (e *Extractor) ExtractAll(inputs []string) []Outcome {
	out := make([]Outcome, len(inputs))
	for i, in := range inputs {
		res, err := e.ExtractString(in)
		out[i] = Outcome{Input: in, Result: res, Err: err}
	}
	return out
}

func (e *Extractor) fragment(f PixelFragment) (Result, error) {
	vals := []float64{f.X, f.Y, f.W, f.H}
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Result{}, parseErr(fmt.Sprint(vals), "non-finite fragment value", nil)
		}
	}
	x := int(math.Round(f.X))
	y := int(math.Round(f.Y))
	right := x + int(math.Round(f.W))
	bottom := y + int(math.Round(f.H))
	r := Region{X: x, Y: y, Width: right - x, Height: bottom - y}
	if r.Width <= 0 || r.Height <= 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyRegion, r)
	}
	return Result{Kind: KindPixelFragment, Region: r}, nil
}

func (e *Extractor) polygon(kind Kind, pts []geometry.Point) (Result, error) {
	pts = geometry.DedupeConsecutive(pts)
	for _, p := range pts {
		if !p.Finite() {
			return Result{}, parseErr(p.String(), "non-finite coordinate", nil)
		}
	}
	if len(pts) < 3 {
		return Result{}, fmt.Errorf("%w: %d distinct points", ErrEmptyRegion, len(pts))
	}

	box := geometry.BoundingBox(pts...)
	x0, y0 := math.Floor(box.MinX), math.Floor(box.MinY)
	x1, y1 := math.Ceil(box.MaxX), math.Ceil(box.MaxY)
	r := Region{X: int(x0), Y: int(y0), Width: int(x1 - x0), Height: int(y1 - y0)}
	if box.Width() == 0 || box.Height() == 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrEmptyRegion, r)
	}

	w, h := x1-x0, y1-y0
	scale := math.Pow(10, float64(e.cfg.PercentPrecision))
	clip := make([]geometry.Point, len(pts))
	parts := make([]string, len(pts))
	for i, p := range pts {
		px := math.Round((p.X-x0)/w*100*scale) / scale
		py := math.Round((p.Y-y0)/h*100*scale) / scale
		clip[i] = geometry.Pt(px, py)
		parts[i] = formatPercent(px) + " " + formatPercent(py)
	}
	return Result{
		Kind:        kind,
		Region:      r,
		ClipPath:    "polygon(" + strings.Join(parts, ", ") + ")",
		ClipPolygon: clip,
	}, nil
}

// formatPercent prints v with a % suffix. Zero is printed unitless, which CSS
// accepts for lengths and percentages.
func formatPercent(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', -1, 64) + "%"
}
