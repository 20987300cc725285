package testutil

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSize represents common image dimensions.
type ImageSize struct {
	Width  int
	Height int
}

var (
	// Common test image sizes.
	SmallSize  = ImageSize{160, 120}
	MediumSize = ImageSize{640, 480}
	LargeSize  = ImageSize{1024, 768}
)

// Corner marker colors of a generated map sheet, in quad order.
var (
	TopLeftColor     = color.NRGBA{R: 255, A: 255}
	TopRightColor    = color.NRGBA{G: 255, A: 255}
	BottomRightColor = color.NRGBA{B: 255, A: 255}
	BottomLeftColor  = color.NRGBA{R: 255, G: 255, A: 255}
)

// MapSheetConfig describes a synthetic scanned map: a paper background with
// a grid, a centered label and a colored square in each corner so warps can
// be checked for orientation.
type MapSheetConfig struct {
	Size       ImageSize
	Background color.Color
	GridColor  color.Color
	// GridStep is the grid spacing in pixels; zero draws no grid.
	GridStep int
	// Marker is the side of the corner squares in pixels.
	Marker   int
	Label    string
	FontFace font.Face
}

// DefaultMapSheetConfig returns a small sheet with a 20 pixel grid.
func DefaultMapSheetConfig() MapSheetConfig {
	return MapSheetConfig{
		Size:       SmallSize,
		Background: color.NRGBA{R: 245, G: 235, B: 210, A: 255},
		GridColor:  color.NRGBA{R: 120, G: 110, B: 90, A: 255},
		GridStep:   20,
		Marker:     10,
		Label:      "Sheet 1",
		FontFace:   basicfont.Face7x13,
	}
}

// GenerateMapSheet renders the sheet described by cfg.
func GenerateMapSheet(cfg MapSheetConfig) *image.NRGBA {
	w, h := cfg.Size.Width, cfg.Size.Height
	img := imaging.New(w, h, cfg.Background)

	if cfg.GridStep > 0 {
		grid := &image.Uniform{cfg.GridColor}
		for x := 0; x < w; x += cfg.GridStep {
			draw.Draw(img, image.Rect(x, 0, x+1, h), grid, image.Point{}, draw.Src)
		}
		for y := 0; y < h; y += cfg.GridStep {
			draw.Draw(img, image.Rect(0, y, w, y+1), grid, image.Point{}, draw.Src)
		}
	}

	if m := cfg.Marker; m > 0 {
		fill(img, image.Rect(0, 0, m, m), TopLeftColor)
		fill(img, image.Rect(w-m, 0, w, m), TopRightColor)
		fill(img, image.Rect(w-m, h-m, w, h), BottomRightColor)
		fill(img, image.Rect(0, h-m, m, h), BottomLeftColor)
	}

	if cfg.Label != "" && cfg.FontFace != nil {
		drawer := &font.Drawer{
			Dst:  img,
			Src:  image.Black,
			Face: cfg.FontFace,
		}
		textWidth := font.MeasureString(cfg.FontFace, cfg.Label).Ceil()
		textHeight := cfg.FontFace.Metrics().Height.Ceil()
		drawer.Dot = fixed.P((w-textWidth)/2, (h+textHeight)/2)
		drawer.DrawString(cfg.Label)
	}

	return img
}

// Solid returns a w×h image filled with c.
func Solid(w, h int, c color.Color) *image.NRGBA {
	return imaging.New(w, h, c)
}

func fill(img draw.Image, r image.Rectangle, c color.Color) {
	draw.Draw(img, r, &image.Uniform{c}, image.Point{}, draw.Src)
}

// WriteImage saves img to path, creating the directory. The format follows
// the file extension.
func WriteImage(path string, img image.Image) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save image %s: %w", path, err)
	}
	return nil
}

// SaveImage saves an image to the specified path.
func SaveImage(t *testing.T, img image.Image, path string) {
	t.Helper()
	require.NoError(t, WriteImage(path, img))
}

// LoadImageFile loads an image from the specified path (non-testing version).
func LoadImageFile(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image file %s: %w", path, err)
	}
	return img, nil
}

// LoadImage loads an image from the specified path.
func LoadImage(t *testing.T, path string) image.Image {
	t.Helper()

	img, err := LoadImageFile(path)
	require.NoError(t, err)
	return img
}

// CompareImages compares two images and returns true if they are similar.
// tolerance is the mean per-pixel difference relative to the maximum.
func CompareImages(img1, img2 image.Image, tolerance float64) bool {
	bounds1 := img1.Bounds()
	bounds2 := img2.Bounds()

	if bounds1.Size() != bounds2.Size() {
		return false
	}
	if bounds1.Empty() {
		return true
	}

	var totalDiff float64
	var pixelCount float64

	for y := range bounds1.Dy() {
		for x := range bounds1.Dx() {
			r1, g1, b1, a1 := img1.At(bounds1.Min.X+x, bounds1.Min.Y+y).RGBA()
			r2, g2, b2, a2 := img2.At(bounds2.Min.X+x, bounds2.Min.Y+y).RGBA()

			dr := float64(r1) - float64(r2)
			dg := float64(g1) - float64(g2)
			db := float64(b1) - float64(b2)
			da := float64(a1) - float64(a2)

			totalDiff += math.Sqrt(dr*dr + dg*dg + db*db + da*da)
			pixelCount++
		}
	}

	avgDiff := totalDiff / pixelCount
	maxDiff := math.Sqrt(4 * 65535 * 65535) // Maximum possible difference

	return (avgDiff / maxDiff) <= tolerance
}
