package overlay

import (
	"context"
	"image"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// ImageSource identifies the raster an overlay warps. Either the URL must be
// loaded to learn the extent, or the extent is already known.
type ImageSource struct {
	URL    string
	Extent geometry.Extent
}

// FromURL returns a source whose extent is resolved by the overlay's Loader.
func FromURL(url string) ImageSource {
	return ImageSource{URL: url}
}

// FromExtent returns a source with a known extent. The URL is only passed
// through to the host element.
func FromExtent(url string, e geometry.Extent) ImageSource {
	return ImageSource{URL: url, Extent: e}
}

// FromImage returns a source sized after an already decoded raster.
func FromImage(url string, img image.Image) ImageSource {
	s := img.Bounds().Size()
	return ImageSource{URL: url, Extent: geometry.Extent{Width: s.X, Height: s.Y}}
}

// NeedsLoad reports whether the extent is still unknown.
func (s ImageSource) NeedsLoad() bool {
	return !s.Extent.Known()
}

// Loader resolves the natural pixel extent of an image URL.
type Loader interface {
	Load(ctx context.Context, url string) (geometry.Extent, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, url string) (geometry.Extent, error)

// Load calls f(ctx, url).
func (f LoaderFunc) Load(ctx context.Context, url string) (geometry.Extent, error) {
	return f(ctx, url)
}
