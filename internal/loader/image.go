package loader

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// LoadImage fetches and fully decodes the raster at rawURL, applying EXIF
// orientation. An info.json URL is resolved to the full-size derivative of
// its image service. The decoded size is cached as the URL's extent.
func (l *HTTPLoader) LoadImage(ctx context.Context, rawURL string) (image.Image, error) {
	if isInfoJSON(rawURL, "") {
		rawURL = FullImageURL(rawURL)
	}
	rc, _, err := l.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	img, err := DecodeImage(rc)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	l.store(rawURL, extentOf(img.Bounds()))
	return img, nil
}

// FullImageURL returns the full-size IIIF derivative of an image service,
// given its id or info.json URL.
func FullImageURL(service string) string {
	base := strings.TrimSuffix(service, "/info.json")
	base = strings.TrimRight(base, "/")
	return base + "/full/max/0/default.jpg"
}

// DecodeImage decodes a raster from r with EXIF orientation applied.
func DecodeImage(r io.Reader) (image.Image, error) {
	return imaging.Decode(r, imaging.AutoOrientation(true))
}

func extentOf(r image.Rectangle) geometry.Extent {
	return geometry.Extent{Width: r.Dx(), Height: r.Dy()}
}
