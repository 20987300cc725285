package surface

import (
	"math"
	"sync"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
)

const (
	// TileSize is the world pixel size at zoom 0.
	TileSize = 256
	// MaxLatitude is the Web Mercator latitude cutoff.
	MaxLatitude = 85.0511287798066
)

// Mercator is a spherical Web Mercator viewport. Logical points are
// {X: longitude, Y: latitude} in degrees; viewport pixels are relative to the
// top-left of a viewport of the given size centered on Center.
type Mercator struct {
	host

	view struct {
		sync.RWMutex
		center geometry.Point
		zoom   float64
		size   geometry.Extent
	}
}

var _ overlay.Surface = (*Mercator)(nil)

// NewMercator returns a viewport of the given size centered on center.
func NewMercator(size geometry.Extent, center geometry.Point, zoom float64) *Mercator {
	m := &Mercator{}
	m.init()
	m.view.center = center
	m.view.zoom = zoom
	m.view.size = size
	return m
}

// WorldPixel returns the global pixel coordinate of ll at zoom.
func WorldPixel(ll geometry.Point, zoom float64) geometry.Point {
	size := TileSize * math.Exp2(zoom)
	lat := math.Max(-MaxLatitude, math.Min(MaxLatitude, ll.Y)) * math.Pi / 180
	x := (ll.X + 180) / 360 * size
	y := (1 - math.Log(math.Tan(lat)+1/math.Cos(lat))/math.Pi) / 2 * size
	return geometry.Pt(x, y)
}

// LatLng inverts WorldPixel.
func LatLng(p geometry.Point, zoom float64) geometry.Point {
	size := TileSize * math.Exp2(zoom)
	lon := p.X/size*360 - 180
	n := math.Pi - 2*math.Pi*p.Y/size
	lat := 180 / math.Pi * math.Atan(math.Sinh(n))
	return geometry.Pt(lon, lat)
}

func (m *Mercator) originLocked() geometry.Point {
	c := WorldPixel(m.view.center, m.view.zoom)
	return c.Sub(geometry.Pt(float64(m.view.size.Width)/2, float64(m.view.size.Height)/2))
}

// Project maps {lon, lat} to viewport pixels.
func (m *Mercator) Project(ll geometry.Point) geometry.Point {
	m.view.RLock()
	defer m.view.RUnlock()
	return WorldPixel(ll, m.view.zoom).Sub(m.originLocked())
}

// Unproject maps viewport pixels back to {lon, lat}.
func (m *Mercator) Unproject(p geometry.Point) geometry.Point {
	m.view.RLock()
	defer m.view.RUnlock()
	return LatLng(p.Add(m.originLocked()), m.view.zoom)
}

// SetView recenters and rezooms the viewport.
func (m *Mercator) SetView(center geometry.Point, zoom float64) {
	m.view.Lock()
	m.view.center = center
	m.view.zoom = zoom
	m.view.Unlock()
	m.notify()
}

// PanBy moves the viewport by (dx, dy) screen pixels.
func (m *Mercator) PanBy(dx, dy float64) {
	m.view.Lock()
	c := WorldPixel(m.view.center, m.view.zoom).Add(geometry.Pt(dx, dy))
	m.view.center = LatLng(c, m.view.zoom)
	m.view.Unlock()
	m.notify()
}

// Resize changes the viewport size, keeping the center.
func (m *Mercator) Resize(size geometry.Extent) {
	m.view.Lock()
	m.view.size = size
	m.view.Unlock()
	m.notify()
}

// View returns the current center, zoom and size.
func (m *Mercator) View() (center geometry.Point, zoom float64, size geometry.Extent) {
	m.view.RLock()
	defer m.view.RUnlock()
	return m.view.center, m.view.zoom, m.view.size
}
