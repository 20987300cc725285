// Package surface provides reference hosts for overlays: an affine pixel
// plane and a Web Mercator slippy map viewport.
package surface

import (
	"sort"
	"sync"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
)

// Sink receives every style a surface applies.
type Sink interface {
	Applied(el *overlay.Element, s overlay.Style)
	Removed(el *overlay.Element)
}

// host holds the element bookkeeping and listener fan-out shared by the
// concrete surfaces. Listeners are always invoked without mu held.
type host struct {
	mu        sync.Mutex
	elements  map[*overlay.Element]overlay.Style
	listeners map[uint64]func()
	nextID    uint64
	sink      Sink
}

func (h *host) init() {
	h.elements = make(map[*overlay.Element]overlay.Style)
	h.listeners = make(map[uint64]func())
}

// SetSink installs s; nil disables forwarding.
func (h *host) SetSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sink = s
}

// OnViewportChange registers fn and returns its unsubscribe function.
func (h *host) OnViewportChange(fn func()) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Insert adds el with an empty, invisible style.
func (h *host) Insert(el *overlay.Element) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.elements[el] = overlay.Style{TransformOrigin: overlay.TransformOrigin}
}

// Remove drops el.
func (h *host) Remove(el *overlay.Element) {
	h.mu.Lock()
	_, ok := h.elements[el]
	delete(h.elements, el)
	sink := h.sink
	h.mu.Unlock()
	if ok && sink != nil {
		sink.Removed(el)
	}
}

// Apply records s for el. A non-finite display transform is forced
// invisible. Styles for elements not inserted are ignored.
func (h *host) Apply(el *overlay.Element, s overlay.Style) {
	if !s.Display.Finite() {
		s.Visible = false
		s.Transform = ""
	}
	h.mu.Lock()
	if _, ok := h.elements[el]; !ok {
		h.mu.Unlock()
		return
	}
	h.elements[el] = s
	sink := h.sink
	h.mu.Unlock()
	if sink != nil {
		sink.Applied(el, s)
	}
}

// Style returns the last style applied to el.
func (h *host) Style(el *overlay.Element) (overlay.Style, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.elements[el]
	return s, ok
}

// Elements returns the inserted elements ordered by id.
func (h *host) Elements() []*overlay.Element {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]*overlay.Element, 0, len(h.elements))
	for el := range h.elements {
		out = append(out, el)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Listeners returns the number of subscribed viewport listeners.
func (h *host) Listeners() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// notify calls every listener. The caller must not hold mu.
func (h *host) notify() {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(), len(ids))
	for i, id := range ids {
		fns[i] = h.listeners[id]
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Plane is an affine surface: viewport = logical·Scale + Offset.
type Plane struct {
	host
	view struct {
		sync.RWMutex
		scale  float64
		offset geometry.Point
	}
}

var _ overlay.Surface = (*Plane)(nil)

// NewPlane returns an identity plane.
func NewPlane() *Plane {
	p := &Plane{}
	p.init()
	p.view.scale = 1
	return p
}

// Project maps a logical point into viewport pixels.
func (p *Plane) Project(pt geometry.Point) geometry.Point {
	p.view.RLock()
	defer p.view.RUnlock()
	return pt.Scale(p.view.scale, p.view.scale).Add(p.view.offset)
}

// SetTransform replaces scale and offset and notifies listeners.
func (p *Plane) SetTransform(scale float64, offset geometry.Point) {
	p.view.Lock()
	p.view.scale = scale
	p.view.offset = offset
	p.view.Unlock()
	p.notify()
}

// PanBy shifts the offset by (dx, dy) pixels.
func (p *Plane) PanBy(dx, dy float64) {
	p.view.Lock()
	p.view.offset = p.view.offset.Add(geometry.Pt(dx, dy))
	p.view.Unlock()
	p.notify()
}
