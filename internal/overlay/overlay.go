// Package overlay keeps a raster element warped onto four logical control
// points of a pan/zoomable surface.
//
// An Overlay recomputes its DisplayTransform on attach, on Reposition, on
// every viewport change of its surface and when the source extent finishes
// loading. All of these may arrive on different goroutines; each overlay
// serializes them behind its own mutex.
package overlay

import (
	"context"
	"fmt"
	"sync"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// Surface is the host an overlay is attached to.
//
// Project maps a logical point to viewport pixels. OnViewportChange registers
// a listener invoked after every pan, zoom or reset and returns a function
// that unsubscribes it. Listeners must be called without holding any lock the
// surface's Apply, Insert or Remove also take.
type Surface interface {
	Project(p geometry.Point) geometry.Point
	OnViewportChange(fn func()) (unsubscribe func())
	Insert(el *Element)
	Remove(el *Element)
	Apply(el *Element, s Style)
}

// Element is the host-side handle of an overlay's image element.
type Element struct {
	ID          string  `json:"id"`
	Source      string  `json:"source"`
	Opacity     float64 `json:"opacity"`
	Interactive bool    `json:"interactive"`
	ClipPath    string  `json:"clip_path,omitempty"`
}

// Options configure an overlay.
type Options struct {
	// ID names the element; registries key overlays by it.
	ID string
	// Opacity in [0, 1]. Nil means fully opaque.
	Opacity     *float64
	Interactive bool
	// ClipPath is a CSS clip-path such as the one a selector extraction
	// produces.
	ClipPath string
	// Loader resolves the extent of URL sources.
	Loader Loader
	// OnLoadError is called on its own goroutine when a load fails. The
	// overlay stays deferred until Reposition or Retry.
	OnLoadError func(error)
}

// Opacity returns a pointer to v for use in Options.
func Opacity(v float64) *float64 { return &v }

// Overlay is a live projective overlay. The zero value is not usable; call New.
type Overlay struct {
	mu sync.Mutex

	src  ImageSource
	quad geometry.Quad
	opts Options
	el   *Element

	surface     Surface
	unsubscribe func()
	// gen advances on every attach and detach; listener and load callbacks
	// carrying an older value are dropped.
	gen uint64

	extent  geometry.Extent
	loading bool
	cancel  context.CancelFunc
	loadErr error

	display  DisplayTransform
	computed bool
}

// New creates a detached overlay for src warped onto tl, tr, br, bl. The
// coordinates are not validated; degenerate corners surface as a non-finite
// DisplayTransform on the first recompute.
func New(src ImageSource, tl, tr, br, bl geometry.Point, opts Options) *Overlay {
	opacity := 1.0
	if opts.Opacity != nil && *opts.Opacity >= 0 && *opts.Opacity <= 1 {
		opacity = *opts.Opacity
	}
	return &Overlay{
		src:    src,
		quad:   geometry.NewQuad(tl, tr, br, bl),
		opts:   opts,
		extent: src.Extent,
		el: &Element{
			ID:          opts.ID,
			Source:      src.URL,
			Opacity:     opacity,
			Interactive: opts.Interactive,
			ClipPath:    opts.ClipPath,
		},
	}
}

// Attach inserts the element into s, subscribes to its viewport changes,
// starts the extent load when needed and recomputes immediately.
func (o *Overlay) Attach(s Surface) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.surface != nil {
		return ErrAlreadyAttached
	}
	o.gen++
	o.surface = s
	s.Insert(o.el)

	gen := o.gen
	o.unsubscribe = s.OnViewportChange(func() { o.viewportChanged(gen) })

	if !o.extent.Known() {
		o.startLoadLocked()
	}
	o.recomputeLocked()
	return nil
}

// Detach unsubscribes from the surface, removes the element and cancels an
// in-flight load. No recompute runs afterwards.
func (o *Overlay) Detach() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.surface == nil {
		return ErrNotAttached
	}
	if o.unsubscribe != nil {
		o.unsubscribe()
		o.unsubscribe = nil
	}
	o.surface.Remove(o.el)
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.loading = false
	o.gen++
	o.surface = nil
	return nil
}

// Reposition replaces all four corners at once and recomputes. After a failed
// load it also re-issues the load.
func (o *Overlay) Reposition(tl, tr, br, bl geometry.Point) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.quad = geometry.NewQuad(tl, tr, br, bl)
	if o.surface == nil {
		return
	}
	if o.loadErr != nil && !o.loading {
		o.startLoadLocked()
	}
	o.recomputeLocked()
}

// Retry re-issues a failed or never started load. It is a no-op while a load
// is running or once the extent is known.
func (o *Overlay) Retry() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.surface == nil {
		return ErrNotAttached
	}
	if o.loading || o.extent.Known() {
		return nil
	}
	o.startLoadLocked()
	return nil
}

func (o *Overlay) startLoadLocked() {
	o.loadErr = nil
	if o.opts.Loader == nil {
		o.loadErr = &LoadError{URL: o.src.URL, Err: ErrNoLoader}
		o.notifyLoadError(o.loadErr)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.loading = true

	gen, url, loader := o.gen, o.src.URL, o.opts.Loader
	go func() {
		ext, err := loader.Load(ctx, url)
		if err == nil && !ext.Known() {
			err = fmt.Errorf("invalid extent %s", ext)
		}
		o.loadDone(gen, ext, err)
	}()
}

func (o *Overlay) loadDone(gen uint64, ext geometry.Extent, err error) {
	o.mu.Lock()
	if gen != o.gen || o.surface == nil {
		o.mu.Unlock()
		return
	}
	o.loading = false
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	if err != nil {
		o.loadErr = &LoadError{URL: o.src.URL, Err: err}
		lerr := o.loadErr
		o.mu.Unlock()
		o.notifyLoadError(lerr)
		return
	}
	o.extent = ext
	o.recomputeLocked()
	o.mu.Unlock()
}

func (o *Overlay) notifyLoadError(err error) {
	if o.opts.OnLoadError != nil {
		go o.opts.OnLoadError(err)
	}
}

func (o *Overlay) viewportChanged(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.gen || o.surface == nil {
		return
	}
	o.recomputeLocked()
}

func (o *Overlay) recomputeLocked() {
	if o.surface == nil {
		return
	}
	projected := o.quad.Map(o.surface.Project).Points()
	o.display = ComputeDisplay(projected, o.extent)
	o.computed = true
	o.surface.Apply(o.el, StyleFor(o.display))
}

// Display returns the last computed transform. ok is false before the first
// recompute.
func (o *Overlay) Display() (d DisplayTransform, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.display, o.computed
}

// Quad returns the current logical corners.
func (o *Overlay) Quad() geometry.Quad {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.quad
}

// Extent returns the source extent, zero while unknown.
func (o *Overlay) Extent() geometry.Extent {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.extent
}

// Deferred reports whether the extent is still unknown.
func (o *Overlay) Deferred() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return !o.extent.Known()
}

// Loading reports whether an extent load is in flight.
func (o *Overlay) Loading() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loading
}

// LoadErr returns the error of the last failed load, if any.
func (o *Overlay) LoadErr() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.loadErr
}

// Attached reports whether the overlay is attached to a surface.
func (o *Overlay) Attached() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.surface != nil
}

// Element returns the host element handle.
func (o *Overlay) Element() *Element { return o.el }
