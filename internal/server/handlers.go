package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/loader"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
	"github.com/MeKo-Tech/mapwarp/internal/render"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
	"github.com/MeKo-Tech/mapwarp/internal/version"
)

// healthHandler returns server health status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.writeJSON(w, HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	})
}

// regionHandler extracts the pixel region and clip path of every selector in
// the request. A failing selector yields an item error, never a failed
// request.
func (s *Server) regionHandler(w http.ResponseWriter, r *http.Request) {
	var req RegionRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeRequestError(w, err)
		return
	}

	inputs := req.Selectors
	if req.Selector != "" {
		inputs = append([]string{req.Selector}, inputs...)
	}
	if len(inputs) == 0 && len(req.W3C) == 0 {
		s.writeErrorResponse(w, "no selectors given", http.StatusBadRequest)
		return
	}

	results := make([]RegionResult, 0, len(inputs)+len(req.W3C))
	for _, o := range s.extractor.ExtractAll(inputs) {
		results = append(results, regionResult(o.Input, o.Result, o.Err, req.Base))
	}
	for _, w3 := range req.W3C {
		sel, err := w3.Selector()
		var res selector.Result
		if err == nil {
			res, err = s.extractor.Extract(sel)
		}
		results = append(results, regionResult(w3.Value, res, err, req.Base))
	}

	s.writeJSON(w, RegionResponse{Success: true, Results: results})
}

func regionResult(input string, res selector.Result, err error, base string) RegionResult {
	if err != nil {
		extractTotal.WithLabelValues("unknown", "error").Inc()
		return RegionResult{Input: input, Error: err.Error()}
	}
	extractTotal.WithLabelValues(string(res.Kind), "ok").Inc()
	out := RegionResult{
		Input:    input,
		Kind:     res.Kind,
		Region:   res.Region.String(),
		X:        res.Region.X,
		Y:        res.Region.Y,
		Width:    res.Region.Width,
		Height:   res.Region.Height,
		ClipPath: res.ClipPath,
	}
	if base != "" {
		out.ImageURL = res.Region.ImageURL(base)
	}
	return out
}

// transformHandler computes the display transform for a quad given in
// viewport pixels. The extent comes from width/height or, when missing, from
// loading the source.
func (s *Server) transformHandler(w http.ResponseWriter, r *http.Request) {
	var req TransformRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		transformTotal.WithLabelValues("error").Inc()
		s.writeRequestError(w, err)
		return
	}

	ext := geometry.Extent{Width: req.Width, Height: req.Height}
	if !ext.Known() {
		if req.Source == "" {
			transformTotal.WithLabelValues("error").Inc()
			s.writeErrorResponse(w, "width and height or source required", http.StatusBadRequest)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		var err error
		ext, err = s.loadExtent(ctx, req.Source)
		if err != nil {
			transformTotal.WithLabelValues("error").Inc()
			s.writeRequestError(w, err)
			return
		}
	}

	d := overlay.ComputeDisplay(req.Corners.Points(), ext)
	if !d.Finite() {
		transformTotal.WithLabelValues("degenerate").Inc()
		s.writeErrorResponse(w, fmt.Sprintf("degenerate corners %s: no finite projection", req.Corners), http.StatusUnprocessableEntity)
		return
	}

	transformTotal.WithLabelValues("ok").Inc()
	s.writeJSON(w, TransformResponse{
		Success: true,
		Extent:  ext,
		Style:   newStyleDTO(overlay.StyleFor(d)),
	})
}

// renderHandler rasterizes the source warped onto the corners and answers
// with a PNG. The container origin and CSS transform travel in headers.
func (s *Server) renderHandler(w http.ResponseWriter, r *http.Request) {
	var req RenderRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeRequestError(w, err)
		return
	}
	if req.Source == "" {
		s.writeErrorResponse(w, "source is required", http.StatusBadRequest)
		return
	}
	opts, err := s.renderOptions(req)
	if err != nil {
		s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}

	var sel *selector.Result
	if req.Selector != "" {
		res, err := s.extractor.ExtractString(req.Selector)
		if err != nil {
			s.writeErrorResponse(w, err.Error(), http.StatusBadRequest)
			return
		}
		sel = &res
	}

	if err := s.checkSource(req.Source); err != nil {
		s.writeRequestError(w, err)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()
	img, err := s.loader.LoadImage(ctx, req.Source)
	if err != nil {
		s.writeRequestError(w, loadError(req.Source, err))
		return
	}

	start := time.Now()
	var res *render.Result
	if sel != nil {
		res, err = render.WarpSelection(img, *sel, req.Corners, opts)
	} else {
		res, err = render.Warp(img, req.Corners, opts)
	}
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, render.ErrDegenerate), errors.Is(err, render.ErrEmptySource):
			status = http.StatusUnprocessableEntity
		case errors.Is(err, render.ErrCanvasTooLarge):
			status = http.StatusRequestEntityTooLarge
		}
		s.writeErrorResponse(w, err.Error(), status)
		return
	}
	renderDuration.WithLabelValues(string(opts.Sampling)).Observe(time.Since(start).Seconds())

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("X-Mapwarp-Origin", fmt.Sprintf("%d,%d", res.Origin.X, res.Origin.Y))
	w.Header().Set("X-Mapwarp-Transform", res.Display.CSS())
	if err := imaging.Encode(w, res.Image, imaging.PNG); err != nil {
		s.log().Error("Failed to encode rendered image", "source", req.Source, "error", err)
	}
}

// renderOptions overlays request fields on the server defaults.
func (s *Server) renderOptions(req RenderRequest) (render.Options, error) {
	opts := s.render
	if req.Sampling != "" {
		sampling, err := render.ParseSampling(req.Sampling)
		if err != nil {
			return opts, err
		}
		opts.Sampling = sampling
	}
	if req.Background != "" {
		bg, err := render.ParseColor(req.Background)
		if err != nil {
			return opts, err
		}
		opts.Background = bg
	}
	if req.Opacity != nil {
		if *req.Opacity < 0 || *req.Opacity > 1 {
			return opts, fmt.Errorf("opacity must be in [0,1], got %v", *req.Opacity)
		}
		opts.Opacity = req.Opacity
	}
	if req.MaxSize < 0 {
		return opts, fmt.Errorf("max_size must not be negative, got %d", req.MaxSize)
	}
	if req.MaxSize > 0 {
		opts.MaxSize = req.MaxSize
	}
	return opts, nil
}

func (s *Server) loadExtent(ctx context.Context, src string) (geometry.Extent, error) {
	if err := s.checkSource(src); err != nil {
		return geometry.Extent{}, err
	}
	ext, err := s.loader.Load(ctx, src)
	if err != nil {
		return geometry.Extent{}, loadError(src, err)
	}
	return ext, nil
}

// checkSource restricts remote requests to http(s) URLs unless local files
// were allowed.
func (s *Server) checkSource(src string) error {
	if s.allowLocal {
		return nil
	}
	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return &requestError{status: http.StatusBadRequest, msg: fmt.Sprintf("source must be an http(s) URL: %q", src)}
	}
	return nil
}

// loadError maps loader failures to HTTP statuses.
func loadError(src string, err error) error {
	msg := fmt.Sprintf("load %s: %v", src, err)
	var herr loader.HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &requestError{status: http.StatusGatewayTimeout, msg: msg}
	case errors.As(err, &herr):
		return &requestError{status: http.StatusBadGateway, msg: msg}
	case errors.Is(err, os.ErrNotExist):
		return &requestError{status: http.StatusNotFound, msg: msg}
	case errors.Is(err, loader.ErrUnsupportedScheme):
		return &requestError{status: http.StatusBadRequest, msg: msg}
	default:
		return &requestError{status: http.StatusUnprocessableEntity, msg: msg}
	}
}
