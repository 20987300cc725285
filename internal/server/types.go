package server

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
	"github.com/MeKo-Tech/mapwarp/internal/loader"
	"github.com/MeKo-Tech/mapwarp/internal/overlay"
	"github.com/MeKo-Tech/mapwarp/internal/projective"
	"github.com/MeKo-Tech/mapwarp/internal/render"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
)

// ImageLoader defines the methods needed by the server to resolve sources.
type ImageLoader interface {
	Load(ctx context.Context, url string) (geometry.Extent, error)
	LoadImage(ctx context.Context, url string) (image.Image, error)
}

// Server holds the HTTP server state and dependencies.
type Server struct {
	extractor   *selector.Extractor
	loader      ImageLoader
	render      render.Options
	corsOrigin  string
	maxBody     int64
	timeout     time.Duration
	rateLimiter *RateLimiter
	allowLocal  bool
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[*session]struct{}
}

// Config holds server configuration.
type Config struct {
	CORSOrigin   string
	MaxBodyBytes int64
	Timeout      time.Duration
	Extract      selector.Config
	Render       render.Options
	// Loader resolves image sources; an HTTPLoader with defaults is used
	// when nil.
	Loader ImageLoader
	// AllowLocalFiles lets request sources name file:// URLs and paths.
	AllowLocalFiles bool
	RateLimit       RateLimitConfig
	Logger          *slog.Logger
}

// RateLimitConfig holds per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	RequestsPerHour   int
	MaxRequestsPerDay int
}

// Response types for API endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Time    string `json:"time"`
}

// ErrorResponse is the body of every failed JSON request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// RegionRequest asks for the regions of one or more selectors. Selector and
// Selectors hold compact strings as accepted by selector.Parse; W3C holds
// annotation selector objects.
type RegionRequest struct {
	Selector  string         `json:"selector,omitempty"`
	Selectors []string       `json:"selectors,omitempty"`
	W3C       []selector.W3C `json:"w3c,omitempty"`
	// Base is an image service id; when set every result carries the IIIF
	// region request URL.
	Base string `json:"base,omitempty"`
}

// RegionResult is the outcome for one selector. Error is set instead of the
// region fields when extraction failed.
type RegionResult struct {
	Input    string        `json:"input"`
	Kind     selector.Kind `json:"kind,omitempty"`
	Region   string        `json:"region,omitempty"`
	X        int           `json:"x"`
	Y        int           `json:"y"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	ClipPath string        `json:"clip_path,omitempty"`
	ImageURL string        `json:"image_url,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type RegionResponse struct {
	Success bool           `json:"success"`
	Results []RegionResult `json:"results"`
}

// TransformRequest computes the display transform of an image with the given
// extent (or the extent of Source) onto Corners in viewport pixels.
type TransformRequest struct {
	Corners geometry.Quad `json:"corners"`
	Width   int           `json:"width,omitempty"`
	Height  int           `json:"height,omitempty"`
	Source  string        `json:"source,omitempty"`
}

type TransformResponse struct {
	Success bool            `json:"success"`
	Extent  geometry.Extent `json:"extent"`
	Style   StyleDTO        `json:"style"`
}

// RenderRequest renders Source warped onto Corners as PNG. Empty fields take
// the server's render defaults.
type RenderRequest struct {
	Source     string        `json:"source"`
	Corners    geometry.Quad `json:"corners"`
	Selector   string        `json:"selector,omitempty"`
	Sampling   string        `json:"sampling,omitempty"`
	Opacity    *float64      `json:"opacity,omitempty"`
	Background string        `json:"background,omitempty"`
	MaxSize    int           `json:"max_size,omitempty"`
}

// StyleDTO is the wire form of an element style. The projection and matrix
// are omitted while deferred or when they are not finite, which JSON cannot
// carry.
type StyleDTO struct {
	Left            float64             `json:"left"`
	Top             float64             `json:"top"`
	Width           float64             `json:"width"`
	Height          float64             `json:"height"`
	Offset          geometry.Point      `json:"offset"`
	Transform       string              `json:"transform,omitempty"`
	TransformOrigin string              `json:"transform_origin"`
	Visible         bool                `json:"visible"`
	Deferred        bool                `json:"deferred"`
	Projection      *projective.Matrix3 `json:"projection,omitempty"`
	Matrix          *projective.Matrix4 `json:"matrix,omitempty"`
}

func newStyleDTO(st overlay.Style) StyleDTO {
	d := st.Display
	dto := StyleDTO{
		Left:            st.Left,
		Top:             st.Top,
		Width:           st.Width,
		Height:          st.Height,
		Offset:          d.Offset,
		Transform:       st.Transform,
		TransformOrigin: st.TransformOrigin,
		Visible:         st.Visible,
		Deferred:        d.Deferred,
	}
	if !d.Deferred && d.Finite() {
		p, m := d.Projection, d.Matrix
		dto.Projection, dto.Matrix = &p, &m
	}
	if !geometry.Pt(dto.Left, dto.Top).Finite() || !geometry.Pt(dto.Width, dto.Height).Finite() || !dto.Offset.Finite() {
		dto.Left, dto.Top, dto.Width, dto.Height = 0, 0, 0, 0
		dto.Offset = geometry.Point{}
		dto.Visible = false
	}
	return dto
}

// NewServer creates a new server instance.
func NewServer(config Config) (*Server, error) {
	if err := config.Extract.Validate(); err != nil {
		return nil, fmt.Errorf("invalid extract config: %w", err)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ld := config.Loader
	if ld == nil {
		ld = loader.New(loader.DefaultConfig(), loader.WithLogger(logger))
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	s := &Server{
		extractor:  selector.NewExtractor(config.Extract),
		loader:     ld,
		render:     config.Render,
		corsOrigin: config.CORSOrigin,
		maxBody:    config.MaxBodyBytes,
		timeout:    timeout,
		allowLocal: config.AllowLocalFiles,
		logger:     logger,
		sessions:   make(map[*session]struct{}),
	}
	if rl := config.RateLimit; rl.Enabled {
		s.rateLimiter = NewRateLimiter(rl.RequestsPerMinute, rl.RequestsPerHour, rl.MaxRequestsPerDay)
	}
	return s, nil
}

// Close ends every live overlay session.
func (s *Server) Close() error {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	return nil
}

// SetupRoutes configures the HTTP routes.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.corsMiddleware(s.healthHandler))
	mux.HandleFunc("/v1/region", s.corsMiddleware(s.rateLimitMiddleware(s.regionHandler)))
	mux.HandleFunc("/v1/transform", s.corsMiddleware(s.rateLimitMiddleware(s.transformHandler)))
	mux.HandleFunc("/v1/render", s.corsMiddleware(s.rateLimitMiddleware(s.renderHandler)))
	// The upgrade needs the raw http.Hijacker, so no status-recording wrapper.
	mux.HandleFunc("/v1/overlay/ws", s.rateLimitMiddleware(s.overlayWebSocketHandler))
	mux.Handle("/metrics", promhttp.Handler())
}

// Handler returns a mux with all routes installed.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return mux
}

func (s *Server) log() *slog.Logger {
	if s.logger == nil {
		return slog.Default()
	}
	return s.logger
}

func (s *Server) track(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess] = struct{}{}
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}
