package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwarp_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapwarp_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Selector extraction metrics
	extractTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwarp_extract_total",
			Help: "Total number of extracted selectors",
		},
		[]string{"kind", "status"}, // status: ok, error
	)

	transformTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwarp_transform_total",
			Help: "Total number of computed display transforms",
		},
		[]string{"status"}, // status: ok, deferred, degenerate, error
	)

	renderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapwarp_render_duration_seconds",
			Help:    "Raster preview duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"sampling"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwarp_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapwarp_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapwarp_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)

	overlaysActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapwarp_overlays_active",
			Help: "Number of overlays attached across all sessions",
		},
	)

	overlayLoadErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "mapwarp_overlay_load_errors_total",
			Help: "Total number of failed overlay extent loads",
		},
	)
)
