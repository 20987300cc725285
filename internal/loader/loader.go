// Package loader resolves the natural pixel extent of overlay sources: IIIF
// Image Information documents, remote raster headers and local files.
package loader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register GIF
	_ "image/jpeg" // register JPEG
	_ "image/png"  // register PNG
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang/groupcache/lru"
	_ "golang.org/x/image/bmp"  // register BMP
	_ "golang.org/x/image/tiff" // register TIFF
	_ "golang.org/x/image/webp" // register WebP

	"github.com/MeKo-Tech/mapwarp/internal/geometry"
)

// ErrUnsupportedScheme is returned for URLs that are neither http(s) nor file.
var ErrUnsupportedScheme = errors.New("unsupported URL scheme")

// HTTPError is a non-2xx response from an image server.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e HTTPError) Error() string {
	return fmt.Sprintf("%d (%s) %s", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// ImageInfo is the subset of a IIIF Image Information document the loader
// reads. Both the 2.x (@id) and 3.x (id) identifiers are accepted.
type ImageInfo struct {
	Context  any    `json:"@context,omitempty"`
	ID       string `json:"@id,omitempty"`
	ID3      string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Protocol string `json:"protocol,omitempty"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ServiceID returns the image service base URL.
func (i ImageInfo) ServiceID() string {
	if i.ID3 != "" {
		return i.ID3
	}
	return i.ID
}

// Config configures an HTTPLoader.
type Config struct {
	Timeout        time.Duration
	CacheEntries   int
	UserAgent      string
	MaxHeaderBytes int64
}

// DefaultConfig returns a 30s timeout, 256 cached extents and a 1 MiB header
// limit.
func DefaultConfig() Config {
	return Config{
		Timeout:        30 * time.Second,
		CacheEntries:   256,
		UserAgent:      "mapwarp",
		MaxHeaderBytes: 1 << 20,
	}
}

// Option customizes an HTTPLoader.
type Option func(*HTTPLoader)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(l *HTTPLoader) { l.client = c }
}

// WithLogger sets the logger; slog.Default() is used otherwise.
func WithLogger(lg *slog.Logger) Option {
	return func(l *HTTPLoader) { l.logger = lg }
}

// HTTPLoader loads image extents over HTTP or from disk and caches them in a
// bounded LRU. It is safe for concurrent use.
type HTTPLoader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger

	mu    sync.Mutex
	cache *lru.Cache
}

// New creates a loader.
func New(cfg Config, opts ...Option) *HTTPLoader {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxHeaderBytes <= 0 {
		cfg.MaxHeaderBytes = def.MaxHeaderBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	l := &HTTPLoader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: slog.Default(),
	}
	if cfg.CacheEntries > 0 {
		l.cache = lru.New(cfg.CacheEntries)
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load returns the natural extent of the image at rawURL.
func (l *HTTPLoader) Load(ctx context.Context, rawURL string) (geometry.Extent, error) {
	if e, ok := l.cached(rawURL); ok {
		return e, nil
	}

	start := time.Now()
	e, err := l.load(ctx, rawURL)
	if err != nil {
		l.logger.Warn("extent load failed", "url", rawURL, "error", err)
		return geometry.Extent{}, err
	}
	if !e.Known() {
		return geometry.Extent{}, fmt.Errorf("%s: invalid extent %s", rawURL, e)
	}
	l.logger.Debug("extent loaded", "url", rawURL, "extent", e.String(), "duration", time.Since(start))
	l.store(rawURL, e)
	return e, nil
}

// Info fetches and decodes an IIIF Image Information document.
func (l *HTTPLoader) Info(ctx context.Context, rawURL string) (ImageInfo, error) {
	rc, _, err := l.open(ctx, rawURL)
	if err != nil {
		return ImageInfo{}, err
	}
	defer func() { _ = rc.Close() }()
	return decodeInfo(io.LimitReader(rc, l.cfg.MaxHeaderBytes))
}

func (l *HTTPLoader) load(ctx context.Context, rawURL string) (geometry.Extent, error) {
	rc, contentType, err := l.open(ctx, rawURL)
	if err != nil {
		return geometry.Extent{}, err
	}
	defer func() { _ = rc.Close() }()

	r := io.LimitReader(rc, l.cfg.MaxHeaderBytes)
	if isInfoJSON(rawURL, contentType) {
		info, err := decodeInfo(r)
		if err != nil {
			return geometry.Extent{}, err
		}
		return geometry.Extent{Width: info.Width, Height: info.Height}, nil
	}

	cfg, format, err := image.DecodeConfig(bufio.NewReader(r))
	if err != nil {
		return geometry.Extent{}, fmt.Errorf("decode image header of %s: %w", rawURL, err)
	}
	l.logger.Debug("decoded image header", "url", rawURL, "format", format)
	return geometry.Extent{Width: cfg.Width, Height: cfg.Height}, nil
}

// open returns a reader for rawURL and its content type, if known.
func (l *HTTPLoader) open(ctx context.Context, rawURL string) (io.ReadCloser, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("User-Agent", l.cfg.UserAgent)
		req.Header.Set("Accept", "application/ld+json, application/json, image/*")
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, "", fmt.Errorf("fetch %s: %w", rawURL, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			_ = resp.Body.Close()
			return nil, "", HTTPError{StatusCode: resp.StatusCode, URL: rawURL}
		}
		return resp.Body, resp.Header.Get("Content-Type"), nil
	case "file":
		return openFile(u.Path)
	case "":
		return openFile(rawURL)
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

func openFile(path string) (io.ReadCloser, string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", path, err)
	}
	ct := ""
	if strings.EqualFold(filepath.Ext(path), ".json") {
		ct = "application/json"
	}
	return f, ct, nil
}

func isInfoJSON(rawURL, contentType string) bool {
	if strings.HasSuffix(strings.SplitN(rawURL, "?", 2)[0], "/info.json") {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.HasPrefix(ct, "application/json") || strings.HasPrefix(ct, "application/ld+json")
}

func decodeInfo(r io.Reader) (ImageInfo, error) {
	var info ImageInfo
	if err := json.NewDecoder(r).Decode(&info); err != nil {
		return ImageInfo{}, fmt.Errorf("decode image information: %w", err)
	}
	if info.Width <= 0 || info.Height <= 0 {
		return ImageInfo{}, fmt.Errorf("image information without size (%dx%d)", info.Width, info.Height)
	}
	return info, nil
}

func (l *HTTPLoader) cached(key string) (geometry.Extent, bool) {
	if l.cache == nil {
		return geometry.Extent{}, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.cache.Get(key)
	if !ok {
		return geometry.Extent{}, false
	}
	return v.(geometry.Extent), true
}

func (l *HTTPLoader) store(key string, e geometry.Extent) {
	if l.cache == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache.Add(key, e)
}

// CacheLen returns the number of cached extents.
func (l *HTTPLoader) CacheLen() int {
	if l.cache == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cache.Len()
}
