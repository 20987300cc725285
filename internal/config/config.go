package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"gopkg.in/yaml.v3"

	"github.com/MeKo-Tech/mapwarp/internal/loader"
	"github.com/MeKo-Tech/mapwarp/internal/render"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
)

// Config represents the complete configuration for the mapwarp application.
// It covers every command (region, transform, render, serve) and is loaded
// from configuration files, environment variables and command-line flags.
type Config struct {
	// Global settings
	LogLevel string `mapstructure:"log_level" yaml:"log_level" json:"log_level"`
	Verbose  bool   `mapstructure:"verbose" yaml:"verbose" json:"verbose"`

	// Selector extraction
	Extract ExtractConfig `mapstructure:"extract" yaml:"extract" json:"extract"`

	// Image extent loading
	Loader LoaderConfig `mapstructure:"loader" yaml:"loader" json:"loader"`

	// Raster preview
	Render RenderConfig `mapstructure:"render" yaml:"render" json:"render"`

	// Server configuration (for serve command)
	Server ServerConfig `mapstructure:"server" yaml:"server" json:"server"`
}

// ExtractConfig contains GeometryExtractor settings.
type ExtractConfig struct {
	PathStep          float64 `mapstructure:"path_step" yaml:"path_step" json:"path_step"`
	SimplifyTolerance float64 `mapstructure:"simplify_tolerance" yaml:"simplify_tolerance" json:"simplify_tolerance"`
	PercentPrecision  int     `mapstructure:"percent_precision" yaml:"percent_precision" json:"percent_precision"`
}

// LoaderConfig contains image extent loader settings.
type LoaderConfig struct {
	TimeoutSec     int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	CacheEntries   int    `mapstructure:"cache_entries" yaml:"cache_entries" json:"cache_entries"`
	UserAgent      string `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
	MaxHeaderBytes string `mapstructure:"max_header_bytes" yaml:"max_header_bytes" json:"max_header_bytes"`
}

// RenderConfig contains raster preview settings.
type RenderConfig struct {
	Sampling   string `mapstructure:"sampling" yaml:"sampling" json:"sampling"`
	Background string `mapstructure:"background" yaml:"background" json:"background"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size" json:"max_size"`

	// MaxCanvasPixels bounds the full-size raster; larger renders are refused.
	MaxCanvasPixels int64 `mapstructure:"max_canvas_pixels" yaml:"max_canvas_pixels" json:"max_canvas_pixels"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host            string `mapstructure:"host" yaml:"host" json:"host"`
	Port            int    `mapstructure:"port" yaml:"port" json:"port"`
	CORSOrigin      string `mapstructure:"cors_origin" yaml:"cors_origin" json:"cors_origin"`
	MaxBody         string `mapstructure:"max_body" yaml:"max_body" json:"max_body"`
	TimeoutSec      int    `mapstructure:"timeout_sec" yaml:"timeout_sec" json:"timeout_sec"`
	ShutdownTimeout int    `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	// AllowLocalFiles lets requests name file paths as image sources.
	AllowLocalFiles bool `mapstructure:"allow_local_files" yaml:"allow_local_files" json:"allow_local_files"`

	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit" json:"rate_limit"`
}

// RateLimitConfig contains per-client request limits. Zero disables a limit.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute" yaml:"requests_per_minute" json:"requests_per_minute"`
	RequestsPerHour   int  `mapstructure:"requests_per_hour" yaml:"requests_per_hour" json:"requests_per_hour"`
	MaxRequestsPerDay int  `mapstructure:"max_requests_per_day" yaml:"max_requests_per_day" json:"max_requests_per_day"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	ex := selector.DefaultConfig()
	ld := loader.DefaultConfig()
	return Config{
		LogLevel: "info",
		Verbose:  false,
		Extract: ExtractConfig{
			PathStep:          ex.PathStep,
			SimplifyTolerance: ex.SimplifyTolerance,
			PercentPrecision:  ex.PercentPrecision,
		},
		Loader: LoaderConfig{
			TimeoutSec:     int(ld.Timeout / time.Second),
			CacheEntries:   ld.CacheEntries,
			UserAgent:      ld.UserAgent,
			MaxHeaderBytes: bytefmt.ByteSize(uint64(ld.MaxHeaderBytes)),
		},
		Render: RenderConfig{
			Sampling:        string(render.Bilinear),
			Background:      "transparent",
			MaxSize:         0,
			MaxCanvasPixels: render.DefaultMaxCanvasPixels,
		},
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8080,
			CORSOrigin:      "*",
			MaxBody:         "1M",
			TimeoutSec:      30,
			ShutdownTimeout: 10,
			AllowLocalFiles: false,
			RateLimit: RateLimitConfig{
				Enabled:           false,
				RequestsPerMinute: 600,
				RequestsPerHour:   10000,
				MaxRequestsPerDay: 0,
			},
		},
	}
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("invalid log level: %s (must be one of: %s)", c.LogLevel, strings.Join(validLogLevels, ", "))
	}

	if err := c.ToExtractConfig().Validate(); err != nil {
		return fmt.Errorf("invalid extract config: %w", err)
	}

	if c.Loader.TimeoutSec <= 0 {
		return fmt.Errorf("invalid loader timeout: %d (must be positive)", c.Loader.TimeoutSec)
	}
	if c.Loader.CacheEntries < 0 {
		return fmt.Errorf("invalid loader cache entries: %d (must not be negative)", c.Loader.CacheEntries)
	}
	if _, err := parseBytes(c.Loader.MaxHeaderBytes, "loader.max_header_bytes"); err != nil {
		return err
	}

	if _, err := render.ParseSampling(c.Render.Sampling); err != nil {
		return fmt.Errorf("invalid render sampling: %w", err)
	}
	if _, err := render.ParseColor(c.Render.Background); err != nil {
		return fmt.Errorf("invalid render background: %w", err)
	}
	if c.Render.MaxSize < 0 {
		return fmt.Errorf("invalid render max size: %d (must not be negative)", c.Render.MaxSize)
	}
	if c.Render.MaxCanvasPixels <= 0 {
		return fmt.Errorf("invalid render max canvas pixels: %d (must be positive)", c.Render.MaxCanvasPixels)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be between 1 and 65535)", c.Server.Port)
	}
	if _, err := parseBytes(c.Server.MaxBody, "server.max_body"); err != nil {
		return err
	}
	if c.Server.TimeoutSec <= 0 {
		return fmt.Errorf("invalid timeout: %d (must be positive)", c.Server.TimeoutSec)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("invalid shutdown timeout: %d (must not be negative)", c.Server.ShutdownTimeout)
	}
	rl := c.Server.RateLimit
	if rl.RequestsPerMinute < 0 || rl.RequestsPerHour < 0 || rl.MaxRequestsPerDay < 0 {
		return fmt.Errorf("invalid rate limit: limits must not be negative")
	}

	return nil
}

// ToExtractConfig converts to selector.Config.
func (c *Config) ToExtractConfig() selector.Config {
	return selector.Config{
		PathStep:          c.Extract.PathStep,
		SimplifyTolerance: c.Extract.SimplifyTolerance,
		PercentPrecision:  c.Extract.PercentPrecision,
	}
}

// ToLoaderConfig converts to loader.Config. An unparsable header limit falls
// back to the loader default.
func (c *Config) ToLoaderConfig() loader.Config {
	cfg := loader.DefaultConfig()
	cfg.Timeout = time.Duration(c.Loader.TimeoutSec) * time.Second
	cfg.CacheEntries = c.Loader.CacheEntries
	if c.Loader.UserAgent != "" {
		cfg.UserAgent = c.Loader.UserAgent
	}
	if n, err := parseBytes(c.Loader.MaxHeaderBytes, "loader.max_header_bytes"); err == nil {
		cfg.MaxHeaderBytes = int64(n)
	}
	return cfg
}

// ToRenderOptions converts to render.Options.
func (c *Config) ToRenderOptions() (render.Options, error) {
	sampling, err := render.ParseSampling(c.Render.Sampling)
	if err != nil {
		return render.Options{}, err
	}
	bg, err := render.ParseColor(c.Render.Background)
	if err != nil {
		return render.Options{}, err
	}
	return render.Options{
		Sampling:        sampling,
		Background:      bg,
		MaxSize:         c.Render.MaxSize,
		MaxCanvasPixels: c.Render.MaxCanvasPixels,
	}, nil
}

// MaxBodyBytes returns the request body limit in bytes.
func (c *Config) MaxBodyBytes() (int64, error) {
	n, err := parseBytes(c.Server.MaxBody, "server.max_body")
	return int64(n), err
}

// Timeout returns the per-request server timeout.
func (s ServerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// Shutdown returns the graceful shutdown timeout.
func (s ServerConfig) Shutdown() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// YAML renders the configuration as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// parseBytes parses a size such as "512K" or "10MB" and rejects zero.
func parseBytes(s, name string) (uint64, error) {
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q: %w", name, s, err)
	}
	return n, nil
}
