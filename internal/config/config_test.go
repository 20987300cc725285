package config

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/mapwarp/internal/render"
	"github.com/MeKo-Tech/mapwarp/internal/selector"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, selector.DefaultConfig(), cfg.ToExtractConfig())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost:8080", cfg.Server.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.Timeout())
	assert.Equal(t, 10*time.Second, cfg.Server.Shutdown())

	n, err := cfg.MaxBodyBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<20), n)

	lc := cfg.ToLoaderConfig()
	assert.Equal(t, 30*time.Second, lc.Timeout)
	assert.Equal(t, int64(1<<20), lc.MaxHeaderBytes)
	assert.Equal(t, 256, lc.CacheEntries)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"log level", func(c *Config) { c.LogLevel = "trace" }},
		{"path step", func(c *Config) { c.Extract.PathStep = 0 }},
		{"precision", func(c *Config) { c.Extract.PercentPrecision = 12 }},
		{"simplify", func(c *Config) { c.Extract.SimplifyTolerance = -1 }},
		{"loader timeout", func(c *Config) { c.Loader.TimeoutSec = 0 }},
		{"cache entries", func(c *Config) { c.Loader.CacheEntries = -1 }},
		{"header bytes", func(c *Config) { c.Loader.MaxHeaderBytes = "lots" }},
		{"sampling", func(c *Config) { c.Render.Sampling = "bicubic" }},
		{"background", func(c *Config) { c.Render.Background = "#12" }},
		{"max size", func(c *Config) { c.Render.MaxSize = -5 }},
		{"max canvas pixels", func(c *Config) { c.Render.MaxCanvasPixels = 0 }},
		{"port low", func(c *Config) { c.Server.Port = 0 }},
		{"port high", func(c *Config) { c.Server.Port = 70000 }},
		{"max body", func(c *Config) { c.Server.MaxBody = "10" }},
		{"server timeout", func(c *Config) { c.Server.TimeoutSec = -1 }},
		{"shutdown", func(c *Config) { c.Server.ShutdownTimeout = -1 }},
		{"rate limit", func(c *Config) { c.Server.RateLimit.RequestsPerHour = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestToRenderOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Render.Sampling = "nearest"
	cfg.Render.Background = "#ffffff"
	cfg.Render.MaxSize = 512
	cfg.Render.MaxCanvasPixels = 1 << 20

	opts, err := cfg.ToRenderOptions()
	require.NoError(t, err)
	assert.Equal(t, render.Nearest, opts.Sampling)
	assert.Equal(t, color.NRGBA{R: 255, G: 255, B: 255, A: 255}, opts.Background)
	assert.Equal(t, 512, opts.MaxSize)
	assert.Equal(t, int64(1<<20), opts.MaxCanvasPixels)

	cfg.Render.Sampling = "cubic"
	_, err = cfg.ToRenderOptions()
	assert.Error(t, err)
}

func TestLoadWithNoConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestLoadWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mapwarp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
extract:
  path_step: 2.5
  percent_precision: 2
render:
  sampling: nearest
server:
  port: 9000
  max_body: 10M
`), 0o600))

	l := NewLoaderWith(viper.New())
	cfg, err := l.LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, path, l.GetConfigFileUsed())

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.InDelta(t, 2.5, cfg.Extract.PathStep, 0)
	assert.Equal(t, 2, cfg.Extract.PercentPrecision)
	assert.Equal(t, "nearest", cfg.Render.Sampling)
	assert.Equal(t, 9000, cfg.Server.Port)
	n, err := cfg.MaxBodyBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10<<20), n)

	// Untouched keys keep their defaults.
	assert.Equal(t, "*", cfg.Server.CORSOrigin)
	assert.Equal(t, 256, cfg.Loader.CacheEntries)
}

func TestLoadWithFile_Errors(t *testing.T) {
	_, err := NewLoaderWith(viper.New()).LoadWithFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "does not exist")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("server: [port"), 0o600))
	_, err = NewLoaderWith(viper.New()).LoadWithFile(bad)
	assert.ErrorContains(t, err, "error reading config file")

	invalid := filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("server:\n  port: -1\n"), 0o600))
	_, err = NewLoaderWith(viper.New()).LoadWithFile(invalid)
	assert.ErrorContains(t, err, "validation failed")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, -1, cfg.Server.Port)
}

func TestEnvironmentVariableOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("MAPWARP_LOG_LEVEL", "warn")
	t.Setenv("MAPWARP_SERVER_PORT", "9191")
	t.Setenv("MAPWARP_SERVER_MAX_BODY", "2M")
	t.Setenv("MAPWARP_EXTRACT_PERCENT_PRECISION", "6")

	cfg, err := NewLoaderWith(viper.New()).Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, "2M", cfg.Server.MaxBody)
	assert.Equal(t, 6, cfg.Extract.PercentPrecision)
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "percent_precision: 4")
	assert.Contains(t, string(data), "max_body: 1M")

	cfg, err := NewLoaderWith(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}

func TestGetSetAndResolved(t *testing.T) {
	l := NewLoaderWith(viper.New())
	l.Set("server.port", 1234)
	assert.Equal(t, 1234, l.Get("server.port"))
	assert.NotNil(t, l.GetViper())

	t.Chdir(t.TempDir())
	_, err := l.LoadWithoutValidation()
	require.NoError(t, err)
	settings := l.GetResolvedConfig()
	assert.Contains(t, settings, "server")
	assert.Contains(t, settings, "extract")
}

func TestGetConfigSearchPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	paths := GetConfigSearchPaths()
	assert.Equal(t, ".", paths[0])
	assert.Contains(t, paths, "/tmp/xdg/mapwarp")
	assert.Equal(t, "/etc/mapwarp", paths[len(paths)-1])
}
