package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/mapwarp/internal/config"
	"github.com/MeKo-Tech/mapwarp/internal/server"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for the region, transform and overlay API",
	Long: `Start an HTTP server that provides REST and WebSocket endpoints.

The server provides the following endpoints:
  GET  /health         - Health check endpoint
  POST /v1/region      - Extract regions from selectors
  POST /v1/transform   - Compute the CSS transform for four corners
  POST /v1/render      - Render a PNG preview of a warped image
  GET  /v1/overlay/ws  - Live overlay session (WebSocket)
  GET  /metrics        - Prometheus metrics

Examples:
  mapwarp serve
  mapwarp serve --port 8080
  mapwarp serve --host 0.0.0.0 --port 3000 --rate-limit-enabled`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Get configuration from centralized system (includes CLI flags, config file, env vars, and defaults)
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		serverConfig, err := serverConfigFrom(cfg)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		apiServer, err := server.NewServer(serverConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize server: %w", err)
		}
		defer func() { _ = apiServer.Close() }()

		timeout := cfg.Server.Timeout()
		httpServer := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       timeout,
			// WebSocket sessions manage their own write deadlines.
			WriteTimeout: 0,
		}

		go func() {
			slog.Info("Starting mapwarp server", "host", cfg.Server.Host, "port", cfg.Server.Port)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Server error", "error", err)
				cancel()
			}
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			slog.Info("Received shutdown signal", "signal", sig.String())
		case <-ctx.Done():
			slog.Info("Context cancelled, initiating shutdown")
		}

		shutdownTimeout := cfg.Server.Shutdown()
		slog.Info("Starting graceful shutdown", "timeout", shutdownTimeout.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		// Hijacked WebSocket connections are not tracked by Shutdown, so the
		// sessions are closed first.
		slog.Info("Closing overlay sessions")
		if err := apiServer.Close(); err != nil {
			slog.Error("Server cleanup error", "error", err)
		}

		slog.Info("Shutting down HTTP server")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("HTTP server shutdown error", "error", err)
		} else {
			slog.Info("HTTP server shutdown completed")
		}

		slog.Info("Graceful shutdown completed")
		return nil
	},
}

// serverConfigFrom maps the configuration file view onto server.Config.
func serverConfigFrom(cfg *config.Config) (server.Config, error) {
	maxBody, err := cfg.MaxBodyBytes()
	if err != nil {
		return server.Config{}, err
	}
	renderOpts, err := cfg.ToRenderOptions()
	if err != nil {
		return server.Config{}, fmt.Errorf("invalid render options: %w", err)
	}
	rl := cfg.Server.RateLimit
	return server.Config{
		CORSOrigin:      cfg.Server.CORSOrigin,
		MaxBodyBytes:    maxBody,
		Timeout:         cfg.Server.Timeout(),
		Extract:         cfg.ToExtractConfig(),
		Render:          renderOpts,
		Loader:          newLoader(cfg),
		AllowLocalFiles: cfg.Server.AllowLocalFiles,
		RateLimit: server.RateLimitConfig{
			Enabled:           rl.Enabled,
			RequestsPerMinute: rl.RequestsPerMinute,
			RequestsPerHour:   rl.RequestsPerHour,
			MaxRequestsPerDay: rl.MaxRequestsPerDay,
		},
		Logger: slog.Default(),
	}, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	d := config.DefaultConfig().Server
	serveCmd.Flags().StringP("host", "H", d.Host, "server host")
	serveCmd.Flags().IntP("port", "p", d.Port, "server port")
	serveCmd.Flags().String("cors-origin", d.CORSOrigin, "CORS allowed origin")
	serveCmd.Flags().String("max-body", d.MaxBody, "maximum request body size (e.g. 512K, 1M)")
	serveCmd.Flags().Int("timeout", d.TimeoutSec, "request timeout in seconds")
	serveCmd.Flags().Int("shutdown-timeout", d.ShutdownTimeout, "shutdown timeout in seconds")
	serveCmd.Flags().Bool("allow-local-files", d.AllowLocalFiles, "allow file paths as image sources")
	// Rate limiting flags
	serveCmd.Flags().Bool("rate-limit-enabled", d.RateLimit.Enabled, "enable rate limiting")
	serveCmd.Flags().Int("requests-per-minute", d.RateLimit.RequestsPerMinute, "maximum requests per minute per client")
	serveCmd.Flags().Int("requests-per-hour", d.RateLimit.RequestsPerHour, "maximum requests per hour per client")
	serveCmd.Flags().Int("max-requests-per-day", d.RateLimit.MaxRequestsPerDay, "maximum requests per day per client (0 = unlimited)")

	bindFlags(serveCmd, map[string]string{
		"server.host":                            "host",
		"server.port":                            "port",
		"server.cors_origin":                     "cors-origin",
		"server.max_body":                        "max-body",
		"server.timeout_sec":                     "timeout",
		"server.shutdown_timeout":                "shutdown-timeout",
		"server.allow_local_files":               "allow-local-files",
		"server.rate_limit.enabled":              "rate-limit-enabled",
		"server.rate_limit.requests_per_minute":  "requests-per-minute",
		"server.rate_limit.requests_per_hour":    "requests-per-hour",
		"server.rate_limit.max_requests_per_day": "max-requests-per-day",
	})
}
