// Package http provides the HTTP surface teltubby exposes alongside its
// chat-platform ingestion pipeline: GET /healthz, GET /metrics, and the
// optional bearer-gated GET /status.
package http

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"

	auth "github.com/teltubby/teltubby/internal/adminauth"
	"github.com/teltubby/teltubby/internal/config"
	"github.com/teltubby/teltubby/internal/metrics"
	"github.com/teltubby/teltubby/internal/telemetry"
)

// RunServerConfig controls the admin HTTP surface's bind address and the
// token gate applied to anything beyond loopback.
type RunServerConfig struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration

	// TokenService gates GET /status when Host is not loopback. With a nil
	// TokenService, /status is ungated on loopback and answers 503 on any
	// other bind host.
	TokenService *auth.TokenService
}

// DefaultRunServerConfig returns loopback-bound defaults per spec: the
// admin surface binds to localhost unless explicitly overridden.
func DefaultRunServerConfig(port int) RunServerConfig {
	return RunServerConfig{
		Host:            "127.0.0.1",
		Port:            port,
		ShutdownTimeout: 10 * time.Second,
	}
}

func (c RunServerConfig) isLoopback() bool {
	return c.Host == "" || c.Host == "127.0.0.1" || c.Host == "localhost" || c.Host == "::1"
}

// RunServer builds and serves the health/metrics/status surface until ctx is
// cancelled, then shuts down gracefully. It never registers with an external
// service directory; teltubby runs as a single standalone process.
func RunServer(ctx context.Context, rcfg RunServerConfig, deps Deps, appCfg config.AppConfig, logger *telemetry.ContextLogger) error {
	e := NewEchoServer(ServerConfig{
		Port:         rcfg.Port,
		BodyLimit:    "1M",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	})
	e.HTTPErrorHandler = NewHTTPErrorHandler(logger)

	e.GET("/healthz", HealthzHandler(deps))
	e.GET("/metrics", metrics.MetricsHandler())

	switch {
	case rcfg.isLoopback():
		e.GET("/status", StatusHandler(deps, appCfg))
	case rcfg.TokenService != nil:
		e.GET("/status", StatusHandler(deps, appCfg), BearerAuthMiddleware(rcfg.TokenService))
	default:
		logger.Warn("status endpoint bound beyond loopback with no token service configured; refusing to start it ungated")
		e.GET("/status", func(c echo.Context) error {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "status endpoint disabled: no token service configured for non-loopback bind")
		})
	}

	addr := fmt.Sprintf("%s:%d", rcfg.Host, rcfg.Port)

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("starting admin HTTP surface")
		if err := e.Start(addr); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-sigCh:
	case err := <-errCh:
		return fmt.Errorf("admin http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), rcfg.ShutdownTimeout)
	defer cancel()
	logger.Info("shutting down admin HTTP surface")
	return e.Shutdown(shutdownCtx)
}

