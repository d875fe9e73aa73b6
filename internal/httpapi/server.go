// Package http provides the Echo-based server scaffolding shared by
// teltubby's admin HTTP surface: standard middleware, a JSON error handler,
// and the health/metrics/status routes built on top in health.go, status.go,
// and runner.go.
package http

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/teltubby/teltubby/internal/telemetry"
)

// ServerConfig contains configuration for creating an Echo server. teltubby
// exposes this surface to Prometheus and operator tooling only, never a
// browser, so it carries no CORS or request-rate-limiting knobs.
type ServerConfig struct {
	Port            int
	Debug           bool
	BodyLimit       string // e.g., "100M"
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns a server config with sensible defaults
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            8080,
		Debug:           false,
		BodyLimit:       "10M",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewEchoServer creates a new Echo server with standard middleware
func NewEchoServer(config ServerConfig) *echo.Echo {
	e := echo.New()

	// Configure Echo
	e.HideBanner = true
	e.HidePort = true
	e.Debug = config.Debug

	if config.ReadTimeout > 0 {
		e.Server.ReadTimeout = config.ReadTimeout
	}
	if config.WriteTimeout > 0 {
		e.Server.WriteTimeout = config.WriteTimeout
	}

	// Logger middleware with standard format
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "[${time_rfc3339}] ${status} ${method} ${uri} (${latency_human})\n",
	}))

	// Recover middleware for panic recovery
	e.Use(middleware.Recover())

	// Body limit middleware
	if config.BodyLimit != "" {
		e.Use(middleware.BodyLimit(config.BodyLimit))
	}

	// Request ID middleware
	e.Use(middleware.RequestID())

	// Security headers, since the admin surface can be exposed beyond loopback
	e.Use(SecurityHeadersMiddleware())

	return e
}

// SecurityHeadersMiddleware adds security headers to responses
func SecurityHeadersMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Add security headers
			c.Response().Header().Set("X-Content-Type-Options", "nosniff")
			c.Response().Header().Set("X-Frame-Options", "DENY")
			c.Response().Header().Set("X-XSS-Protection", "1; mode=block")

			return next(c)
		}
	}
}

// ErrorResponse represents a standard error response
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// NewHTTPErrorHandler builds an Echo error handler that logs send failures
// through log with structured fields instead of free-text interpolation. A
// nil log defaults to the process logger with an "httpapi" component field.
func NewHTTPErrorHandler(log *telemetry.ContextLogger) echo.HTTPErrorHandler {
	if log == nil {
		log = telemetry.NewContextLogger(nil, map[string]interface{}{"component": "httpapi"})
	}
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		message := err.Error()

		// Check if it's an Echo HTTP error
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if msg, ok := he.Message.(string); ok {
				message = msg
			}
		}

		// Don't send response if it's already committed
		if !c.Response().Committed {
			if c.Request().Method == http.MethodHead {
				err = c.NoContent(code)
			} else {
				err = c.JSON(code, ErrorResponse{
					Error:   http.StatusText(code),
					Message: message,
				})
			}
			if err != nil {
				log.WithFields(map[string]interface{}{"path": c.Request().URL.Path}).WithError(err).Error("failed to send error response")
			}
		}
	}
}
