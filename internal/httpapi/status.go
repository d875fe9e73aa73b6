package http

import (
	"net/http"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	auth "github.com/teltubby/teltubby/internal/adminauth"
	"github.com/teltubby/teltubby/internal/config"
)

// StatusResponse is the GET /status body: health plus a redacted
// configuration snapshot, useful for confirming what an operator's
// environment actually resolved to without ever echoing secrets back.
type StatusResponse struct {
	Health AggregateHealth `json:"health"`
	Config StatusConfig    `json:"config"`
}

// StatusConfig is a subset of config.AppConfig's fields; credential fields
// (tokens, keys, passwords) are not part of it at all.
type StatusConfig struct {
	BotMode             string   `json:"bot_mode"`
	AdminCount          int      `json:"admin_count"`
	ObjectStoreBucket   string   `json:"object_store_bucket"`
	ObjectStoreEndpoint string   `json:"object_store_endpoint"`
	AlbumWindowSeconds  int      `json:"album_window_seconds"`
	MaxFileGiB          int      `json:"max_file_gib"`
	StorePath           string   `json:"store_path"`
	DedupEnable         bool     `json:"dedup_enable"`
	Concurrency         int      `json:"concurrency"`
	QuotaAlertThreshold float64  `json:"quota_alert_threshold"`
	BrokerHost          string   `json:"broker_host"`
	BrokerVhost         string   `json:"broker_vhost"`
	WorkerConcurrency   int      `json:"worker_concurrency"`
	WorkerMaxRetries    int      `json:"worker_max_retries"`
}

// ToStatusConfig projects an AppConfig to its non-secret summary.
func ToStatusConfig(c config.AppConfig) StatusConfig {
	return StatusConfig{
		BotMode:             c.Bot.Mode,
		AdminCount:          len(c.Bot.AdminIDs),
		ObjectStoreBucket:   c.ObjectStore.Bucket,
		ObjectStoreEndpoint: c.ObjectStore.Endpoint,
		AlbumWindowSeconds:  c.Album.WindowSeconds,
		MaxFileGiB:          c.Ingest.MaxFileGiB,
		StorePath:           c.Store.Path,
		DedupEnable:         c.Store.DedupEnable,
		Concurrency:         c.Dispatch.Concurrency,
		QuotaAlertThreshold: c.Quota.AlertThreshold,
		BrokerHost:          c.Broker.Host,
		BrokerVhost:         c.Broker.Vhost,
		WorkerConcurrency:   c.Worker.Concurrency,
		WorkerMaxRetries:    c.Worker.MaxRetries,
	}
}

// StatusHandler serves GET /status: health plus a redacted config snapshot.
func StatusHandler(d Deps, cfg config.AppConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, StatusResponse{
			Health: d.Check(c.Request().Context()),
			Config: ToStatusConfig(cfg),
		})
	}
}

// BearerAuthMiddleware gates a route behind the shared admin bearer token.
// Per spec, this only guards the surface when it is bound beyond loopback;
// callers decide whether to install it based on the configured bind host.
//
// Token extraction and the Authorization-header scaffolding come from
// echo-jwt; ParseTokenFunc delegates the actual validation to svc so the
// admin token keeps using adminauth's own claims and expiry handling.
func BearerAuthMiddleware(svc *auth.TokenService) echo.MiddlewareFunc {
	return echojwt.WithConfig(echojwt.Config{
		TokenLookup: "header:Authorization:Bearer ",
		ParseTokenFunc: func(c echo.Context, token string) (interface{}, error) {
			if err := svc.ValidateToken(token); err != nil {
				return nil, err
			}
			return token, nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		},
	})
}
