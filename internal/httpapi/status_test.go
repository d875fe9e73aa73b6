package http

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	auth "github.com/teltubby/teltubby/internal/adminauth"
	"github.com/teltubby/teltubby/internal/config"
)

func TestToStatusConfig_ProjectsNonSecretFields(t *testing.T) {
	cfg := config.AppConfig{}
	cfg.Bot.Mode = "polling"
	cfg.Bot.AdminIDs = []int64{1, 2, 3}
	cfg.ObjectStore.Bucket = "archive"
	cfg.Store.Path = "/data/teltubby.db"

	sc := ToStatusConfig(cfg)
	assert.Equal(t, "polling", sc.BotMode)
	assert.Equal(t, 3, sc.AdminCount)
	assert.Equal(t, "archive", sc.ObjectStoreBucket)
	assert.Equal(t, "/data/teltubby.db", sc.StorePath)
}

func TestBearerAuthMiddleware_RejectsMissingOrWrongToken(t *testing.T) {
	svc := auth.NewTokenService("secret", time.Hour)
	e := echo.New()
	e.GET("/status", func(c echo.Context) error { return c.NoContent(200) }, BearerAuthMiddleware(svc))

	req := httptest.NewRequest("GET", "/status", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, 401, rec.Code)
}

func TestBearerAuthMiddleware_AcceptsValidToken(t *testing.T) {
	svc := auth.NewTokenService("secret", time.Hour)
	token, err := svc.GenerateToken()
	require.NoError(t, err)

	e := echo.New()
	e.GET("/status", func(c echo.Context) error { return c.NoContent(200) }, BearerAuthMiddleware(svc))

	req := httptest.NewRequest("GET", "/status", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, 200, rec.Code)
}
