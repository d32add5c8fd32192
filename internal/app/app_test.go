package app_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/app"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
	_ "github.com/odyssey-erp/odyssey-retail/testing"
)

func TestTestModeIsDetected(t *testing.T) {
	assert.Equal(t, "1", os.Getenv(app.TestModeEnv))
	assert.True(t, app.InTestMode())
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/retail")
	cfg, err := app.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 168*time.Hour, cfg.IdempotencyRetention)
	assert.Equal(t, 5*time.Minute, cfg.LowStockCacheTTL)
	assert.True(t, cfg.AllowActorHeader)
	assert.False(t, cfg.IsProduction())
}

func TestConfigValidate(t *testing.T) {
	cfg := app.Config{PGDSN: "x", IdempotencyRetention: time.Minute, LowStockCacheTTL: time.Minute}
	assert.Error(t, cfg.Validate())
	cfg.IdempotencyRetention = time.Hour
	assert.NoError(t, cfg.Validate())
	cfg.PGDSN = ""
	assert.Error(t, cfg.Validate())
}

func TestActorMiddleware(t *testing.T) {
	var seen int64
	var ok bool
	h := app.ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, ok = shared.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(app.ActorHeader, "42")
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, ok)
	assert.Equal(t, int64(42), seen)

	ok = false
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, ok)

	for _, raw := range []string{"abc", "0", "-3"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(app.ActorHeader, raw)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code, raw)
	}
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestRouterProbesAndMetrics(t *testing.T) {
	metrics := observability.NewMetrics()
	router := app.NewRouter(app.RouterParams{
		Config:  &app.Config{AppEnv: "staging", AppRequestTimeout: time.Second},
		Metrics: metrics,
		DB:      pinger{},
	})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.Contains(rr.Body.String(), `odyssey_http_requests_total{code="200",route="/healthz"} 1`))
}

func TestReadinessFailsWhenDatabaseDown(t *testing.T) {
	router := app.NewRouter(app.RouterParams{DB: pinger{err: errors.New("down")}})
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestRouterMountsModules(t *testing.T) {
	router := app.NewRouter(app.RouterParams{}).(chi.Routes)
	var routes []string
	require.NoError(t, chi.Walk(router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		routes = append(routes, method+" "+route)
		return nil
	}))
	assert.Contains(t, routes, "GET /healthz")
	assert.Contains(t, routes, "GET /readyz")
}
