package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sigex/internal/application/port"
	"sigex/internal/application/service"
	"sigex/internal/application/usecase/engine"
	"sigex/internal/domain/model"
	domainsvc "sigex/internal/domain/service"
	"sigex/internal/infrastructure/storage/sqlite"
)

type noVenues struct{}

func (noVenues) Adapter(string) (port.VenueAdapter, bool) { return nil, false }

func newTestServer(t *testing.T) (*Server, *sqlite.Repo) {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	exec := service.NewExecutorService(repo, noVenues{}, engine.NewNoopSink(),
		domainsvc.DefaultRetryPolicy(), time.Second)
	eng := engine.NewService(engine.ServiceDeps{
		Repo:        repo,
		Executor:    exec,
		ServiceName: "signal-execution-engine",
		Interval:    time.Minute,
		BatchSize:   20,
		MaxRetryAge: 24 * time.Hour,
	})
	return NewServer(eng, service.NewQuotaService(repo), service.NewPositionService(repo), repo), repo
}

func doJSON(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var decoded map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	}
	return rec, decoded
}

func TestHealthOK(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Routes(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "signal-execution-engine", body["service"])
	assert.Equal(t, "1m0s", body["interval"])
	assert.Equal(t, false, body["isRunning"])
}

func TestHealthDegradedWhenStorageDown(t *testing.T) {
	srv, repo := newTestServer(t)
	repo.Close()

	rec, body := doJSON(t, srv.Routes(), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", body["status"])
	assert.NotEmpty(t, body["lastError"])
}

func TestQuotaLifecycleOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)
	routes := srv.Routes()

	rec, _ := doJSON(t, routes, http.MethodPost, "/quota/mint",
		`{"wallet":"0xABC","amount":2,"idempotencyKey":"checkout-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// replay is a 200 no-op
	rec, _ = doJSON(t, routes, http.MethodPost, "/quota/mint",
		`{"wallet":"0xABC","amount":2,"idempotencyKey":"checkout-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := doJSON(t, routes, http.MethodGet, "/quota/balance?wallet=0xabc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["total"])
	assert.Equal(t, 2.0, body["remaining"])

	rec, body = doJSON(t, routes, http.MethodPost, "/quota/reserve", `{"wallet":"0xabc"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, 1.0, body["remaining"])
}

func TestQuotaReserveUnknownWallet(t *testing.T) {
	srv, _ := newTestServer(t)

	rec, body := doJSON(t, srv.Routes(), http.MethodPost, "/quota/reserve", `{"wallet":"0xnobody"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "No trade quota found", body["message"])
}

func TestQuotaMintValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t)
	routes := srv.Routes()

	rec, _ := doJSON(t, routes, http.MethodPost, "/quota/mint",
		`{"wallet":"0xabc","amount":0,"idempotencyKey":"k"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, routes, http.MethodPost, "/quota/mint", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = doJSON(t, routes, http.MethodGet, "/quota/balance", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPositionsEndpoint(t *testing.T) {
	srv, repo := newTestServer(t)
	ctx := context.Background()

	_, err := repo.InsertPositionIfAbsent(ctx, &model.Position{
		ID: "pos-1", DeploymentID: "dep-1", SignalID: "sig-1",
		Venue: "hyperliquid", TokenSymbol: "BTC", Side: model.SideBuy,
		Qty: 0.01, EntryPrice: 45000, TxHash: "0xtx",
		Status: model.PositionOpen, OpenTime: time.Now().UnixMilli(),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/positions?deployment=dep-1", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var positions []model.Position
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &positions))
	require.Len(t, positions, 1)
	assert.Equal(t, "sig-1", positions[0].SignalID)

	rec, _ = doJSON(t, srv.Routes(), http.MethodGet, "/positions", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthIntervalReflectsConfig(t *testing.T) {
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "api2.db"))
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	exec := service.NewExecutorService(repo, noVenues{}, engine.NewNoopSink(),
		domainsvc.DefaultRetryPolicy(), time.Second)
	eng := engine.NewService(engine.ServiceDeps{
		Repo: repo, Executor: exec, ServiceName: "sigex", Interval: 15 * time.Second,
		BatchSize: 5, MaxRetryAge: time.Hour,
	})
	srv := NewServer(eng, service.NewQuotaService(repo), service.NewPositionService(repo), repo)

	rec, body := doJSON(t, srv.Routes(), http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "15s", body["interval"])

	require.NoError(t, repo.Ping(context.Background()))
}
