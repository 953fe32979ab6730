package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wssxwz/stock-strategy/internal/engine"
	"github.com/wssxwz/stock-strategy/internal/execrouter"
)

func TestHealthzReturnsOK(t *testing.T) {
	srv := New(&engine.Engine{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestStatusBeforeAnyTickReportsZero(t *testing.T) {
	srv := New(&engine.Engine{})
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["ticks_run"])
}

func TestStatusReflectsRecordedTick(t *testing.T) {
	srv := New(&engine.Engine{})
	srv.RecordTick(engine.TickResult{
		StartedAt:  time.Now().UTC(),
		Duration:   2 * time.Second,
		Candidates: 3,
		Exits:      1,
		Committed:  &execrouter.CommittedOrder{Symbol: "AAPL", OrderID: "DRYRUN-AAPL-buy-1", DryRun: true, Qty: 5, LimitPrice: 101.5},
	})

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["candidates"])
	committed := body["committed_order"].(map[string]any)
	assert.Equal(t, "AAPL", committed["symbol"])
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	srv := New(&engine.Engine{})
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stockstrategy_")
}
