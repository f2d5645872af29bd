package runtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/predictflow/internal/runtime/envelope"
	"github.com/drblury/predictflow/internal/runtime/jsoncodec"
)

func TestHandleGetStatsReturnsJSON(t *testing.T) {
	b := newFakeBroker()
	stubBroker(t, b, nil)
	cfg := testConfig()
	cfg.MetricsEnabled = true

	svc, err := NewService(context.Background(), cfg, newTestLogger(), ServiceDependencies{Scorer: constantScorer, Registry: prometheus.NewRegistry()})
	require.NoError(t, err)

	svc.Worker().Handle(context.Background(), envelope.Delivery{Tag: 1, Body: []byte(`[{"ticketId":1}]`), ReplyTo: "r"})
	svc.Worker().Handle(context.Background(), envelope.Delivery{Tag: 2, Body: []byte(`{`), ReplyTo: "r"})

	rec := httptest.NewRecorder()
	svc.httpServers[cfg.MetricsPort].ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var stats WorkerStats
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, cfg.RequestQueue, stats.Queue)
	assert.Equal(t, "idle", stats.State)
	assert.True(t, stats.Connected)
	assert.Equal(t, uint64(1), stats.Totals.Acked)
	assert.Equal(t, uint64(1), stats.Totals.Nacked)
	assert.Equal(t, uint64(1), stats.Totals.Predictions)
	assert.Equal(t, uint64(1), stats.Totals.FailedByKind["decode"])
}

func TestHandleGetStatsRejectsOtherMethods(t *testing.T) {
	svc := &Service{Logger: newTestLogger()}
	rec := httptest.NewRecorder()
	svc.handleGetStats(rec, httptest.NewRequest(http.MethodPost, "/api/stats", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestStatsWithoutWorker(t *testing.T) {
	svc := &Service{}
	stats := svc.Stats()
	assert.False(t, stats.Connected)
	assert.Empty(t, stats.State)
	assert.Empty(t, stats.Queue)
}
