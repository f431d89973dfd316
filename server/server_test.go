package server

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kudoslab/kudos/config"
	"github.com/kudoslab/kudos/metrics"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:          8080,
		AdminApiKey:   "test-key",
		HistoryDBPath: filepath.Join(t.TempDir(), "history.db"),
		Monitoring: config.MonitoringConfig{
			Enabled:    true,
			MaxSamples: 100,
		},
		Cache: config.CacheConfig{
			MaxMemoryBytes: 1 << 20,
			DefaultTTL:     "15m",
		},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)
	return s
}

func TestNewWiresMemoryBackendByDefault(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, "memory", s.Backend.Name())
	assert.Equal(t, 15*time.Minute, s.DefaultTTL)
	assert.NotNil(t, s.Registry)
	assert.NotNil(t, s.Instrumenter)
	assert.NotNil(t, s.Coordinator)
	assert.NotNil(t, s.Profiler)
	assert.NotNil(t, s.History)
	assert.NotNil(t, s.Analyzer)
	assert.Equal(t, 37, s.Coordinator.Catalog().Size())
}

func TestNewRejectsInvalidDefaultTTL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.DefaultTTL = "soon"

	_, err := New(cfg, zaptest.NewLogger(t).Sugar())
	assert.ErrorContains(t, err, "invalid default TTL")
}

func TestRouterServesAdminSurface(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/cache/stats", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/cache/clear", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouterMountsPrometheusWhenEnabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.Prometheus = &metrics.PrometheusConfig{
		Enabled:   true,
		Namespace: "kudos",
	}

	s, err := New(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSetupSinksWithoutSharedSinkHasNoCleanup(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.Prometheus = &metrics.PrometheusConfig{
		Enabled:   true,
		Namespace: "kudos",
	}

	sinks, promSink, cleanup, err := setupSinks(cfg, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Len(t, sinks, 1)
	assert.NotNil(t, promSink)
	// The shared sink is the only sink that owns a connection; without it
	// there is nothing to release on Shutdown.
	assert.Nil(t, cleanup)
}

func TestEvaluateCacheWithSave(t *testing.T) {
	s := newTestServer(t)

	s.Registry.Record(metrics.RequestSample{
		Endpoint: "/points/history", Hit: false, Elapsed: 120 * time.Millisecond,
	})
	for i := 0; i < 9; i++ {
		s.Registry.Record(metrics.RequestSample{
			Endpoint: "/points/history", Hit: true, Elapsed: 5 * time.Millisecond,
		})
	}

	report, err := s.EvaluateCache(7, true)
	require.NoError(t, err)
	assert.Equal(t, "memory", report.CacheBackend)
	assert.InDelta(t, 90.0, report.HitRate, 1e-9)

	records, err := s.History.ListSince(7)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(10), records[0].TotalRequests)

	// Without save, no new record appears.
	_, err = s.EvaluateCache(7, false)
	require.NoError(t, err)
	records, err = s.History.ListSince(7)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestShutdownIsIdempotent(t *testing.T) {
	s, err := New(testConfig(t), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	s.Shutdown()
	assert.NotPanics(t, s.Shutdown)
}
