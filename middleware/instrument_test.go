package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kudoslab/kudos/metrics"
)

func TestBeginMarkFinishCommitsOneSample(t *testing.T) {
	registry := metrics.NewRegistry(100)
	mockClock := clock.NewMock()
	in := newInstrumenterWithClock(registry, true, zaptest.NewLogger(t).Sugar(), mockClock)

	ctx := in.Begin(context.Background(), "/points/history")
	MarkHit(ctx, "kudos:points:42:history:25")
	mockClock.Add(5 * time.Millisecond)
	in.Finish(ctx)

	snap := registry.Snapshot()
	require.Equal(t, int64(1), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.Hits)

	stat, ok := snap.Endpoints["/points/history"]
	require.True(t, ok)
	assert.Equal(t, int64(1), stat.Hits)
	assert.InDelta(t, 5.0, stat.AvgTimeCachedMs, 1e-9)
	assert.Equal(t, int64(1), snap.KeyAccesses["kudos:points:42:history:25"])
}

func TestFinishDefaultsToMiss(t *testing.T) {
	registry := metrics.NewRegistry(100)
	in := NewInstrumenter(registry, true, zaptest.NewLogger(t).Sugar())

	ctx := in.Begin(context.Background(), "/dashboard")
	in.Finish(ctx)

	snap := registry.Snapshot()
	assert.Equal(t, int64(0), snap.Hits)
	assert.Equal(t, int64(1), snap.Misses)
}

func TestFinishIsIdempotent(t *testing.T) {
	registry := metrics.NewRegistry(100)
	in := NewInstrumenter(registry, true, zaptest.NewLogger(t).Sugar())

	ctx := in.Begin(context.Background(), "/feed")
	MarkHit(ctx, "kudos:feed:42:10")
	in.Finish(ctx)
	in.Finish(ctx)
	in.Finish(ctx)

	snap := registry.Snapshot()
	assert.Equal(t, int64(1), snap.TotalRequests)
}

func TestDisabledInstrumenterIsNoOp(t *testing.T) {
	registry := metrics.NewRegistry(100)
	in := NewInstrumenter(registry, false, zaptest.NewLogger(t).Sugar())

	ctx := in.Begin(context.Background(), "/dashboard")
	MarkHit(ctx, "kudos:dashboard:42:7days")
	in.Finish(ctx)

	snap := registry.Snapshot()
	assert.Zero(t, snap.TotalRequests)
}

func TestMarkWithoutTraceIsSafe(t *testing.T) {
	// Handlers may run outside the middleware, e.g. in unit tests.
	MarkHit(context.Background(), "kudos:user:1:summary")
	MarkMiss(context.Background(), "")
}

func TestFinishWithoutBeginIsSafe(t *testing.T) {
	registry := metrics.NewRegistry(100)
	in := NewInstrumenter(registry, true, zaptest.NewLogger(t).Sugar())

	in.Finish(context.Background())

	assert.Zero(t, registry.Snapshot().TotalRequests)
}

func TestWrapInstrumentsByPath(t *testing.T) {
	registry := metrics.NewRegistry(100)
	in := NewInstrumenter(registry, true, zaptest.NewLogger(t).Sugar())

	handler := in.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		MarkHit(r.Context(), "kudos:leaderboard:global:weekly:10")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/leaderboard", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	snap := registry.Snapshot()
	require.Equal(t, int64(1), snap.TotalRequests)
	_, ok := snap.Endpoints["/leaderboard"]
	assert.True(t, ok)
	assert.Equal(t, int64(1), snap.Hits)
}

func TestWrapNeverAltersResponseOnSinkPanic(t *testing.T) {
	registry := metrics.NewRegistry(100)
	in := NewInstrumenter(registry, true, zaptest.NewLogger(t).Sugar(), panickingSink{})

	handler := in.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	rec := httptest.NewRecorder()

	require.NotPanics(t, func() { handler.ServeHTTP(rec, req) })
	assert.Equal(t, http.StatusOK, rec.Code)
}

type panickingSink struct{}

func (panickingSink) RecordRequest(context.Context, string, bool, time.Duration, float64) {
	panic("sink exploded")
}
