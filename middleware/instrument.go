// Package middleware instruments cached endpoints: it measures per-request
// latency and resident-memory cost, classifies each response as a cache hit
// or miss through the MarkHit/MarkMiss hooks, and commits the result to the
// metrics registry. It is strictly best-effort: no failure in here may alter
// or fail the wrapped response.
package middleware

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/metrics"
)

type contextKey struct{}

var traceKey contextKey

// trace carries one request's instrumentation state through its context.
type trace struct {
	mu sync.Mutex

	endpoint    string
	start       time.Time
	startHeapMB float64
	hit         bool
	keysUsed    []string
	finished    bool
}

// Instrumenter wraps inbound requests and feeds the registry plus any
// additional sinks.
type Instrumenter struct {
	enabled  bool
	registry *metrics.Registry
	sinks    []metrics.Sink
	logger   *zap.SugaredLogger
	clock    clock.Clock
}

func NewInstrumenter(registry *metrics.Registry, enabled bool, logger *zap.SugaredLogger, sinks ...metrics.Sink) *Instrumenter {
	return newInstrumenterWithClock(registry, enabled, logger, clock.New(), sinks...)
}

func newInstrumenterWithClock(registry *metrics.Registry, enabled bool, logger *zap.SugaredLogger, clk clock.Clock, sinks ...metrics.Sink) *Instrumenter {
	return &Instrumenter{
		enabled:  enabled,
		registry: registry,
		sinks:    sinks,
		logger:   logger,
		clock:    clk,
	}
}

// Begin records the request's timing and memory baseline and returns a
// context carrying the trace. A no-op when monitoring is disabled.
func (in *Instrumenter) Begin(ctx context.Context, endpoint string) context.Context {
	if !in.enabled {
		return ctx
	}
	t := &trace{
		endpoint:    endpoint,
		start:       in.clock.Now(),
		startHeapMB: heapMB(),
	}
	return context.WithValue(ctx, traceKey, t)
}

// Finish computes the elapsed time and memory delta and commits exactly one
// record to the registry and sinks. Internal panics are recovered and logged;
// they never reach the response path. Finish is idempotent per request.
func (in *Instrumenter) Finish(ctx context.Context) {
	if !in.enabled {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			in.logger.Errorw("Instrumentation failed, response unaffected", "panic", r)
		}
	}()

	t := traceFrom(ctx)
	if t == nil {
		return
	}

	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	endpoint := t.endpoint
	hit := t.hit
	keys := append([]string(nil), t.keysUsed...)
	elapsed := in.clock.Now().Sub(t.start)
	memDeltaMB := heapMB() - t.startHeapMB
	t.mu.Unlock()

	in.registry.Record(metrics.RequestSample{
		Endpoint:      endpoint,
		Hit:           hit,
		Elapsed:       elapsed,
		MemoryDeltaMB: memDeltaMB,
		Keys:          keys,
	})
	for _, sink := range in.sinks {
		sink.RecordRequest(ctx, endpoint, hit, elapsed, memDeltaMB)
	}
}

// Wrap is the net/http middleware form of Begin/Finish, keyed by URL path.
func (in *Instrumenter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := in.Begin(r.Context(), r.URL.Path)
		defer in.Finish(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// MarkHit declares that the current request was served from cache. Business
// handlers call this after a successful cache read.
func MarkHit(ctx context.Context, key string) {
	mark(ctx, key, true)
}

// MarkMiss declares that the current request required fresh computation.
func MarkMiss(ctx context.Context, key string) {
	mark(ctx, key, false)
}

func mark(ctx context.Context, key string, hit bool) {
	t := traceFrom(ctx)
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hit = hit
	if key != "" {
		t.keysUsed = append(t.keysUsed, key)
	}
}

func traceFrom(ctx context.Context) *trace {
	t, _ := ctx.Value(traceKey).(*trace)
	return t
}

// heapMB reads the process heap allocation in MB. Used as the per-request
// resident memory proxy.
func heapMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / (1024 * 1024)
}
