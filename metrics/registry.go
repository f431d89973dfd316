package metrics

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// DefaultMaxSamples is the capacity of the memory-sample ring unless
// configured otherwise.
const DefaultMaxSamples = 1000

// RequestSample is one instrumented request as committed by the middleware.
type RequestSample struct {
	Endpoint      string
	Hit           bool
	Elapsed       time.Duration
	MemoryDeltaMB float64
	Keys          []string
}

// Sample is the bounded-ring record kept per request.
type Sample struct {
	Timestamp time.Time `json:"timestamp"`
	MemoryMB  float64   `json:"memory_mb"`
	Endpoint  string    `json:"endpoint"`
	CacheHit  bool      `json:"cache_hit"`
}

// EndpointStat accumulates per-endpoint timing split into cached (hit) and
// uncached (miss) buckets.
type EndpointStat struct {
	Hits                int64
	Misses              int64
	TotalTimeCachedMs   float64
	TotalTimeUncachedMs float64
	CountCached         int64
	CountUncached       int64

	// Running aggregate of per-request memory deltas. Kept as sum and count
	// so the registry stays bounded by the number of endpoints, not the
	// number of requests.
	MemoryDeltaSumMB float64
	MemoryDeltaCount int64
}

// EndpointSnapshot is the read-only derived view of one endpoint.
type EndpointSnapshot struct {
	Endpoint            string  `json:"endpoint"`
	Hits                int64   `json:"hits"`
	Misses              int64   `json:"misses"`
	HitRate             float64 `json:"hit_rate"`
	CountCached         int64   `json:"count_cached"`
	CountUncached       int64   `json:"count_uncached"`
	AvgTimeCachedMs     float64 `json:"avg_time_cached_ms"`
	AvgTimeUncachedMs   float64 `json:"avg_time_uncached_ms"`
	TimeSavedPerHitMs   float64 `json:"time_saved_per_hit_ms"`
	TotalTimeSavedMs    float64 `json:"total_time_saved_ms"`
	AvgMemoryDeltaMB    float64 `json:"avg_memory_delta_mb"`
	TotalTimeCachedMs   float64 `json:"total_time_cached_ms"`
	TotalTimeUncachedMs float64 `json:"total_time_uncached_ms"`
}

// Snapshot is a read-only copy of the registry with derived rates. Reads of
// a snapshot never race with concurrent writes to the registry.
type Snapshot struct {
	TakenAt        time.Time                   `json:"taken_at"`
	TotalRequests  int64                       `json:"total_requests"`
	Hits           int64                       `json:"cache_hits"`
	Misses         int64                       `json:"cache_misses"`
	HitRate        float64                     `json:"hit_rate"`
	MissRate       float64                     `json:"miss_rate"`
	TotalCacheKeys int                         `json:"total_cache_keys"`
	Endpoints      map[string]EndpointSnapshot `json:"endpoints"`
	Samples        []Sample                    `json:"-"`
	KeyAccesses    map[string]int64            `json:"-"`
}

// Registry is the process-wide metrics store. It is constructed once at
// process start and injected into the middleware; all read-modify-write
// paths hold the mutex, so it is safe for concurrent request handlers.
//
// Each process holds an independent Registry. Cross-process aggregation is
// not provided here; substitute a shared Sink for that.
type Registry struct {
	mu sync.Mutex

	totalRequests int64
	hits          int64
	misses        int64
	endpoints     map[string]*EndpointStat
	keysAccessed  map[string]int64
	samples       *Ring[Sample]

	clock clock.Clock
}

func NewRegistry(maxSamples int) *Registry {
	return newRegistryWithClock(maxSamples, clock.New())
}

func newRegistryWithClock(maxSamples int, clk clock.Clock) *Registry {
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Registry{
		endpoints:    make(map[string]*EndpointStat),
		keysAccessed: make(map[string]int64),
		samples:      NewRing[Sample](maxSamples),
		clock:        clk,
	}
}

// Record commits one request's measurements atomically: either every counter
// reflects the sample or none does.
func (r *Registry) Record(sample RequestSample) {
	elapsedMs := float64(sample.Elapsed) / float64(time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalRequests++
	if sample.Hit {
		r.hits++
	} else {
		r.misses++
	}

	stat, ok := r.endpoints[sample.Endpoint]
	if !ok {
		stat = &EndpointStat{}
		r.endpoints[sample.Endpoint] = stat
	}
	if sample.Hit {
		stat.Hits++
		stat.CountCached++
		stat.TotalTimeCachedMs += elapsedMs
	} else {
		stat.Misses++
		stat.CountUncached++
		stat.TotalTimeUncachedMs += elapsedMs
	}
	stat.MemoryDeltaSumMB += sample.MemoryDeltaMB
	stat.MemoryDeltaCount++

	for _, key := range sample.Keys {
		r.keysAccessed[key]++
	}

	r.samples.Append(Sample{
		Timestamp: r.clock.Now(),
		MemoryMB:  sample.MemoryDeltaMB,
		Endpoint:  sample.Endpoint,
		CacheHit:  sample.Hit,
	})
}

// RecordRequest lets the Registry act as the in-process Sink.
func (r *Registry) RecordRequest(_ context.Context, endpoint string, hit bool, elapsed time.Duration, memoryDeltaMB float64) {
	r.Record(RequestSample{
		Endpoint:      endpoint,
		Hit:           hit,
		Elapsed:       elapsed,
		MemoryDeltaMB: memoryDeltaMB,
	})
}

// Snapshot returns a deep copy with derived hit/miss rates and per-endpoint
// averages. The result is safe to read without further locking.
func (r *Registry) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		TakenAt:        r.clock.Now(),
		TotalRequests:  r.totalRequests,
		Hits:           r.hits,
		Misses:         r.misses,
		TotalCacheKeys: len(r.keysAccessed),
		Endpoints:      make(map[string]EndpointSnapshot, len(r.endpoints)),
		Samples:        r.samples.Items(),
		KeyAccesses:    make(map[string]int64, len(r.keysAccessed)),
	}
	snap.HitRate = rate(r.hits, r.hits+r.misses)
	snap.MissRate = rate(r.misses, r.hits+r.misses)

	for endpoint, stat := range r.endpoints {
		snap.Endpoints[endpoint] = deriveEndpoint(endpoint, stat)
	}
	for key, count := range r.keysAccessed {
		snap.KeyAccesses[key] = count
	}
	return snap
}

// Reset zeroes the entire registry. Calling it twice yields the same zeroed
// state.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.totalRequests = 0
	r.hits = 0
	r.misses = 0
	r.endpoints = make(map[string]*EndpointStat)
	r.keysAccessed = make(map[string]int64)
	r.samples.Reset()
}

// SortedEndpoints returns the snapshot's endpoints in deterministic order.
func (s Snapshot) SortedEndpoints() []EndpointSnapshot {
	out := make([]EndpointSnapshot, 0, len(s.Endpoints))
	for _, e := range s.Endpoints {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func deriveEndpoint(endpoint string, stat *EndpointStat) EndpointSnapshot {
	es := EndpointSnapshot{
		Endpoint:            endpoint,
		Hits:                stat.Hits,
		Misses:              stat.Misses,
		HitRate:             rate(stat.Hits, stat.Hits+stat.Misses),
		CountCached:         stat.CountCached,
		CountUncached:       stat.CountUncached,
		TotalTimeCachedMs:   stat.TotalTimeCachedMs,
		TotalTimeUncachedMs: stat.TotalTimeUncachedMs,
	}
	if stat.CountCached > 0 {
		es.AvgTimeCachedMs = stat.TotalTimeCachedMs / float64(stat.CountCached)
	}
	if stat.CountUncached > 0 {
		es.AvgTimeUncachedMs = stat.TotalTimeUncachedMs / float64(stat.CountUncached)
	}
	es.TimeSavedPerHitMs = es.AvgTimeUncachedMs - es.AvgTimeCachedMs
	es.TotalTimeSavedMs = es.TimeSavedPerHitMs * float64(stat.CountCached)
	if stat.MemoryDeltaCount > 0 {
		es.AvgMemoryDeltaMB = stat.MemoryDeltaSumMB / float64(stat.MemoryDeltaCount)
	}
	return es
}

// rate returns hits/total*100, or 0 when total is 0. Always within [0, 100].
func rate(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
