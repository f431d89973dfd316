// Package profiler benchmarks the cost of individual cache operations,
// independent of the live request path: per-operation latency and memory
// deltas, heavy-key rankings, leak detection, and a cost-benefit score for
// the caching workload as a whole.
package profiler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/cache"
)

// Operation is a profiled cache backend call.
type Operation string

const (
	OpSet    Operation = "set"
	OpGet    Operation = "get"
	OpDelete Operation = "delete"
)

// DefaultTTL is applied to profiled set operations.
const DefaultTTL = 5 * time.Minute

// leakWindow is how many trailing records the growth check spans.
const leakWindow = 20

// minLeakRecords is the minimum operation count before leak detection is
// meaningful.
const minLeakRecords = 10

// Record is one profiled operation.
type Record struct {
	Operation      Operation `json:"operation"`
	Key            string    `json:"key"`
	ElapsedMs      float64   `json:"elapsed_ms"`
	ValueSizeBytes int       `json:"value_size_bytes"`
	MemBeforeMB    float64   `json:"mem_before_mb"`
	MemAfterMB     float64   `json:"mem_after_mb"`
	MemDeltaMB     float64   `json:"mem_delta_mb"`
	Success        bool      `json:"success"`
	At             time.Time `json:"at"`
}

// KeySize pairs a key with the size of the last value stored under it.
type KeySize struct {
	Key       string `json:"key"`
	SizeBytes int    `json:"size_bytes"`
}

// LeakReport is the outcome of DetectLeaks.
type LeakReport struct {
	Checked      bool     `json:"checked"`
	LeakDetected bool     `json:"leak_detected"`
	GrowthMB     float64  `json:"growth_mb"`
	ThresholdMB  float64  `json:"threshold_mb"`
	Suspects     []Record `json:"suspects,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

// CostAnalysis weighs latency savings against memory cost.
type CostAnalysis struct {
	GetCount          int     `json:"get_count"`
	AvgGetTimeMs      float64 `json:"avg_get_time_ms"`
	DBQueryTimeMs     float64 `json:"db_query_time_ms"`
	TimeSavedPerHitMs float64 `json:"time_saved_per_hit_ms"`
	TotalTimeSavedMs  float64 `json:"total_time_saved_ms"`
	TotalMemoryUsedMB float64 `json:"total_memory_used_mb"`
	MemoryCostPerMs   float64 `json:"memory_cost_per_ms"`
	EfficiencyScore   float64 `json:"efficiency_score"`
}

// Profiler owns an in-process record list. Shared mutable state: every
// access holds the mutex.
type Profiler struct {
	backend cache.Backend
	logger  *zap.SugaredLogger
	clock   clock.Clock

	mu         sync.Mutex
	records    []Record
	keySizes   map[string]int
	baselineMB float64
}

func New(backend cache.Backend, logger *zap.SugaredLogger) *Profiler {
	return newWithClock(backend, logger, clock.New())
}

func newWithClock(backend cache.Backend, logger *zap.SugaredLogger, clk clock.Clock) *Profiler {
	return &Profiler{
		backend:    backend,
		logger:     logger,
		clock:      clk,
		keySizes:   make(map[string]int),
		baselineMB: heapMB(),
	}
}

// ProfileOperation executes op against the backend and records its latency
// and memory cost. Backend failures are recorded as unsuccessful operations,
// not returned: profiling is best-effort like the rest of the subsystem.
func (p *Profiler) ProfileOperation(ctx context.Context, op Operation, key string, value []byte) Record {
	memBefore := heapMB()
	start := p.clock.Now()

	var err error
	switch op {
	case OpSet:
		err = p.backend.Set(ctx, key, value, DefaultTTL)
	case OpGet:
		_, _, err = p.backend.Get(ctx, key)
	case OpDelete:
		_, err = p.backend.Delete(ctx, key)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}

	elapsedMs := float64(p.clock.Now().Sub(start)) / float64(time.Millisecond)
	memAfter := heapMB()

	record := Record{
		Operation:      op,
		Key:            key,
		ElapsedMs:      elapsedMs,
		ValueSizeBytes: len(value),
		MemBeforeMB:    memBefore,
		MemAfterMB:     memAfter,
		MemDeltaMB:     memAfter - memBefore,
		Success:        err == nil,
		At:             start,
	}
	if err != nil {
		p.logger.Warnw("Profiled cache operation failed",
			"error", err, "operation", op, "key", key, "elapsed_ms", elapsedMs)
	}

	p.mu.Lock()
	p.records = append(p.records, record)
	if op == OpSet {
		p.keySizes[key] = len(value)
	}
	p.mu.Unlock()

	return record
}

// HeavyKeys returns the top-N tracked keys by recorded value size,
// descending. Ties break by key for determinism.
func (p *Profiler) HeavyKeys(topN int) []KeySize {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]KeySize, 0, len(p.keySizes))
	for key, size := range p.keySizes {
		out = append(out, KeySize{Key: key, SizeBytes: size})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SizeBytes != out[j].SizeBytes {
			return out[i].SizeBytes > out[j].SizeBytes
		}
		return out[i].Key < out[j].Key
	})
	if topN > 0 && len(out) > topN {
		out = out[:topN]
	}
	return out
}

// DetectLeaks flags sustained growth over the trailing window or any single
// operation whose memory delta exceeds thresholdMB. Requires at least 10
// recorded operations.
func (p *Profiler) DetectLeaks(thresholdMB float64) LeakReport {
	p.mu.Lock()
	defer p.mu.Unlock()

	report := LeakReport{ThresholdMB: thresholdMB}
	if len(p.records) < minLeakRecords {
		report.Reason = fmt.Sprintf("need at least %d operations, have %d", minLeakRecords, len(p.records))
		return report
	}
	report.Checked = true

	window := p.records
	if len(window) > leakWindow {
		window = window[len(window)-leakWindow:]
	}
	report.GrowthMB = window[len(window)-1].MemAfterMB - window[0].MemBeforeMB

	for _, r := range window {
		if r.MemDeltaMB > thresholdMB {
			report.Suspects = append(report.Suspects, r)
		}
	}
	report.LeakDetected = report.GrowthMB > thresholdMB || len(report.Suspects) > 0
	return report
}

// CostAnalysis estimates what caching buys relative to recomputing each hit
// with a dbQueryTimeMs-cost query. The efficiency score blends latency
// savings (60%) against memory cost (40%), clamped to [0, 100].
func (p *Profiler) CostAnalysis(dbQueryTimeMs float64) CostAnalysis {
	p.mu.Lock()
	defer p.mu.Unlock()

	analysis := CostAnalysis{DBQueryTimeMs: dbQueryTimeMs}

	var totalGetMs, totalMemMB float64
	for _, r := range p.records {
		if r.Operation == OpGet {
			analysis.GetCount++
			totalGetMs += r.ElapsedMs
		}
		if r.MemDeltaMB > 0 {
			totalMemMB += r.MemDeltaMB
		}
	}
	analysis.TotalMemoryUsedMB = totalMemMB
	if analysis.GetCount == 0 {
		return analysis
	}

	analysis.AvgGetTimeMs = totalGetMs / float64(analysis.GetCount)
	analysis.TimeSavedPerHitMs = dbQueryTimeMs - analysis.AvgGetTimeMs
	analysis.TotalTimeSavedMs = analysis.TimeSavedPerHitMs * float64(analysis.GetCount)
	if analysis.TotalTimeSavedMs > 0 {
		analysis.MemoryCostPerMs = totalMemMB / analysis.TotalTimeSavedMs
	}

	// Negative savings flow through the time component and are absorbed by
	// the final clamp, so a cache slower than the database scores 0.
	timeComponent := min(analysis.TimeSavedPerHitMs/10*100, 100)
	memoryComponent := clamp(100-analysis.MemoryCostPerMs*1000, 0, 100)
	analysis.EfficiencyScore = clamp(0.6*timeComponent+0.4*memoryComponent, 0, 100)
	return analysis
}

// Report renders the profiler state as formatted text.
func (p *Profiler) Report(dbQueryTimeMs float64) string {
	heavy := p.HeavyKeys(10)
	leaks := p.DetectLeaks(10)
	cost := p.CostAnalysis(dbQueryTimeMs)

	p.mu.Lock()
	recorded := len(p.records)
	baseline := p.baselineMB
	p.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Cache Memory Profile\n")
	fmt.Fprintf(&b, "====================\n")
	fmt.Fprintf(&b, "Operations recorded:  %d\n", recorded)
	fmt.Fprintf(&b, "Baseline memory:      %.2f MB\n", baseline)
	fmt.Fprintf(&b, "Current memory:       %.2f MB\n\n", heapMB())

	fmt.Fprintf(&b, "Heaviest keys:\n")
	if len(heavy) == 0 {
		fmt.Fprintf(&b, "  (none tracked)\n")
	}
	for _, k := range heavy {
		fmt.Fprintf(&b, "  %-48s %d bytes\n", k.Key, k.SizeBytes)
	}

	fmt.Fprintf(&b, "\nLeak check (threshold %.1f MB):\n", leaks.ThresholdMB)
	if !leaks.Checked {
		fmt.Fprintf(&b, "  skipped: %s\n", leaks.Reason)
	} else if leaks.LeakDetected {
		fmt.Fprintf(&b, "  LEAK SUSPECTED: growth %.2f MB, %d suspect operation(s)\n",
			leaks.GrowthMB, len(leaks.Suspects))
		for _, s := range leaks.Suspects {
			fmt.Fprintf(&b, "    %s %s: +%.2f MB\n", s.Operation, s.Key, s.MemDeltaMB)
		}
	} else {
		fmt.Fprintf(&b, "  no leak detected (growth %.2f MB)\n", leaks.GrowthMB)
	}

	fmt.Fprintf(&b, "\nCost-benefit (vs %.1f ms DB query):\n", dbQueryTimeMs)
	fmt.Fprintf(&b, "  gets profiled:       %d\n", cost.GetCount)
	fmt.Fprintf(&b, "  avg get time:        %.3f ms\n", cost.AvgGetTimeMs)
	fmt.Fprintf(&b, "  time saved per hit:  %.3f ms\n", cost.TimeSavedPerHitMs)
	fmt.Fprintf(&b, "  total time saved:    %.1f ms\n", cost.TotalTimeSavedMs)
	fmt.Fprintf(&b, "  memory cost:         %.4f MB/ms\n", cost.MemoryCostPerMs)
	fmt.Fprintf(&b, "  efficiency score:    %.1f / 100\n", cost.EfficiencyScore)
	return b.String()
}

// Reset clears all profiler state.
func (p *Profiler) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = nil
	p.keySizes = make(map[string]int)
	p.baselineMB = heapMB()
}

// Records returns a copy of the recorded operations.
func (p *Profiler) Records() []Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Record(nil), p.records...)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func heapMB() float64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return float64(m.HeapAlloc) / (1024 * 1024)
}
