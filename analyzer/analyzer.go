// Package analyzer turns live and historical cache metrics into a ranked,
// actionable effectiveness report: per-endpoint classifications, prioritized
// recommendations, a blended performance score, and trend analysis over
// persisted snapshots.
package analyzer

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kudoslab/kudos/history"
	"github.com/kudoslab/kudos/metrics"
)

// Classification buckets an endpoint's caching effectiveness.
type Classification string

const (
	ClassExcellent Classification = "excellent"
	ClassGood      Classification = "good"
	ClassModerate  Classification = "moderate"
	ClassPoor      Classification = "poor"
)

// Trend direction labels.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
)

// Bands separating stable from moving trends: ±2 percentage points of hit
// rate, ±10% of request volume.
const (
	hitRateTrendBand  = 2.0
	requestsTrendBand = 10.0
)

// productionBackends are cache backends considered production-grade. Anything
// else earns a high-priority migration recommendation.
var productionBackends = map[string]bool{
	"valkey": true,
	"redis":  true,
}

// EndpointReport is one endpoint's classified effectiveness.
type EndpointReport struct {
	Endpoint          string         `json:"endpoint"`
	Requests          int64          `json:"requests"`
	HitRate           float64        `json:"hit_rate"`
	ImprovementPct    float64        `json:"improvement_pct"`
	AvgTimeCachedMs   float64        `json:"avg_time_cached_ms"`
	AvgTimeUncachedMs float64        `json:"avg_time_uncached_ms"`
	TotalTimeSavedMs  float64        `json:"total_time_saved_ms"`
	Classification    Classification `json:"classification"`
}

// Recommendation is a priority-tagged tuning suggestion.
type Recommendation struct {
	Priority string `json:"priority"` // high, medium, low
	Title    string `json:"title"`
	Detail   string `json:"detail"`
}

// Trend compares the newest persisted snapshot against the oldest in the
// window.
type Trend struct {
	Snapshots     int     `json:"snapshots"`
	WindowDays    int     `json:"window_days"`
	HitRateDelta  float64 `json:"hit_rate_delta"`
	RequestsDelta float64 `json:"requests_delta_pct"`
	HitRateTrend  string  `json:"hit_rate_trend"`
	RequestsTrend string  `json:"requests_trend"`
}

// Report is the structured effectiveness document.
type Report struct {
	GeneratedAt      time.Time        `json:"generated_at"`
	CacheBackend     string           `json:"cache_backend"`
	TotalRequests    int64            `json:"total_requests"`
	CacheHits        int64            `json:"cache_hits"`
	CacheMisses      int64            `json:"cache_misses"`
	HitRate          float64          `json:"hit_rate"`
	MissRate         float64          `json:"miss_rate"`
	TotalCacheKeys   int              `json:"total_cache_keys"`
	PerformanceScore float64          `json:"performance_score"`
	Endpoints        []EndpointReport `json:"endpoints"`
	Recommendations  []Recommendation `json:"recommendations"`
	Trend            *Trend           `json:"trend,omitempty"`
}

// Analyzer evaluates snapshots. It holds no mutable state, so identical
// inputs always produce identical reports.
type Analyzer struct {
	backend string
	logger  *zap.SugaredLogger
}

func New(backend string, logger *zap.SugaredLogger) *Analyzer {
	return &Analyzer{backend: backend, logger: logger}
}

// Evaluate builds the full report from a live snapshot and the persisted
// records of the trailing windowDays.
func (a *Analyzer) Evaluate(snap metrics.Snapshot, records []history.Record, windowDays int) *Report {
	report := &Report{
		GeneratedAt:    snap.TakenAt,
		CacheBackend:   a.backend,
		TotalRequests:  snap.TotalRequests,
		CacheHits:      snap.Hits,
		CacheMisses:    snap.Misses,
		HitRate:        snap.HitRate,
		MissRate:       snap.MissRate,
		TotalCacheKeys: snap.TotalCacheKeys,
	}

	for _, e := range snap.SortedEndpoints() {
		report.Endpoints = append(report.Endpoints, classifyEndpoint(e))
	}

	report.PerformanceScore = a.PerformanceScore(snap)
	report.Recommendations = a.recommend(report)
	report.Trend = analyzeTrend(records, windowDays)
	return report
}

func classifyEndpoint(e metrics.EndpointSnapshot) EndpointReport {
	r := EndpointReport{
		Endpoint:          e.Endpoint,
		Requests:          e.Hits + e.Misses,
		HitRate:           e.HitRate,
		AvgTimeCachedMs:   e.AvgTimeCachedMs,
		AvgTimeUncachedMs: e.AvgTimeUncachedMs,
		TotalTimeSavedMs:  e.TotalTimeSavedMs,
	}
	if e.AvgTimeUncachedMs > 0 {
		r.ImprovementPct = (e.AvgTimeUncachedMs - e.AvgTimeCachedMs) / e.AvgTimeUncachedMs * 100
	}

	switch {
	case r.HitRate >= 80 && r.ImprovementPct >= 50:
		r.Classification = ClassExcellent
	case r.HitRate >= 60 && r.ImprovementPct >= 30:
		r.Classification = ClassGood
	case r.HitRate >= 40 && r.ImprovementPct >= 20:
		r.Classification = ClassModerate
	default:
		r.Classification = ClassPoor
	}
	return r
}

// PerformanceScore blends hit rate (40%), average latency improvement (30%),
// the share of effective endpoints (20%), and key utilization (10%). Always
// within [0, 100].
func (a *Analyzer) PerformanceScore(snap metrics.Snapshot) float64 {
	endpoints := snap.SortedEndpoints()

	var improvementSum float64
	var effective int
	for _, e := range endpoints {
		report := classifyEndpoint(e)
		// Negative improvements count against the average; the final clamp
		// bounds the score. ImprovementPct never exceeds 100 by construction.
		improvementSum += report.ImprovementPct
		if report.Classification == ClassExcellent || report.Classification == ClassGood {
			effective++
		}
	}

	var avgImprovement, effectivePct float64
	if len(endpoints) > 0 {
		avgImprovement = improvementSum / float64(len(endpoints))
		effectivePct = float64(effective) / float64(len(endpoints)) * 100
	}

	var utilization float64
	if snap.TotalCacheKeys > 0 {
		utilization = clamp(float64(snap.TotalRequests)/float64(snap.TotalCacheKeys)*10, 0, 100)
	}

	score := snap.HitRate*0.4 + avgImprovement*0.3 + effectivePct*0.2 + utilization*0.1
	return clamp(score, 0, 100)
}

func (a *Analyzer) recommend(report *Report) []Recommendation {
	var recs []Recommendation

	switch {
	case report.HitRate < 50:
		recs = append(recs, Recommendation{
			Priority: "high",
			Title:    "Low overall hit rate",
			Detail:   "Increase TTLs and review cache key generation; most requests are recomputed.",
		})
	case report.HitRate <= 70:
		recs = append(recs, Recommendation{
			Priority: "medium",
			Title:    "Moderate hit rate",
			Detail:   "Tune invalidation so entries survive longer between mutations.",
		})
	}

	var poor []string
	for _, e := range report.Endpoints {
		if e.Classification == ClassPoor {
			poor = append(poor, e.Endpoint)
		}
	}
	if len(poor) > 0 {
		sort.Strings(poor)
		if len(poor) > 3 {
			poor = poor[:3]
		}
		recs = append(recs, Recommendation{
			Priority: "medium",
			Title:    "Poorly performing endpoints",
			Detail:   "Review caching for: " + joinComma(poor),
		})
	}

	var barelyUsed []string
	for _, e := range report.Endpoints {
		if e.HitRate < 30 && e.Requests > 10 {
			barelyUsed = append(barelyUsed, e.Endpoint)
		}
	}
	if len(barelyUsed) > 0 {
		sort.Strings(barelyUsed)
		recs = append(recs, Recommendation{
			Priority: "low",
			Title:    "Caching rarely pays off",
			Detail:   "Remove caching or adjust TTL for: " + joinComma(barelyUsed),
		})
	}

	if report.TotalCacheKeys > 5000 {
		recs = append(recs, Recommendation{
			Priority: "medium",
			Title:    "Large key population",
			Detail:   "Over 5000 distinct keys accessed; review the memory footprint and key cardinality.",
		})
	}

	if !productionBackends[report.CacheBackend] {
		recs = append(recs, Recommendation{
			Priority: "high",
			Title:    "Non-production cache backend",
			Detail:   "Backend \"" + report.CacheBackend + "\" is not production-grade; migrate to Valkey or Redis.",
		})
	}

	return recs
}

// analyzeTrend compares the newest persisted record against the oldest.
// Requires at least two records; returns nil otherwise.
func analyzeTrend(records []history.Record, windowDays int) *Trend {
	if len(records) < 2 {
		return nil
	}
	sorted := append([]history.Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	oldest, newest := sorted[0], sorted[len(sorted)-1]

	t := &Trend{
		Snapshots:    len(records),
		WindowDays:   windowDays,
		HitRateDelta: newest.HitRate - oldest.HitRate,
	}
	if oldest.TotalRequests > 0 {
		t.RequestsDelta = (float64(newest.TotalRequests) - float64(oldest.TotalRequests)) /
			float64(oldest.TotalRequests) * 100
	}

	t.HitRateTrend = direction(t.HitRateDelta, hitRateTrendBand)
	t.RequestsTrend = direction(t.RequestsDelta, requestsTrendBand)
	return t
}

func direction(delta, band float64) string {
	switch {
	case delta > band:
		return TrendImproving
	case delta < -band:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
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
