package analyzer

import (
	"fmt"
	"strings"
)

// RenderText formats the report for terminals and chat-bot replies.
func (r *Report) RenderText() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Cache Effectiveness Report - %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "%s\n\n", strings.Repeat("=", 60))

	fmt.Fprintf(&b, "Backend:            %s\n", r.CacheBackend)
	fmt.Fprintf(&b, "Total requests:     %d\n", r.TotalRequests)
	fmt.Fprintf(&b, "Hits / misses:      %d / %d\n", r.CacheHits, r.CacheMisses)
	fmt.Fprintf(&b, "Hit rate:           %.1f%%\n", r.HitRate)
	fmt.Fprintf(&b, "Keys accessed:      %d\n", r.TotalCacheKeys)
	fmt.Fprintf(&b, "Performance score:  %.1f / 100\n\n", r.PerformanceScore)

	fmt.Fprintf(&b, "Endpoints:\n")
	if len(r.Endpoints) == 0 {
		fmt.Fprintf(&b, "  (no instrumented traffic yet)\n")
	}
	for _, e := range r.Endpoints {
		fmt.Fprintf(&b, "  [%-9s] %-32s hit %.1f%%  improvement %.1f%%  saved %.0f ms\n",
			e.Classification, e.Endpoint, e.HitRate, e.ImprovementPct, e.TotalTimeSavedMs)
	}

	fmt.Fprintf(&b, "\nRecommendations:\n")
	if len(r.Recommendations) == 0 {
		fmt.Fprintf(&b, "  (none: caching looks healthy)\n")
	}
	for _, rec := range r.Recommendations {
		fmt.Fprintf(&b, "  [%-6s] %s: %s\n", rec.Priority, rec.Title, rec.Detail)
	}

	if r.Trend != nil {
		fmt.Fprintf(&b, "\nTrend over %d snapshot(s), last %d day(s):\n", r.Trend.Snapshots, r.Trend.WindowDays)
		fmt.Fprintf(&b, "  hit rate:  %s (%+.1f pp)\n", r.Trend.HitRateTrend, r.Trend.HitRateDelta)
		fmt.Fprintf(&b, "  requests:  %s (%+.1f%%)\n", r.Trend.RequestsTrend, r.Trend.RequestsDelta)
	}

	return b.String()
}
