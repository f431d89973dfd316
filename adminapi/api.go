// Package adminapi exposes the cache monitoring subsystem over HTTP for
// operators: live statistics, memory breakdowns, key inventories,
// performance reports, history, and the privileged reset/clear operations.
package adminapi

import (
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/analyzer"
	"github.com/kudoslab/kudos/history"
	"github.com/kudoslab/kudos/invalidation"
	"github.com/kudoslab/kudos/metrics"
	"github.com/kudoslab/kudos/profiler"
)

const defaultHistoryDays = 7

// maxSampleKeys caps the keys echoed back by /cache/stats.
const maxSampleKeys = 10

// API wires the monitoring components to their admin HTTP surface.
type API struct {
	registry    *metrics.Registry
	analyzer    *analyzer.Analyzer
	store       *history.Store
	coordinator *invalidation.Coordinator
	profiler    *profiler.Profiler
	backend     string
	adminKey    string
	logger      *zap.SugaredLogger
}

func New(
	registry *metrics.Registry,
	an *analyzer.Analyzer,
	store *history.Store,
	coordinator *invalidation.Coordinator,
	prof *profiler.Profiler,
	backend string,
	adminKey string,
	logger *zap.SugaredLogger,
) *API {
	return &API{
		registry:    registry,
		analyzer:    an,
		store:       store,
		coordinator: coordinator,
		profiler:    prof,
		backend:     backend,
		adminKey:    adminKey,
		logger:      logger,
	}
}

// RegisterRoutes mounts the admin surface. The mutating operations require
// the admin key; inspection endpoints do not.
func (api *API) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/cache/stats", api.GetStats).Methods("GET")
	router.HandleFunc("/cache/memory", api.GetMemory).Methods("GET")
	router.HandleFunc("/cache/keys", api.GetKeys).Methods("GET")
	router.HandleFunc("/cache/performance", api.GetPerformance).Methods("GET")
	router.HandleFunc("/cache/history", api.GetHistory).Methods("GET")
	router.HandleFunc("/cache/reset", api.requireAdmin(api.PostReset)).Methods("POST")
	router.HandleFunc("/cache/clear", api.requireAdmin(api.PostClear)).Methods("POST")
}

// GetStats handles GET /cache/stats.
func (api *API) GetStats(w http.ResponseWriter, r *http.Request) {
	snap := api.registry.Snapshot()

	sampleKeys := make([]string, 0, len(snap.KeyAccesses))
	for key := range snap.KeyAccesses {
		sampleKeys = append(sampleKeys, key)
	}
	sort.Strings(sampleKeys)
	if len(sampleKeys) > maxSampleKeys {
		sampleKeys = sampleKeys[:maxSampleKeys]
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"statistics": map[string]any{
			"total_requests": snap.TotalRequests,
			"cache_hits":     snap.Hits,
			"cache_misses":   snap.Misses,
			"hit_rate":       snap.HitRate,
			"miss_rate":      snap.MissRate,
		},
		"endpoints": snap.SortedEndpoints(),
		"cache_info": map[string]any{
			"backend":     api.backend,
			"total_keys":  snap.TotalCacheKeys,
			"sample_keys": sampleKeys,
		},
	})
}

// GetMemory handles GET /cache/memory.
func (api *API) GetMemory(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	snap := api.registry.Snapshot()
	var sampleSum float64
	for _, s := range snap.Samples {
		sampleSum += s.MemoryMB
	}
	var sampleAvg float64
	if len(snap.Samples) > 0 {
		sampleAvg = sampleSum / float64(len(snap.Samples))
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"process": map[string]any{
			"heap_alloc_mb": float64(m.HeapAlloc) / (1024 * 1024),
			"heap_sys_mb":   float64(m.HeapSys) / (1024 * 1024),
			"sys_mb":        float64(m.Sys) / (1024 * 1024),
			"num_gc":        m.NumGC,
			"goroutines":    runtime.NumGoroutine(),
		},
		"cache": map[string]any{
			"backend":             api.backend,
			"samples_retained":    len(snap.Samples),
			"avg_sample_delta_mb": sampleAvg,
			"heavy_keys":          api.profiler.HeavyKeys(10),
			"profiled_operations": len(api.profiler.Records()),
		},
	})
}

// GetKeys handles GET /cache/keys.
func (api *API) GetKeys(w http.ResponseWriter, r *http.Request) {
	snap := api.registry.Snapshot()

	type keyDetail struct {
		Key      string `json:"key"`
		Accesses int64  `json:"accesses"`
	}
	details := make([]keyDetail, 0, len(snap.KeyAccesses))
	for key, count := range snap.KeyAccesses {
		details = append(details, keyDetail{Key: key, Accesses: count})
	}
	sort.Slice(details, func(i, j int) bool {
		if details[i].Accesses != details[j].Accesses {
			return details[i].Accesses > details[j].Accesses
		}
		return details[i].Key < details[j].Key
	})

	api.writeJSON(w, http.StatusOK, map[string]any{
		"total_keys":    snap.TotalCacheKeys,
		"keys_accessed": snap.TotalCacheKeys,
		"key_details":   details,
	})
}

// GetPerformance handles GET /cache/performance.
func (api *API) GetPerformance(w http.ResponseWriter, r *http.Request) {
	snap := api.registry.Snapshot()
	report := api.analyzer.Evaluate(snap, nil, 0)

	top := append([]analyzer.EndpointReport(nil), report.Endpoints...)
	sort.Slice(top, func(i, j int) bool {
		if top[i].TotalTimeSavedMs != top[j].TotalTimeSavedMs {
			return top[i].TotalTimeSavedMs > top[j].TotalTimeSavedMs
		}
		return top[i].Endpoint < top[j].Endpoint
	})
	if len(top) > 3 {
		top = top[:3]
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"overall": map[string]any{
			"hit_rate":          report.HitRate,
			"performance_score": report.PerformanceScore,
			"total_requests":    report.TotalRequests,
			"recommendations":   report.Recommendations,
		},
		"top_performers": top,
	})
}

// GetHistory handles GET /cache/history?days=N.
func (api *API) GetHistory(w http.ResponseWriter, r *http.Request) {
	days := defaultHistoryDays
	if d := r.URL.Query().Get("days"); d != "" {
		parsed, err := strconv.Atoi(d)
		if err != nil || parsed <= 0 {
			api.writeError(w, http.StatusBadRequest, "invalid_request", "days must be a positive integer")
			return
		}
		days = parsed
	}

	records, err := api.store.ListSince(days)
	if err != nil {
		api.logger.Errorw("Failed to load metrics history", "error", err, "days", days)
		api.writeError(w, http.StatusInternalServerError, "history_failed", "Failed to load metrics history")
		return
	}
	if records == nil {
		records = []history.Record{}
	}

	api.writeJSON(w, http.StatusOK, map[string]any{
		"days":    days,
		"count":   len(records),
		"records": records,
	})
}

// PostReset handles POST /cache/reset: persists the current snapshot, then
// zeroes the live counters.
func (api *API) PostReset(w http.ResponseWriter, r *http.Request) {
	snap := api.registry.Snapshot()
	score := api.analyzer.PerformanceScore(snap)

	record, err := api.store.Save(snap, api.backend, score)
	if err != nil {
		api.logger.Errorw("Failed to persist snapshot before reset", "error", err)
		api.writeError(w, http.StatusInternalServerError, "snapshot_failed", "Failed to persist snapshot")
		return
	}

	api.registry.Reset()
	api.logger.Infow("Metrics registry reset", "snapshot_id", record.ID)

	api.writeJSON(w, http.StatusOK, map[string]any{
		"message":     "Metrics persisted and reset",
		"snapshot_id": record.ID,
		"timestamp":   time.Now(),
	})
}

// PostClear handles POST /cache/clear: the explicit administrative full
// cache wipe.
func (api *API) PostClear(w http.ResponseWriter, r *http.Request) {
	if err := api.coordinator.ClearAll(r.Context()); err != nil {
		api.writeError(w, http.StatusInternalServerError, "clear_failed", "Failed to clear cache")
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]any{
		"message":   "Cache cleared",
		"timestamp": time.Now(),
	})
}

func (api *API) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if api.adminKey == "" || token != api.adminKey {
			api.writeError(w, http.StatusForbidden, "forbidden", "Admin credentials required")
			return
		}
		next(w, r)
	}
}

func (api *API) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Errorw("Failed to encode JSON response", "error", err)
	}
}

func (api *API) writeError(w http.ResponseWriter, status int, errorType, message string) {
	api.writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"type":    errorType,
			"message": message,
			"code":    status,
		},
	})
}
