// Package history persists metrics snapshots so the effectiveness analyzer
// can compare the live registry against past behavior. Records are written
// once on an explicit save or reset and never updated.
package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/metrics"
)

// Record is one immutable persisted snapshot.
type Record struct {
	ID                        int64     `json:"id"`
	Timestamp                 time.Time `json:"timestamp"`
	TotalRequests             int64     `json:"total_requests"`
	CacheHits                 int64     `json:"cache_hits"`
	CacheMisses               int64     `json:"cache_misses"`
	HitRate                   float64   `json:"hit_rate"`
	AvgResponseTimeCachedMs   float64   `json:"avg_response_time_cached_ms"`
	AvgResponseTimeUncachedMs float64   `json:"avg_response_time_uncached_ms"`
	TimeSavedTotalMs          float64   `json:"time_saved_total_ms"`
	CacheSizeKeys             int       `json:"cache_size_keys"`
	EndpointStats             string    `json:"endpoint_stats"`
	CacheBackend              string    `json:"cache_backend"`
	EfficiencyScore           float64   `json:"efficiency_score"`
}

const schema = `
CREATE TABLE IF NOT EXISTS cache_metrics_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	total_requests INTEGER NOT NULL,
	cache_hits INTEGER NOT NULL,
	cache_misses INTEGER NOT NULL,
	hit_rate REAL NOT NULL,
	avg_response_time_cached_ms REAL NOT NULL,
	avg_response_time_uncached_ms REAL NOT NULL,
	time_saved_total_ms REAL NOT NULL,
	cache_size_keys INTEGER NOT NULL,
	endpoint_stats TEXT NOT NULL,
	cache_backend TEXT NOT NULL,
	efficiency_score REAL NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_metrics_history_timestamp
	ON cache_metrics_history (timestamp);
`

// Store wraps the snapshot table. SQLite keeps the dependency surface small
// for a per-process history; swap the DSN for a shared database if several
// workers must write to one history.
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func Open(path string, logger *zap.SugaredLogger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %v", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create history schema: %v", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Save persists the snapshot as a new record and returns it. efficiencyScore
// is the analyzer's blended score at save time; backend names the cache
// backend the snapshot was measured against.
func (s *Store) Save(snap metrics.Snapshot, backend string, efficiencyScore float64) (Record, error) {
	var (
		totalCachedMs, totalUncachedMs float64
		countCached, countUncached     int64
		timeSavedTotalMs               float64
	)
	for _, e := range snap.SortedEndpoints() {
		totalCachedMs += e.TotalTimeCachedMs
		totalUncachedMs += e.TotalTimeUncachedMs
		countCached += e.CountCached
		countUncached += e.CountUncached
		timeSavedTotalMs += e.TotalTimeSavedMs
	}

	record := Record{
		// Stored in UTC so the datetime('now') window in ListSince compares
		// like with like regardless of the process timezone.
		Timestamp:        snap.TakenAt.UTC(),
		TotalRequests:    snap.TotalRequests,
		CacheHits:        snap.Hits,
		CacheMisses:      snap.Misses,
		HitRate:          snap.HitRate,
		TimeSavedTotalMs: timeSavedTotalMs,
		CacheSizeKeys:    snap.TotalCacheKeys,
		CacheBackend:     backend,
		EfficiencyScore:  efficiencyScore,
	}
	if countCached > 0 {
		record.AvgResponseTimeCachedMs = totalCachedMs / float64(countCached)
	}
	if countUncached > 0 {
		record.AvgResponseTimeUncachedMs = totalUncachedMs / float64(countUncached)
	}

	endpointStats, err := json.Marshal(snap.Endpoints)
	if err != nil {
		return Record{}, fmt.Errorf("failed to serialize endpoint stats: %v", err)
	}
	record.EndpointStats = string(endpointStats)

	result, err := s.db.Exec(`
		INSERT INTO cache_metrics_history (
			timestamp, total_requests, cache_hits, cache_misses, hit_rate,
			avg_response_time_cached_ms, avg_response_time_uncached_ms,
			time_saved_total_ms, cache_size_keys, endpoint_stats,
			cache_backend, efficiency_score
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.Timestamp, record.TotalRequests, record.CacheHits,
		record.CacheMisses, record.HitRate, record.AvgResponseTimeCachedMs,
		record.AvgResponseTimeUncachedMs, record.TimeSavedTotalMs,
		record.CacheSizeKeys, record.EndpointStats, record.CacheBackend,
		record.EfficiencyScore,
	)
	if err != nil {
		return Record{}, fmt.Errorf("failed to persist snapshot: %v", err)
	}
	record.ID, err = result.LastInsertId()
	if err != nil {
		return Record{}, fmt.Errorf("failed to read snapshot id: %v", err)
	}
	return record, nil
}

// ListSince returns the records of the last N days, oldest first. Malformed
// rows are skipped with a warning so one bad record cannot break a report.
func (s *Store) ListSince(days int) ([]Record, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := s.db.Query(`
		SELECT id, timestamp, total_requests, cache_hits, cache_misses,
			hit_rate, avg_response_time_cached_ms,
			avg_response_time_uncached_ms, time_saved_total_ms,
			cache_size_keys, endpoint_stats, cache_backend, efficiency_score
		FROM cache_metrics_history
		WHERE timestamp >= datetime('now', '-' || ? || ' days')
		ORDER BY timestamp ASC`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %v", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(
			&r.ID, &r.Timestamp, &r.TotalRequests, &r.CacheHits,
			&r.CacheMisses, &r.HitRate, &r.AvgResponseTimeCachedMs,
			&r.AvgResponseTimeUncachedMs, &r.TimeSavedTotalMs,
			&r.CacheSizeKeys, &r.EndpointStats, &r.CacheBackend,
			&r.EfficiencyScore,
		); err != nil {
			s.logger.Warnw("Skipping malformed history record", "error", err)
			continue
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
