package invalidation

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kudoslab/kudos/cache"
)

// Stats is the short-lived audit record of one invalidation run.
type Stats struct {
	ID        string    `json:"id"`
	EntityID  string    `json:"entity_id"`
	Total     int       `json:"total"`
	Deleted   int       `json:"deleted"`
	NotFound  int       `json:"not_found"`
	Failed    int       `json:"failed"`
	ChurnRate float64   `json:"churn_rate"`
	ElapsedMs float64   `json:"elapsed_ms"`
	At        time.Time `json:"at"`
}

// Coordinator deletes every cataloged key for a mutated entity. The whole
// operation is best-effort: individual delete failures are counted and
// logged, the remaining catalog is still attempted, and Invalidate never
// returns an error. Invalidating one entity never touches another entity's
// keys and takes no cross-entity lock.
type Coordinator struct {
	backend cache.Backend
	catalog *Catalog
	logger  *zap.SugaredLogger
	clock   clock.Clock

	mu        sync.Mutex
	lastStats map[string]Stats
}

func NewCoordinator(backend cache.Backend, catalog *Catalog, logger *zap.SugaredLogger) *Coordinator {
	return newCoordinatorWithClock(backend, catalog, logger, clock.New())
}

func newCoordinatorWithClock(backend cache.Backend, catalog *Catalog, logger *zap.SugaredLogger, clk clock.Clock) *Coordinator {
	return &Coordinator{
		backend:   backend,
		catalog:   catalog,
		logger:    logger,
		clock:     clk,
		lastStats: make(map[string]Stats),
	}
}

func (co *Coordinator) Catalog() *Catalog { return co.catalog }

// Invalidate expands the catalog for entityID and issues a delete for every
// concrete key. After it returns, a Get for any cataloged key of that entity
// reports absent until repopulated.
func (co *Coordinator) Invalidate(ctx context.Context, entityID string) Stats {
	start := co.clock.Now()
	keys := co.catalog.ExpandEntity(entityID)

	stats := Stats{
		ID:       uuid.NewString(),
		EntityID: entityID,
		Total:    len(keys),
		At:       start,
	}

	for _, key := range keys {
		existed, err := co.backend.Delete(ctx, key)
		switch {
		case err != nil:
			stats.Failed++
			co.logger.Warnw("Cache delete failed during invalidation",
				"error", err, "entity_id", entityID, "key", key)
		case existed:
			stats.Deleted++
		default:
			stats.NotFound++
		}
	}

	if stats.Total > 0 {
		stats.ChurnRate = float64(stats.Deleted) / float64(stats.Total) * 100
	}
	stats.ElapsedMs = float64(co.clock.Now().Sub(start)) / float64(time.Millisecond)

	co.mu.Lock()
	co.lastStats[entityID] = stats
	co.mu.Unlock()

	co.logger.Infow("Entity cache invalidated",
		"entity_id", entityID,
		"deleted", stats.Deleted,
		"not_found", stats.NotFound,
		"failed", stats.Failed,
		"elapsed_ms", stats.ElapsedMs)
	return stats
}

// LastStats returns the audit entry of the most recent invalidation for an
// entity, if any.
func (co *Coordinator) LastStats(entityID string) (Stats, bool) {
	co.mu.Lock()
	defer co.mu.Unlock()
	stats, ok := co.lastStats[entityID]
	return stats, ok
}

// ClearAll wipes the whole backend. This is the explicit administrative
// "nuke": it is never used as a fallback invalidation strategy and is always
// logged loudly.
func (co *Coordinator) ClearAll(ctx context.Context) error {
	co.logger.Warnw("Administrative full cache clear requested")
	if err := co.backend.Clear(ctx); err != nil {
		co.logger.Errorw("Full cache clear failed", "error", err)
		return err
	}
	co.logger.Infow("Full cache clear completed")
	return nil
}
