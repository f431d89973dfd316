package invalidation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/kudoslab/kudos/cache"
)

func populateEntity(t *testing.T, backend cache.Backend, catalog *Catalog, entityID string) {
	t.Helper()
	for _, key := range catalog.ExpandEntity(entityID) {
		require.NoError(t, backend.Set(context.Background(), key, []byte("v"), time.Hour))
	}
}

func TestInvalidatePurgesEveryCatalogedKey(t *testing.T) {
	backend, stop := cache.NewMemoryBackend(1 << 20)
	defer stop()
	catalog := DefaultCatalog()
	co := NewCoordinator(backend, catalog, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	populateEntity(t, backend, catalog, "42")

	stats := co.Invalidate(ctx, "42")

	assert.Equal(t, 37, stats.Total)
	assert.Equal(t, 37, stats.Deleted)
	assert.Zero(t, stats.NotFound)
	assert.Zero(t, stats.Failed)
	assert.InDelta(t, 100.0, stats.ChurnRate, 1e-9)
	assert.NotEmpty(t, stats.ID)
	assert.Equal(t, "42", stats.EntityID)

	for _, key := range catalog.ExpandEntity("42") {
		_, found, err := backend.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, found, "key %s survived invalidation", key)
	}
}

func TestInvalidatePartitionsDeletedAndNotFound(t *testing.T) {
	backend, stop := cache.NewMemoryBackend(1 << 20)
	defer stop()
	catalog := DefaultCatalog()
	co := NewCoordinator(backend, catalog, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	// Populate only the dashboard keys; everything else is absent.
	require.NoError(t, backend.Set(ctx, "kudos:dashboard:42:7days", []byte("v"), time.Hour))
	require.NoError(t, backend.Set(ctx, "kudos:dashboard:42:30days", []byte("v"), time.Hour))

	stats := co.Invalidate(ctx, "42")

	assert.Equal(t, 37, stats.Total)
	assert.Equal(t, 2, stats.Deleted)
	assert.Equal(t, 35, stats.NotFound)
	assert.Zero(t, stats.Failed)
	assert.Equal(t, stats.Total, stats.Deleted+stats.NotFound+stats.Failed)
}

func TestInvalidateDoesNotTouchOtherEntities(t *testing.T) {
	backend, stop := cache.NewMemoryBackend(1 << 20)
	defer stop()
	catalog := DefaultCatalog()
	co := NewCoordinator(backend, catalog, zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	populateEntity(t, backend, catalog, "alice")
	populateEntity(t, backend, catalog, "bob")

	co.Invalidate(ctx, "alice")

	for _, key := range catalog.ExpandEntity("bob") {
		// Shared global keys (no entity in the pattern) are legitimately
		// purged for every entity.
		if !strings.Contains(key, "bob") {
			continue
		}
		_, found, err := backend.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, found, "bob's key %s was wrongly purged", key)
	}
}

func TestInvalidateCountsFailuresAndContinues(t *testing.T) {
	backend := &flakyBackend{failSubstring: ":timeline:"}
	catalog := DefaultCatalog()
	co := NewCoordinator(backend, catalog, zaptest.NewLogger(t).Sugar())

	stats := co.Invalidate(context.Background(), "42")

	// All 12 timeline deletes fail; the rest of the catalog is still attempted.
	assert.Equal(t, 37, stats.Total)
	assert.Equal(t, 12, stats.Failed)
	assert.Equal(t, 25, stats.Deleted+stats.NotFound)
	assert.Equal(t, 37, backend.deleteCalls)
}

func TestLastStatsTracksPerEntity(t *testing.T) {
	backend, stop := cache.NewMemoryBackend(1 << 20)
	defer stop()
	co := NewCoordinator(backend, DefaultCatalog(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	_, ok := co.LastStats("42")
	assert.False(t, ok)

	co.Invalidate(ctx, "42")
	co.Invalidate(ctx, "7")

	stats, ok := co.LastStats("42")
	require.True(t, ok)
	assert.Equal(t, "42", stats.EntityID)

	stats, ok = co.LastStats("7")
	require.True(t, ok)
	assert.Equal(t, "7", stats.EntityID)
}

func TestClearAllWipesBackend(t *testing.T) {
	backend, stop := cache.NewMemoryBackend(1 << 20)
	defer stop()
	co := NewCoordinator(backend, DefaultCatalog(), zaptest.NewLogger(t).Sugar())
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, co.ClearAll(ctx))
	assert.Zero(t, backend.Len())
}

// flakyBackend fails deletes for keys containing failSubstring and reports
// not-found for everything else.
type flakyBackend struct {
	failSubstring string
	deleteCalls   int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (f *flakyBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (f *flakyBackend) Delete(ctx context.Context, key string) (bool, error) {
	f.deleteCalls++
	if strings.Contains(key, f.failSubstring) {
		return false, errors.New("connection reset")
	}
	return false, nil
}

func (f *flakyBackend) Clear(ctx context.Context) error { return nil }
