package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	"assetsync/internal/provider/fakeprovider"
	"assetsync/internal/store/sqlite"
	"assetsync/pkg/logger"
)

// recordingSink is a no-op repository.Sink that remembers what it was asked
// to write, so tests can assert a gap's bars were actually durably written
// before its coverage was committed.
type recordingSink struct {
	writes []int
}

func (s *recordingSink) WriteSlice(_ context.Context, _ model.StreamKey, _, _ time.Time, bars []model.Bar) error {
	s.writes = append(s.writes, len(bars))
	return nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	l, err := logger.New(&logger.Config{Level: "error", Format: "console", Output: "stdout"})
	require.NoError(t, err)
	return l
}

func seededPool(t *testing.T, store *sqlite.Store, provider repository.BarProvider, sink repository.Sink) *Pool {
	t.Helper()
	return NewPool(Deps{
		Store:       store,
		Providers:   map[model.ProviderID]repository.BarProvider{model.ProviderAlpaca: provider},
		Sink:        sink,
		Limiter:     NewLimiter(),
		Backoff:     fastBackoff(),
		LeaseTTL:    time.Minute,
		Concurrency: 1,
		Log:         testLogger(t),
	})
}

func TestProcessOneStealsExpiredLeaseAndCompletesTheGap(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	diff, err := store.UpsertSpec(ctx, []model.AssetSpec{{
		Symbol:     "AAPL",
		Provider:   model.ProviderAlpaca,
		AssetClass: model.UsEquity,
		Timeframe:  model.Timeframe{Amount: 1, Unit: model.Day},
		Range:      model.Range{Start: anchor},
	}})
	require.NoError(t, err)
	manifestID := diff.Added[0]

	require.NoError(t, store.EnqueueGaps(ctx, manifestID, []repository.GapRange{{StartPos: 0, EndPos: 1}}))

	// worker-A leases the gap with a TTL already in the past, so it is
	// immediately stealable rather than actually held.
	_, ok, err := store.AcquireLease(ctx, []int64{manifestID}, "worker-A", -time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := store.GetStream(ctx, manifestID)
	require.NoError(t, err)

	grid := dayGrid(anchor)
	provider := fakeprovider.New(grid, repository.ProviderLimits{MaxBarsPerRequest: 10})
	provider.Seed(0, 1)
	sink := &recordingSink{}

	pool := seededPool(t, store, provider, sink)
	pool.SetManifests([]model.ManifestEntry{snap.Manifest})

	did := pool.processOne(ctx, "worker-B", []int64{manifestID})
	require.True(t, did, "worker-B must be able to steal the expired lease and process it")

	after, err := store.GetStream(ctx, manifestID)
	require.NoError(t, err)
	assert.Empty(t, after.OpenGaps, "the stolen gap must have been driven to a terminal state")
	require.NotNil(t, after.Manifest.Watermark)
	assert.True(t, after.Manifest.Watermark.Equal(grid.InstantOf(2)))
	assert.Len(t, sink.writes, 1)
	assert.Equal(t, 2, sink.writes[0])
}

func TestProcessOneReturnsFalseWhenNothingToLease(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := dayGrid(anchor)
	provider := fakeprovider.New(grid, repository.ProviderLimits{MaxBarsPerRequest: 10})
	sink := &recordingSink{}
	pool := seededPool(t, store, provider, sink)

	did := pool.processOne(ctx, "worker-A", []int64{1})
	assert.False(t, did)
}
