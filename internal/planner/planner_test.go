package planner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

func dayManifest(start time.Time, end *time.Time) model.ManifestEntry {
	return model.ManifestEntry{
		ID: 1,
		Key: model.StreamKey{
			Symbol:     "AAPL",
			Provider:   model.ProviderAlpaca,
			AssetClass: model.UsEquity,
			Timeframe:  model.Timeframe{Amount: 1, Unit: model.Day},
		},
		DesiredStart: start,
		DesiredEnd:   end,
	}
}

func TestPlanColdBackfillNoExistingGaps(t *testing.T) {
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	m := dayManifest(start, &end)

	grid := coverage.NewGrid(start, m.Key.Timeframe)
	cov := coverage.New()
	// provider returned 7 weekday bars out of 10 grid positions
	for _, i := range []int64{0, 1, 2, 4, 5, 6, 7} {
		cov.MarkCovered(coverage.Range{Start: i, End: i})
	}

	res := Plan(grid, m, cov, nil, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), DefaultConfig(), repository.ProviderLimits{MaxBarsPerRequest: 1000})

	var gotPositions []coverage.Range
	for _, g := range res.NewGaps {
		gotPositions = append(gotPositions, g.Range)
	}
	assert.Equal(t, []coverage.Range{{Start: 3, End: 3}, {Start: 8, End: 9}}, gotPositions)
}

func TestPlanSubtractsOpenGaps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	m := dayManifest(start, &end)
	grid := coverage.NewGrid(start, m.Key.Timeframe)
	cov := coverage.New()

	existing := []ExistingGap{{ID: 1, Range: coverage.Range{Start: 0, End: 4}, State: model.GapQueued}}
	res := Plan(grid, m, cov, existing, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC), DefaultConfig(), repository.ProviderLimits{MaxBarsPerRequest: 1000})

	require.Len(t, res.NewGaps, 1)
	assert.Equal(t, coverage.Range{Start: 5, End: 8}, res.NewGaps[0].Range)
}

func TestPlanRespectsCooldownOnFailedGaps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	m := dayManifest(start, &end)
	grid := coverage.NewGrid(start, m.Key.Timeframe)
	cov := coverage.New()

	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-1 * time.Minute)
	existing := []ExistingGap{{ID: 9, Range: coverage.Range{Start: 0, End: 8}, State: model.GapFailed, LastFailureAt: &recent}}

	cfg := DefaultConfig()
	res := Plan(grid, m, cov, existing, now, cfg, repository.ProviderLimits{MaxBarsPerRequest: 1000})
	assert.Empty(t, res.NewGaps, "still within cooldown")
	assert.Empty(t, res.RetryGapIDs)

	old := now.Add(-cfg.FailureCooldown - time.Minute)
	existing[0].LastFailureAt = &old
	res = Plan(grid, m, cov, existing, now, cfg, repository.ProviderLimits{MaxBarsPerRequest: 1000})
	assert.Equal(t, []int64{9}, res.RetryGapIDs)
}

func TestPlanGivesUpAfterMaxAttempts(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	m := dayManifest(start, &end)
	grid := coverage.NewGrid(start, m.Key.Timeframe)
	cov := coverage.New()

	now := time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)
	old := now.Add(-24 * time.Hour)
	cfg := DefaultConfig()
	existing := []ExistingGap{{ID: 9, Range: coverage.Range{Start: 0, End: 8}, State: model.GapFailed, Attempts: cfg.MaxAttempts, LastFailureAt: &old}}

	res := Plan(grid, m, cov, existing, now, cfg, repository.ProviderLimits{MaxBarsPerRequest: 1000})
	assert.Empty(t, res.RetryGapIDs, "exhausted gap must not be retried")
	assert.Empty(t, res.NewGaps, "exhausted gap's range must not be re-planned")
}

func TestPlanSlicingPolicy(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 21, 0, 0, 0, 0, time.UTC)
	m := dayManifest(start, &end)
	grid := coverage.NewGrid(start, m.Key.Timeframe)
	cov := coverage.New()

	res := Plan(grid, m, cov, nil, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), DefaultConfig(), repository.ProviderLimits{MaxBarsPerRequest: 7})

	require.Len(t, res.NewGaps, 3)
	assert.Equal(t, coverage.Range{Start: 0, End: 6}, res.NewGaps[0].Range)
	assert.Equal(t, coverage.Range{Start: 7, End: 13}, res.NewGaps[1].Range)
	assert.Equal(t, coverage.Range{Start: 14, End: 19}, res.NewGaps[2].Range)
}

func TestPlanZeroWidthRangeEmitsNoGaps(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := dayManifest(start, &start) // desired_start == desired_end
	grid := coverage.NewGrid(start, m.Key.Timeframe)
	cov := coverage.New()

	res := Plan(grid, m, cov, nil, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), DefaultConfig(), repository.ProviderLimits{MaxBarsPerRequest: 100})
	assert.Empty(t, res.NewGaps)
}

func TestPriorityHotBeforeCold(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	tf := model.Timeframe{Amount: 1, Unit: model.Minute}
	grid := coverage.NewGrid(start, tf)
	now := start.Add(100 * time.Minute)

	cold := priorityOf(grid, 1, coverage.Range{Start: 0, End: 0}, now, 15*time.Minute)
	hot := priorityOf(grid, 1, coverage.Range{Start: 95, End: 95}, now, 15*time.Minute)

	assert.True(t, hot.Less(cold))
	assert.False(t, cold.Less(hot))
}
