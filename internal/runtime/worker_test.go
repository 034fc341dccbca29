package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	"assetsync/internal/provider/fakeprovider"
)

func dayKey() model.StreamKey {
	return model.StreamKey{
		Symbol:     "AAPL",
		Provider:   model.ProviderAlpaca,
		AssetClass: model.UsEquity,
		Timeframe:  model.Timeframe{Amount: 1, Unit: model.Day},
	}
}

func dayGrid(anchor time.Time) coverage.Grid {
	return coverage.NewGrid(anchor, model.Timeframe{Amount: 1, Unit: model.Day})
}

func fastBackoff() BackoffConfig {
	return BackoffConfig{Min: time.Millisecond, Max: 10 * time.Millisecond, Factor: 2}
}

func TestFetchGapRetriesTransientFailureOnFirstPage(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := dayGrid(anchor)
	provider := fakeprovider.New(grid, repository.ProviderLimits{MaxBarsPerRequest: 10})
	provider.Seed(0, 2)
	provider.FailOnce(0, errs.NewTransient(errors.New("vendor hiccup")))

	gap := model.Gap{ID: 1, ManifestID: 1, StartPos: 0, EndPos: 2, State: model.GapLeased}
	result := fetchGap(context.Background(), provider, NewLimiter(), fastBackoff(), nil, dayKey(), grid, gap)

	require.Equal(t, repository.OutcomeDone, result.outcome)
	assert.Equal(t, []int64{0, 1, 2}, result.coveredPositions)
	assert.Nil(t, result.residual)
}

func TestFetchGapHonorsVendorRetryAfterAsBackoffFloor(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := dayGrid(anchor)
	provider := fakeprovider.New(grid, repository.ProviderLimits{MaxBarsPerRequest: 10})
	provider.Seed(0, 0)

	retryAfter := 150 * time.Millisecond
	provider.FailOnce(0, errs.NewTransientWithRetryAfter(errors.New("rate limited"), retryAfter))

	gap := model.Gap{ID: 1, ManifestID: 1, StartPos: 0, EndPos: 0, State: model.GapLeased}
	start := time.Now()
	result := fetchGap(context.Background(), provider, NewLimiter(), fastBackoff(), nil, dayKey(), grid, gap)
	elapsed := time.Since(start)

	require.Equal(t, repository.OutcomeDone, result.outcome)
	assert.GreaterOrEqual(t, elapsed, retryAfter, "the worker must suspend at least the vendor-declared Retry-After before its next attempt")
}

// alwaysFailProvider simulates a vendor that never recovers, unlike
// fakeprovider.FailOnce which only misfires a single call.
type alwaysFailProvider struct {
	limits repository.ProviderLimits
	err    error
}

func (p alwaysFailProvider) FetchBars(context.Context, model.StreamKey, time.Time, time.Time, int, string) (model.FetchPage, error) {
	return model.FetchPage{}, p.err
}
func (p alwaysFailProvider) Limits() repository.ProviderLimits { return p.limits }

func TestFetchGapFailsGapAfterExhaustingFirstPageRetries(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := dayGrid(anchor)
	provider := alwaysFailProvider{
		limits: repository.ProviderLimits{MaxBarsPerRequest: 10},
		err:    errs.NewTransient(errors.New("still down")),
	}

	gap := model.Gap{ID: 1, ManifestID: 1, StartPos: 0, EndPos: 0, State: model.GapLeased}
	result := fetchGap(context.Background(), provider, NewLimiter(), fastBackoff(), nil, dayKey(), grid, gap)

	require.Equal(t, repository.OutcomeFailed, result.outcome)
	assert.NotEmpty(t, result.failureMsg)
}

func TestFetchGapPartialCommitReenqueuesResidualOnMidPaginationFailure(t *testing.T) {
	anchor := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	grid := dayGrid(anchor)
	// MaxBarsPerRequest of 2 forces the fetch of positions [0,3] to paginate:
	// page one returns {0,1} with a cursor to position 2, page two is where
	// the scripted failure lands.
	provider := fakeprovider.New(grid, repository.ProviderLimits{MaxBarsPerRequest: 2})
	provider.Seed(0, 3)
	provider.FailOnce(2, errs.NewTransient(errors.New("dropped connection mid-page")))

	gap := model.Gap{ID: 1, ManifestID: 1, StartPos: 0, EndPos: 3, State: model.GapLeased}
	result := fetchGap(context.Background(), provider, NewLimiter(), fastBackoff(), nil, dayKey(), grid, gap)

	require.Equal(t, repository.OutcomeDone, result.outcome, "bars fetched before the mid-pagination failure still commit")
	assert.Equal(t, []int64{0, 1}, result.coveredPositions)
	require.NotNil(t, result.residual, "the uncovered tail must be re-queued rather than silently dropped")
	assert.Equal(t, int64(2), result.residual.StartPos)
	assert.Equal(t, int64(3), result.residual.EndPos)
}
