package runtime

import (
	"context"
	"fmt"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	"assetsync/pkg/logger"
)

// maxFetchAttempts bounds the in-process retry of a transient failure on
// the *first* page of a gap before giving up and failing the whole gap
// (spec.md §7 Transient class: "retry locally, bounded").
const maxFetchAttempts = 4

// fetchGap drives one leased gap to completion: paginate FetchBars until
// exhausted, validate the bars, and decide the outcome to commit. It never
// touches the store directly — the caller commits via commitSlice.
func fetchGap(ctx context.Context, provider repository.BarProvider, limiter *Limiter, backoffCfg BackoffConfig, metrics repository.Metrics, key model.StreamKey, grid coverage.Grid, gap model.Gap) commitResult {
	limits := provider.Limits()
	rangeStart := grid.InstantOf(gap.StartPos)
	rangeEnd := grid.InstantOf(gap.EndPos + 1)

	var allBars []model.Bar
	cursor := ""
	decay := backoffCfg.newDecay()
	pagesFetched := 0
	firstPageAttempts := 0

	for {
		waitStart := time.Now()
		err := limiter.Wait(ctx, string(key.Provider), limits.RequestsPerMinute)
		if metrics != nil {
			metrics.ObserveLimiterWait(string(key.Provider), time.Since(waitStart).Seconds())
		}
		if err != nil {
			return commitResult{outcome: repository.OutcomeFailed, failureMsg: fmt.Errorf("runtime: rate limit wait: %w", err).Error()}
		}

		page, err := provider.FetchBars(ctx, key, rangeStart, rangeEnd, limits.MaxBarsPerRequest, cursor)
		if err != nil {
			if errs.IsTransient(err) {
				if pagesFetched > 0 {
					// Keep what was already fetched; push the remainder
					// back to queued instead of discarding progress.
					return partialResult(gap, allBars, grid, err)
				}
				firstPageAttempts++
				if firstPageAttempts < maxFetchAttempts {
					wait := decay.Duration()
					if retryAfter, ok := errs.RetryAfterOf(err); ok && retryAfter > wait {
						wait = retryAfter
					}
					if !sleepCtx(ctx, wait) {
						return commitResult{outcome: repository.OutcomeFailed, failureMsg: ctx.Err().Error()}
					}
					continue
				}
			}
			return commitResult{outcome: repository.OutcomeFailed, failureMsg: err.Error()}
		}

		pagesFetched++
		allBars = append(allBars, page.Bars...)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	positions, err := validateBars(grid, allBars, gap.StartPos, gap.EndPos)
	if err != nil {
		return commitResult{outcome: repository.OutcomeFailed, failureMsg: err.Error()}
	}
	if len(positions) == 0 {
		return commitResult{outcome: repository.OutcomeFailed, failureMsg: errs.NoDataForRange(fmt.Sprintf("[%d,%d]", gap.StartPos, gap.EndPos)).Error()}
	}

	return commitResult{bars: allBars, coveredPositions: positions, outcome: repository.OutcomeDone}
}

// partialResult commits whatever was fetched before a mid-pagination
// transient failure and re-queues the remainder (spec.md §4.4 commit
// protocol step 3).
func partialResult(gap model.Gap, bars []model.Bar, grid coverage.Grid, cause error) commitResult {
	positions, err := validateBars(grid, bars, gap.StartPos, gap.EndPos)
	if err != nil || len(positions) == 0 {
		return commitResult{outcome: repository.OutcomeFailed, failureMsg: cause.Error()}
	}
	lastCovered := positions[len(positions)-1]
	var residual *repository.GapRange
	if lastCovered < gap.EndPos {
		residual = &repository.GapRange{StartPos: lastCovered + 1, EndPos: gap.EndPos}
	}
	return commitResult{
		bars:             bars,
		coveredPositions: positions,
		outcome:          repository.OutcomeDone,
		residual:         residual,
	}
}

// processOne leases and fully processes at most one gap from manifestIDs.
// Returns false if nothing was available to lease.
func (p *Pool) processOne(ctx context.Context, workerID string, manifestIDs []int64) bool {
	gap, ok, err := p.deps.Store.AcquireLease(ctx, manifestIDs, workerID, p.deps.LeaseTTL)
	if err != nil {
		p.deps.Log.Error("acquire lease failed", logger.Error(err))
		return false
	}
	if !ok {
		return false
	}

	m, ok := p.manifest(gap.ManifestID)
	if !ok {
		_ = p.deps.Store.ReleaseLease(ctx, gap.ID, workerID, repository.OutcomeFailed, "manifest no longer live")
		return true
	}

	provider, ok := p.deps.Providers[m.Key.Provider]
	if !ok {
		msg := fmt.Sprintf("no provider registered for %q", m.Key.Provider)
		_ = p.deps.Store.ReleaseLease(ctx, gap.ID, workerID, repository.OutcomeFailed, msg)
		_ = p.deps.Store.SetLastError(ctx, m.ID, msg)
		return true
	}

	providerLabel := string(m.Key.Provider)
	if p.deps.Metrics != nil {
		p.deps.Metrics.RecordGapLeased(providerLabel)
	}

	grid := coverage.NewGrid(m.DesiredStart, m.Key.Timeframe)
	fetchStart := time.Now()
	result := fetchGap(ctx, provider, p.deps.Limiter, p.deps.Backoff, p.deps.Metrics, m.Key, grid, gap)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveFetchDuration(providerLabel, time.Since(fetchStart).Seconds())
	}

	if len(result.bars) > 0 {
		start := grid.InstantOf(result.coveredPositions[0])
		end := grid.InstantOf(result.coveredPositions[len(result.coveredPositions)-1] + 1)
		if err := p.deps.Sink.WriteSlice(ctx, m.Key, start, end, result.bars); err != nil {
			if errs.IsTransient(err) {
				// Leave the gap leased; when the lease expires another
				// worker (or this one) will retry it from scratch rather
				// than commit coverage for data that was never durably
				// written.
				p.deps.Log.Warn("sink write failed, leaving gap leased for retry",
					logger.Error(err), logger.Int64("manifest_id", m.ID), logger.Int64("gap_id", gap.ID))
				return true
			}
			result = commitResult{outcome: repository.OutcomeFailed, failureMsg: err.Error()}
		}
	}

	commitStart := time.Now()
	commitErr := commitSlice(ctx, p.deps.Store, grid, m.ID, gap.ID, result)
	if p.deps.Metrics != nil {
		p.deps.Metrics.ObserveCommitDuration(providerLabel, time.Since(commitStart).Seconds())
	}
	if commitErr != nil {
		p.deps.Log.Error("commit failed", logger.Error(commitErr), logger.Int64("manifest_id", m.ID), logger.Int64("gap_id", gap.ID))
		_ = p.deps.Store.ReleaseLease(ctx, gap.ID, workerID, repository.OutcomeFailed, commitErr.Error())
		return true
	}

	if result.outcome == repository.OutcomeFailed {
		_ = p.deps.Store.SetLastError(ctx, m.ID, result.failureMsg)
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordGapFailed(providerLabel)
		}
	} else {
		_ = p.deps.Store.SetLastError(ctx, m.ID, "")
		if p.deps.Metrics != nil {
			p.deps.Metrics.RecordGapCommitted(providerLabel)
		}
	}
	return true
}
