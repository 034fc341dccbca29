package runtime

import (
	"context"
	"fmt"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/errs"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

// maxCommitRetries bounds the CAS-conflict retry loop of spec.md §4.4
// "bounded retry on CAS conflict" — a concurrent committer on the same
// manifest is expected to be rare (one worker pool, one leased gap at a
// time per manifest range), so a handful of attempts is plenty.
const maxCommitRetries = 5

// toContiguousRanges collapses a sorted, deduplicated set of grid positions
// into the minimal list of inclusive ranges (spec.md §4.2 mark_covered
// operates on ranges, not individual positions).
func toContiguousRanges(positions []int64) []repository.GapRange {
	if len(positions) == 0 {
		return nil
	}
	var out []repository.GapRange
	start := positions[0]
	prev := positions[0]
	for _, p := range positions[1:] {
		if p == prev+1 {
			prev = p
			continue
		}
		out = append(out, repository.GapRange{StartPos: start, EndPos: prev})
		start, prev = p, p
	}
	out = append(out, repository.GapRange{StartPos: start, EndPos: prev})
	return out
}

// validateBars enforces the invariants the runtime requires of any
// BarProvider response before committing (spec.md §6.1): strictly
// ascending open times, grid-aligned, and inside [start, end).
func validateBars(grid coverage.Grid, bars []model.Bar, rangeStart, rangeEnd int64) ([]int64, error) {
	positions := make([]int64, 0, len(bars))
	var lastPos int64 = -1
	for _, b := range bars {
		if !grid.IsAligned(b.OpenUTC) {
			return nil, errs.NewInvariantViolation("bar open %s is not grid-aligned", b.OpenUTC)
		}
		pos := grid.PositionOf(b.OpenUTC)
		if pos < rangeStart || pos > rangeEnd {
			return nil, errs.NewInvariantViolation("bar at position %d outside requested range [%d,%d]", pos, rangeStart, rangeEnd)
		}
		if pos <= lastPos {
			return nil, errs.NewInvariantViolation("bar positions not strictly ascending: %d after %d", pos, lastPos)
		}
		lastPos = pos
		positions = append(positions, pos)
	}
	return positions, nil
}

// commitResult is what a worker decides after a fetch attempt completes,
// independent of persistence — commitSlice below is the only piece that
// talks to the store.
type commitResult struct {
	bars             []model.Bar
	coveredPositions []int64
	outcome          repository.SliceOutcome
	failureMsg       string
	// residual, when non-nil, re-enqueues the remainder of
	// the gap after a mid-pagination transient failure left it partially
	// fetched (spec.md §4.4 commit protocol step 3).
	residual *repository.GapRange
}

// commitSlice persists one worker's outcome for a leased gap: OR-merges the
// covered positions into the coverage bitmap, transitions the gap, and
// recomputes the watermark, retrying on CAS conflict (spec.md §4.1, §4.4).
func commitSlice(ctx context.Context, store repository.ManifestStore, grid coverage.Grid, manifestID, gapID int64, res commitResult) error {
	var lastErr error
	for attempt := 0; attempt < maxCommitRetries; attempt++ {
		snap, err := store.GetStream(ctx, manifestID)
		if err != nil {
			return fmt.Errorf("runtime: commit read snapshot: %w", err)
		}

		bm, err := coverage.FromBytes(snap.Coverage.Bitmap)
		if err != nil {
			return err
		}
		ranges := toContiguousRanges(res.coveredPositions)
		for _, r := range ranges {
			bm.MarkCovered(coverage.Range{Start: r.StartPos, End: r.EndPos})
		}

		var watermark *time.Time
		if prefixEnd := bm.LongestZeroFreePrefixEnd(); prefixEnd > 0 {
			t := grid.InstantOf(prefixEnd)
			watermark = &t
		}

		req := repository.ApplySliceResultRequest{
			ManifestID:              manifestID,
			GapID:                   gapID,
			CoveredRanges:           ranges,
			Outcome:                 res.outcome,
			FailureMsg:              res.failureMsg,
			NewWatermark:            watermark,
			CoverageVersionExpected: snap.Coverage.Version,
			ResidualQueuedRange:     res.residual,
		}
		err = store.ApplySliceResult(ctx, req)
		if err == nil {
			return nil
		}
		if err == errs.ErrConflictRetry {
			lastErr = err
			continue
		}
		return fmt.Errorf("runtime: apply slice result: %w", err)
	}
	return fmt.Errorf("runtime: commit exhausted %d retries: %w", maxCommitRetries, lastErr)
}
