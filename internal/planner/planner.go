// Package planner implements spec.md §4.3: comparing desired coverage
// against actual coverage and open gaps, and deciding what work to enqueue
// next. The planner is pure — it is handed a snapshot and returns a plan;
// all persistence happens through the manifest store in the caller.
package planner

import (
	"sort"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

// Config holds the tunables spec.md §4.3/§6.1 name explicitly.
type Config struct {
	HotWindow          time.Duration // gaps whose end is within this of now are "hot"
	FailureCooldown    time.Duration // how long a failed gap is left alone before retry
	Tick               time.Duration // periodic re-plan interval (default 60s)
	GapRetention       time.Duration // how long a done gap lingers before GC (spec.md §3 Lifecycles)
	MaxAttempts        int           // lease attempts a gap gets before it is given up on for good (spec.md §7)
}

func DefaultConfig() Config {
	return Config{
		HotWindow:       15 * time.Minute,
		FailureCooldown: 10 * time.Minute,
		Tick:            60 * time.Second,
		GapRetention:    24 * time.Hour,
		MaxAttempts:     5,
	}
}

// ExistingGap is the planner's view of a currently-open or recently-failed
// gap — just enough to subtract from the missing set and to decide
// cooldown eligibility.
type ExistingGap struct {
	ID            int64
	Range         coverage.Range
	State         model.GapState
	Attempts      int
	LastFailureAt *time.Time
}

// PlannedGap is one emitted work item with its priority key already
// computed (spec.md §4.3 ordering).
type PlannedGap struct {
	Range    coverage.Range
	Priority Priority
}

// Result is everything the caller (internal/service/engine) needs to apply.
type Result struct {
	NewGaps         []PlannedGap
	RetryGapIDs     []int64 // failed gaps whose cooldown elapsed; reset to queued
	EffectiveEnd    time.Time
	Watermark       *time.Time // unchanged by planning; carried through for callers that want it
}

// Plan computes the work to enqueue for one manifest (spec.md §4.3).
//
// grid must be anchored at manifest.DesiredStart (a stream-local Grid, see
// coverage.NewGrid) — positions are relative to desired_start, not the
// timeframe's global epoch.
func Plan(
	grid coverage.Grid,
	manifest model.ManifestEntry,
	cov *coverage.Bitmap,
	existing []ExistingGap,
	now time.Time,
	cfg Config,
	limits repository.ProviderLimits,
) Result {
	effectiveEnd := manifest.EffectiveEnd(now, limits.MinLag)
	effectiveEnd = grid.FloorToGrid(effectiveEnd)

	if !effectiveEnd.After(manifest.DesiredStart) {
		return Result{EffectiveEnd: effectiveEnd, Watermark: manifest.Watermark}
	}

	startPos := int64(0)
	endPos := grid.PositionOf(effectiveEnd) - 1
	if endPos < startPos {
		return Result{EffectiveEnd: effectiveEnd, Watermark: manifest.Watermark}
	}

	var openRanges []coverage.Range
	var retry []int64
	for _, g := range existing {
		switch g.State {
		case model.GapQueued, model.GapLeased:
			openRanges = append(openRanges, g.Range)
		case model.GapFailed:
			if cfg.MaxAttempts > 0 && g.Attempts >= cfg.MaxAttempts {
				// Exhausted its retry budget — give up for good. Still
				// occupies the range so the residual computation below
				// does not treat it as missing and re-plan it right back.
				openRanges = append(openRanges, g.Range)
			} else if g.LastFailureAt != nil && now.Sub(*g.LastFailureAt) >= cfg.FailureCooldown {
				retry = append(retry, g.ID)
			} else {
				openRanges = append(openRanges, g.Range)
			}
		}
	}

	missing := cov.MissingIn(coverage.Range{Start: startPos, End: endPos})
	residual := coverage.SubtractRanges(missing, openRanges)

	var planned []PlannedGap
	for _, r := range residual {
		for _, chunk := range sliceRange(r, limits.MaxBarsPerRequest) {
			planned = append(planned, PlannedGap{
				Range:    chunk,
				Priority: priorityOf(grid, manifest.ID, chunk, now, cfg.HotWindow),
			})
		}
	}

	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].Priority.Less(planned[j].Priority)
	})

	return Result{
		NewGaps:      planned,
		RetryGapIDs:  retry,
		EffectiveEnd: effectiveEnd,
		Watermark:    manifest.Watermark,
	}
}

// sliceRange splits a missing range into chunks of up to maxBars grid
// positions, deterministic from the low end, never emitting a zero-length
// chunk (spec.md §4.3 slicing policy).
func sliceRange(r coverage.Range, maxBars int) []coverage.Range {
	if maxBars <= 0 {
		maxBars = 1
	}
	var out []coverage.Range
	for start := r.Start; start <= r.End; start += int64(maxBars) {
		end := start + int64(maxBars) - 1
		if end > r.End {
			end = r.End
		}
		out = append(out, coverage.Range{Start: start, End: end})
	}
	return out
}
