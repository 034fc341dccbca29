// Package engine drives the periodic re-plan loop of spec.md §4.3: on each
// tick, it reconciles every live manifest's coverage against its desired
// range, enqueues the resulting gaps, requeues cooled-down failures, and
// republishes the live manifest set to the runtime worker pool. It is the
// one component that calls both the Planner and the Manifest Store — the
// Planner itself stays pure (internal/planner), and the Runtime never talks
// to the Planner directly (spec.md §5).
package engine

import (
	"context"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	"assetsync/internal/planner"
	"assetsync/internal/runtime"
	"assetsync/pkg/logger"
)

// Pool is the subset of *runtime.Pool the engine depends on, so tests can
// substitute a recorder.
type Pool interface {
	SetManifests(entries []model.ManifestEntry)
}

var _ Pool = (*runtime.Pool)(nil)

// Engine ties the planner's periodic tick to the manifest store and the
// runtime pool's live-manifest set (spec.md §4.3, §5).
type Engine struct {
	Store     repository.ManifestStore
	Providers map[model.ProviderID]repository.BarProvider
	Pool      Pool
	Metrics   repository.Metrics
	Config    planner.Config
	Log       *logger.Logger
}

// Run blocks, re-planning every Config.Tick until ctx is canceled. It runs
// one reconciliation pass immediately on entry so the pool has a manifest
// set to work with before the first tick elapses.
func (e *Engine) Run(ctx context.Context) {
	e.reconcile(ctx)

	ticker := time.NewTicker(e.Config.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.reconcile(ctx)
		}
	}
}

func (e *Engine) reconcile(ctx context.Context) {
	entries, err := e.Store.ListStreams(ctx)
	if err != nil {
		e.Log.Error("list streams failed", logger.Error(err))
		return
	}

	now := time.Now().UTC()
	for _, m := range entries {
		e.planOne(ctx, m, now)
	}
	e.Pool.SetManifests(entries)

	if e.Config.GapRetention > 0 {
		if n, err := e.Store.GCDoneGaps(ctx, now.Add(-e.Config.GapRetention)); err != nil {
			e.Log.Error("gc done gaps failed", logger.Error(err))
		} else if n > 0 {
			e.Log.Debug("gc done gaps", logger.Int64("deleted", n))
		}
	}
}

func (e *Engine) planOne(ctx context.Context, m model.ManifestEntry, now time.Time) {
	provider, ok := e.Providers[m.Key.Provider]
	if !ok {
		e.Log.Warn("no provider registered, skipping plan", logger.String("provider", string(m.Key.Provider)))
		return
	}

	snap, err := e.Store.GetStream(ctx, m.ID)
	if err != nil {
		e.Log.Error("get stream failed", logger.Error(err), logger.Int64("manifest_id", m.ID))
		return
	}

	bm, err := coverage.FromBytes(snap.Coverage.Bitmap)
	if err != nil {
		e.Log.Error("decode coverage failed", logger.Error(err), logger.Int64("manifest_id", m.ID))
		return
	}

	failed, err := e.Store.ListFailedGaps(ctx, m.ID)
	if err != nil {
		e.Log.Error("list failed gaps failed", logger.Error(err), logger.Int64("manifest_id", m.ID))
		return
	}

	grid := coverage.NewGrid(m.DesiredStart, m.Key.Timeframe)
	existing := make([]planner.ExistingGap, 0, len(snap.OpenGaps)+len(failed))
	for _, g := range snap.OpenGaps {
		existing = append(existing, planner.ExistingGap{
			ID:            g.ID,
			Range:         coverage.Range{Start: g.StartPos, End: g.EndPos},
			State:         g.State,
			Attempts:      g.Attempts,
			LastFailureAt: g.LastFailureAt,
		})
	}
	for _, g := range failed {
		existing = append(existing, planner.ExistingGap{
			ID:            g.ID,
			Range:         coverage.Range{Start: g.StartPos, End: g.EndPos},
			State:         g.State,
			Attempts:      g.Attempts,
			LastFailureAt: g.LastFailureAt,
		})
	}

	result := planner.Plan(grid, m, bm, existing, now, e.Config, provider.Limits())

	if len(result.RetryGapIDs) > 0 {
		if err := e.Store.RequeueFailedGaps(ctx, result.RetryGapIDs); err != nil {
			e.Log.Error("requeue failed gaps failed", logger.Error(err), logger.Int64("manifest_id", m.ID))
		}
	}

	if len(result.NewGaps) == 0 {
		return
	}
	ranges := make([]repository.GapRange, 0, len(result.NewGaps))
	for _, g := range result.NewGaps {
		ranges = append(ranges, repository.GapRange{StartPos: g.Range.Start, EndPos: g.Range.End})
	}
	if err := e.Store.EnqueueGaps(ctx, m.ID, ranges); err != nil {
		e.Log.Error("enqueue gaps failed", logger.Error(err), logger.Int64("manifest_id", m.ID))
		return
	}
	if e.Metrics != nil {
		for range ranges {
			e.Metrics.RecordGapQueued(string(m.Key.Provider))
		}
	}
}
