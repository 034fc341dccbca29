package runtime

import (
	"context"
	"fmt"
	goruntime "runtime"
	"sync"
	"time"

	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
	"assetsync/pkg/logger"

	"github.com/google/uuid"
)

// Deps are the Pool's external collaborators, all interfaces so tests can
// substitute fakes (spec.md §4.4, §4.5).
type Deps struct {
	Store       repository.ManifestStore
	Providers   map[model.ProviderID]repository.BarProvider
	Sink        repository.Sink
	Metrics     repository.Metrics
	Limiter     *Limiter
	Backoff     BackoffConfig
	LeaseTTL    time.Duration
	Concurrency int
	IdlePoll    time.Duration
	Log         *logger.Logger
}

// Pool runs Concurrency worker goroutines, each independently leasing,
// fetching, and committing gaps (spec.md §4.4). The set of live manifests
// it schedules over is refreshed by the planner driver via SetManifests.
type Pool struct {
	deps Deps

	mu        sync.RWMutex
	manifests map[int64]model.ManifestEntry
}

func NewPool(deps Deps) *Pool {
	if deps.Concurrency <= 0 {
		deps.Concurrency = goruntime.NumCPU()
	}
	if deps.IdlePoll <= 0 {
		deps.IdlePoll = 2 * time.Second
	}
	if deps.LeaseTTL <= 0 {
		deps.LeaseTTL = 2 * time.Minute
	}
	if deps.Limiter == nil {
		deps.Limiter = NewLimiter()
	}
	return &Pool{deps: deps, manifests: make(map[int64]model.ManifestEntry)}
}

// SetManifests replaces the set of live manifests workers may lease against
// — called by the planner driver after each periodic tick's reconciliation.
func (p *Pool) SetManifests(entries []model.ManifestEntry) {
	m := make(map[int64]model.ManifestEntry, len(entries))
	for _, e := range entries {
		m[e.ID] = e
	}
	p.mu.Lock()
	p.manifests = m
	p.mu.Unlock()
}

func (p *Pool) manifest(id int64) (model.ManifestEntry, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.manifests[id]
	return m, ok
}

func (p *Pool) liveManifestIDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]int64, 0, len(p.manifests))
	for id := range p.manifests {
		ids = append(ids, id)
	}
	return ids
}

// Run blocks until ctx is canceled, running Concurrency worker loops.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < p.deps.Concurrency; i++ {
		wg.Add(1)
		// Each worker gets a unique lease-owner id so a steal of an
		// expired lease (spec.md §4.1, §4.4) can never be mistaken for a
		// re-acquire by the same worker, even across process restarts
		// that reuse the index i.
		workerID := fmt.Sprintf("worker-%d-%s", i, uuid.NewString())
		go func() {
			defer wg.Done()
			p.workerLoop(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (p *Pool) workerLoop(ctx context.Context, workerID string) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		ids := p.liveManifestIDs()
		if len(ids) == 0 {
			if !sleepCtx(ctx, p.deps.IdlePoll) {
				return
			}
			continue
		}

		did := p.processOne(ctx, workerID, ids)
		if !did {
			if !sleepCtx(ctx, p.deps.IdlePoll) {
				return
			}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
