// Package fakeprovider is an in-memory repository.BarProvider used by tests
// that exercise the runtime worker pool end to end without a network call
// (spec.md §4.5, §8 end-to-end scenarios). It is never imported from cmd/.
package fakeprovider

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"assetsync/internal/coverage"
	"assetsync/internal/domain/model"
	"assetsync/internal/domain/repository"
)

// Provider serves bars out of an in-memory set keyed by grid position, with
// optional scripted failures and a configurable page size to exercise
// pagination.
type Provider struct {
	mu       sync.Mutex
	grid     coverage.Grid
	bars     map[int64]model.Bar
	limits   repository.ProviderLimits
	failNext map[int64]error // position -> error to return once, then clear
}

func New(grid coverage.Grid, limits repository.ProviderLimits) *Provider {
	if limits.MaxBarsPerRequest <= 0 {
		limits.MaxBarsPerRequest = 500
	}
	return &Provider{
		grid:     grid,
		bars:     make(map[int64]model.Bar),
		limits:   limits,
		failNext: make(map[int64]error),
	}
}

// Seed marks every position in [start, end] as having data, synthesizing a
// flat OHLCV bar at each grid instant.
func (p *Provider) Seed(start, end int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := start; i <= end; i++ {
		t := p.grid.InstantOf(i)
		p.bars[i] = model.Bar{OpenUTC: t, CloseUTC: p.grid.InstantOf(i + 1), Open: 1, High: 1, Low: 1, Close: 1, Volume: 1}
	}
}

// FailOnce arranges for the page request starting at position pos (the
// request's start, or its cursor when one is given) to return err exactly
// once, after which it serves normally — used to exercise the runtime's
// transient-retry and partial-commit paths.
func (p *Provider) FailOnce(pos int64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[pos] = err
}

func (p *Provider) FetchBars(ctx context.Context, key model.StreamKey, start, end time.Time, maxBars int, cursor string) (model.FetchPage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	startPos := p.grid.PositionOf(start)
	endPos := p.grid.PositionOf(end) - 1

	if cursor != "" {
		if parsed, err := strconv.ParseInt(cursor, 10, 64); err == nil {
			startPos = parsed
		}
	}

	if err, ok := p.failNext[startPos]; ok {
		delete(p.failNext, startPos)
		return model.FetchPage{}, err
	}

	var positions []int64
	for pos := range p.bars {
		if pos >= startPos && pos <= endPos {
			positions = append(positions, pos)
		}
	}
	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })

	if maxBars <= 0 || maxBars > p.limits.MaxBarsPerRequest {
		maxBars = p.limits.MaxBarsPerRequest
	}

	page := model.FetchPage{}
	for i, pos := range positions {
		if i >= maxBars {
			page.NextCursor = formatCursor(pos)
			break
		}
		page.Bars = append(page.Bars, p.bars[pos])
	}
	return page, nil
}

func (p *Provider) Limits() repository.ProviderLimits { return p.limits }

func formatCursor(pos int64) string {
	return strconv.FormatInt(pos, 10)
}
