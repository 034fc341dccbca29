package planner

import (
	"time"

	"assetsync/internal/coverage"
)

// Priority is the ordering key of spec.md §4.3: hot gaps (whose end is
// within hot_window of now) sort before cold gaps; within cold, smaller
// open_instant first (oldest backfill progresses first); within hot, larger
// open_instant first (freshest real-time first). Final tie-break is
// (manifest_id, start_ts) ascending.
type Priority struct {
	Hot        bool
	ManifestID int64
	StartPos   int64
	// sortPos is StartPos for cold (ascending) and -StartPos for hot
	// (descending effect under ascending sort).
	sortPos int64
}

func priorityOf(grid coverage.Grid, manifestID int64, r coverage.Range, now time.Time, hotWindow time.Duration) Priority {
	endInstant := grid.InstantOf(r.End)
	hot := !endInstant.Before(now.Add(-hotWindow))

	sortPos := r.Start
	if hot {
		sortPos = -r.Start
	}
	return Priority{
		Hot:        hot,
		ManifestID: manifestID,
		StartPos:   r.Start,
		sortPos:    sortPos,
	}
}

// Less implements the total order described above.
func (p Priority) Less(o Priority) bool {
	if p.Hot != o.Hot {
		return p.Hot // hot sorts first
	}
	if p.sortPos != o.sortPos {
		return p.sortPos < o.sortPos
	}
	if p.ManifestID != o.ManifestID {
		return p.ManifestID < o.ManifestID
	}
	return p.StartPos < o.StartPos
}
