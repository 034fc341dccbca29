package model

import "time"

// GapState is the lifecycle state of a work item (spec.md §3).
type GapState string

const (
	GapQueued GapState = "queued"
	GapLeased GapState = "leased"
	GapDone   GapState = "done"
	GapFailed GapState = "failed"
)

// Gap is a contiguous inclusive range of grid positions queued for
// fetching. Positions, not timestamps, are the unit of (dis)contiguity —
// StartPos/EndPos both index into the owning manifest's grid.
type Gap struct {
	ID             int64
	ManifestID     int64
	StartPos       int64
	EndPos         int64 // inclusive
	State          GapState
	LeaseOwner     string
	LeaseExpiresAt *time.Time
	Attempts       int
	LastFailureAt  *time.Time
	LastError      string
	DoneAt         *time.Time
}

// Open reports whether the gap still needs work (queued, or leased but not
// yet terminal).
func (g Gap) Open() bool {
	return g.State == GapQueued || g.State == GapLeased
}

// Len is the number of grid positions the gap spans.
func (g Gap) Len() int64 { return g.EndPos - g.StartPos + 1 }

// Overlaps reports whether two gaps on the same manifest share a position.
func (g Gap) Overlaps(o Gap) bool {
	return g.StartPos <= o.EndPos && o.StartPos <= g.EndPos
}

// LeaseExpired reports whether an existing lease has expired as of now,
// making the gap eligible for AcquireLease to steal (spec.md §4.1, §4.4).
func (g Gap) LeaseExpired(now time.Time) bool {
	return g.State == GapLeased && g.LeaseExpiresAt != nil && now.After(*g.LeaseExpiresAt)
}
