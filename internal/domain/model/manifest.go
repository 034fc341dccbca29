package model

import "time"

// ManifestEntry is the durable record of one stream's desired range and
// progress (spec.md §3). Soft-deleted entries are excluded from every read
// by the store, including the lookups made during reconciliation.
type ManifestEntry struct {
	ID         int64
	Key        StreamKey
	DesiredStart time.Time
	DesiredEnd   *time.Time // nil => open-ended
	Watermark    *time.Time
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UpdateRev    int64
	Deleted      bool
}

// EffectiveEnd resolves the open-ended case to a concrete instant for
// planning purposes: desired_end if closed, otherwise now minus the
// provider's latency margin (spec.md §4.3). The result is not floored to
// the grid here; the planner floors it.
func (m ManifestEntry) EffectiveEnd(now time.Time, latencyMargin time.Duration) time.Time {
	if m.DesiredEnd != nil {
		return *m.DesiredEnd
	}
	return now.Add(-latencyMargin)
}

// SpecDiff is the result of reconciling a declarative spec set against the
// manifest (spec.md §4.1 upsert_spec, §6.4).
type SpecDiff struct {
	Added     []int64
	Modified  []int64
	RemovedIDs []int64
}

func (d SpecDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.RemovedIDs) == 0
}
