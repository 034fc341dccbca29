// Package coverage maps between bar open instants and bitmap positions
// (spec.md §4.2) and answers coverage queries over a run-compressed bitmap.
package coverage

import (
	"fmt"
	"time"

	"assetsync/internal/domain/model"
)

// Grid is the total, strictly-increasing sequence of bar open instants
// induced by a timeframe anchored at a stream's desired_start (spec.md §3).
//
// Sub-day units advance by exact multiples of seconds. Week advances by
// 7*amount days starting on the week anchor of desired_start — no ISO week
// remapping (spec.md §4.2, §9 open question: the anchor day itself is
// whatever day-of-week desired_start floors to, documented here rather than
// re-derived per call). Month advances by calendar-month arithmetic on UTC,
// regardless of day-count.
type Grid struct {
	Anchor    time.Time
	Timeframe model.Timeframe
}

func NewGrid(anchor time.Time, tf model.Timeframe) Grid {
	return Grid{Anchor: anchor.UTC(), Timeframe: tf}
}

// NewEpochGrid anchors at the unit's global epoch (spec.md §3) rather than a
// stream's desired_start. Used at spec loading to floor/align desired_start
// and desired_end before a stream-local Grid (anchored at desired_start) is
// used for bitmap PositionOf/InstantOf.
func NewEpochGrid(referenceStart time.Time, tf model.Timeframe) Grid {
	return NewGrid(EpochForUnit(referenceStart, tf.Unit), tf)
}

// FloorToGrid rounds t down to the nearest instant on the grid at or before
// t. Used both to align a user-supplied desired_start (spec.md §3 invariant)
// and to compute effective_end for open-ended streams (spec.md §4.3).
func (g Grid) FloorToGrid(t time.Time) time.Time {
	t = t.UTC()
	if t.Before(g.Anchor) {
		return g.Anchor
	}
	pos := g.positionOfFloor(t)
	return g.InstantOf(pos)
}

// IsAligned reports whether t falls exactly on a grid position.
func (g Grid) IsAligned(t time.Time) bool {
	return g.FloorToGrid(t).Equal(t.UTC())
}

// PositionOf returns (t - desired_start) / timeframe as an integer grid
// position. It panics if t is before the anchor or not grid-aligned —
// callers must align first (spec.md §4.2: "undefined" for such inputs).
func (g Grid) PositionOf(t time.Time) int64 {
	t = t.UTC()
	if t.Before(g.Anchor) {
		panic(fmt.Sprintf("coverage: %s is before grid anchor %s", t, g.Anchor))
	}
	pos := g.positionOfFloor(t)
	if !g.InstantOf(pos).Equal(t) {
		panic(fmt.Sprintf("coverage: %s is not aligned to timeframe %s", t, g.Timeframe))
	}
	return pos
}

// positionOfFloor computes the position of the grid instant at or before t,
// without requiring alignment.
func (g Grid) positionOfFloor(t time.Time) int64 {
	switch g.Timeframe.Unit {
	case model.Minute, model.Hour, model.Day:
		step, _ := g.Timeframe.Duration()
		delta := t.Sub(g.Anchor)
		if delta < 0 {
			return 0
		}
		return int64(delta / step)
	case model.Week:
		step := 7 * 24 * time.Hour * time.Duration(g.Timeframe.Amount)
		delta := t.Sub(g.Anchor)
		if delta < 0 {
			return 0
		}
		return int64(delta / step)
	case model.Month:
		return g.monthsBetween(g.Anchor, t) / int64(g.Timeframe.Amount)
	default:
		panic("coverage: unknown timeframe unit " + string(g.Timeframe.Unit))
	}
}

// InstantOf returns desired_start + i*timeframe (spec.md §4.2). This is the
// inverse of PositionOf and must satisfy InstantOf(PositionOf(t)) == t for
// any t on the grid (spec.md §8 round-trip law).
func (g Grid) InstantOf(i int64) time.Time {
	switch g.Timeframe.Unit {
	case model.Minute, model.Hour, model.Day:
		step, _ := g.Timeframe.Duration()
		return g.Anchor.Add(time.Duration(i) * step)
	case model.Week:
		step := 7 * 24 * time.Hour * time.Duration(g.Timeframe.Amount)
		return g.Anchor.Add(time.Duration(i) * step)
	case model.Month:
		months := i * int64(g.Timeframe.Amount)
		return g.Anchor.AddDate(0, int(months), 0)
	default:
		panic("coverage: unknown timeframe unit " + string(g.Timeframe.Unit))
	}
}

// monthsBetween counts whole calendar months from `from` to `to`, assuming
// both fall on the first of a UTC month (as desired_start does once floored
// for a Month timeframe).
func (g Grid) monthsBetween(from, to time.Time) int64 {
	fy, fm, _ := from.Date()
	ty, tm, _ := to.Date()
	return int64(ty-fy)*12 + int64(tm-fm)
}

// EpochForUnit is the grid's zero point before anchoring to a stream's
// desired_start: the Unix epoch for sub-day units, and the first day of the
// period containing desired_start for Day/Week/Month (spec.md §3).
func EpochForUnit(desiredStart time.Time, unit model.TimeframeUnit) time.Time {
	desiredStart = desiredStart.UTC()
	switch unit {
	case model.Minute, model.Hour:
		return time.Unix(0, 0).UTC()
	case model.Day:
		y, m, d := desiredStart.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	case model.Week:
		y, m, d := desiredStart.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		// Monday-based anchor (spec.md §9 open question, decided in DESIGN.md).
		offset := (int(day.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
		return day.AddDate(0, 0, -offset)
	case model.Month:
		y, m, _ := desiredStart.Date()
		return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	default:
		panic("coverage: unknown timeframe unit " + string(unit))
	}
}
