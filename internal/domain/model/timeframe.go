// Package model holds the plain data types shared by the manifest store,
// the coverage bitmap, the planner, and the runtime.
package model

import (
	"fmt"
	"time"
)

// TimeframeUnit is the calendar granularity of a bar grid.
type TimeframeUnit string

const (
	Minute TimeframeUnit = "Minute"
	Hour   TimeframeUnit = "Hour"
	Day    TimeframeUnit = "Day"
	Week   TimeframeUnit = "Week"
	Month  TimeframeUnit = "Month"
)

// Timeframe is amount x unit, e.g. 5-Minute, 3-Hour, 2-Week, 6-Month.
type Timeframe struct {
	Amount int
	Unit   TimeframeUnit
}

// validAmounts is the restricted domain from spec.md §3.
var validAmounts = map[TimeframeUnit]func(int) bool{
	Minute: func(a int) bool { return a >= 1 && a <= 59 },
	Hour:   func(a int) bool { return a >= 1 && a <= 23 },
	Day:    func(a int) bool { return a == 1 },
	Week:   func(a int) bool { return a == 1 },
	Month: func(a int) bool {
		switch a {
		case 1, 2, 3, 4, 6, 12:
			return true
		default:
			return false
		}
	},
}

// Validate rejects timeframes outside the restricted domain (spec load time).
func (tf Timeframe) Validate() error {
	check, ok := validAmounts[tf.Unit]
	if !ok {
		return fmt.Errorf("timeframe: unknown unit %q", tf.Unit)
	}
	if !check(tf.Amount) {
		return fmt.Errorf("timeframe: amount %d invalid for unit %q", tf.Amount, tf.Unit)
	}
	return nil
}

// String renders a short form, e.g. "5m", "1D", "6M" — used for logging and gap labels.
func (tf Timeframe) String() string {
	var u string
	switch tf.Unit {
	case Minute:
		u = "m"
	case Hour:
		u = "h"
	case Day:
		u = "D"
	case Week:
		u = "W"
	case Month:
		u = "M"
	default:
		u = "?"
	}
	return fmt.Sprintf("%d%s", tf.Amount, u)
}

// Duration reports the fixed-length period for Minute, Hour and Day. Week and Month
// are calendar-aware and have no single fixed duration; callers needing their
// step size must use Grid.InstantOf / Grid.PositionOf instead.
func (tf Timeframe) Duration() (time.Duration, bool) {
	switch tf.Unit {
	case Minute:
		return time.Duration(tf.Amount) * time.Minute, true
	case Hour:
		return time.Duration(tf.Amount) * time.Hour, true
	case Day:
		return 24 * time.Hour, true
	default:
		return 0, false
	}
}
