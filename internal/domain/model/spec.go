package model

import "time"

// Range is an open ("keep fresh") or closed ("backfill only") time window,
// named after original_source's asset_sync::spec::Range — spec.md §3/§6.4
// represent the same thing as desired_start / desired_end.
type Range struct {
	Start time.Time
	End   *time.Time // nil => open-ended
}

func (r Range) IsOpen() bool { return r.End == nil }

// AssetSpec is one user-declared desire that a stream should exist and be
// kept fresh (spec.md §6.4).
type AssetSpec struct {
	Symbol     string     `yaml:"symbol" validate:"required"`
	Provider   ProviderID `yaml:"provider" validate:"required"`
	AssetClass AssetClass `yaml:"asset_class" validate:"required"`
	Timeframe  Timeframe  `yaml:"timeframe" validate:"required"`
	Range      Range      `yaml:"range"`
}

func (s AssetSpec) Key() StreamKey {
	return StreamKey{
		Symbol:     s.Symbol,
		Provider:   s.Provider,
		AssetClass: s.AssetClass,
		Timeframe:  s.Timeframe,
	}
}

// Validate checks the invariants spec.md §3 requires at spec load: a valid
// identity, a timeframe in its restricted domain, and (if closed) an end
// strictly after start.
func (s AssetSpec) Validate() error {
	if err := s.Key().Validate(); err != nil {
		return err
	}
	if s.Range.Start.Location() != time.UTC {
		return errNotUTC("desired_start")
	}
	if s.Range.End != nil {
		if s.Range.End.Location() != time.UTC {
			return errNotUTC("desired_end")
		}
		if !s.Range.End.After(s.Range.Start) {
			return errRangeOrder()
		}
	}
	return nil
}

func errNotUTC(field string) error {
	return &timestampError{field: field}
}

type timestampError struct{ field string }

func (e *timestampError) Error() string {
	return e.field + " must carry an explicit UTC designation"
}

func errRangeOrder() error { return rangeOrderError{} }

type rangeOrderError struct{}

func (rangeOrderError) Error() string { return "desired_end must be strictly greater than desired_start" }
