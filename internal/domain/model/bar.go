package model

import "time"

// Bar is a single OHLCV record summarizing trades over one grid period
// (spec.md GLOSSARY). TradeCount and VWAP are provider-optional.
type Bar struct {
	OpenUTC    time.Time
	CloseUTC   time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount *int64
	VWAP       *float64
}

// FetchPage is the result of one fetch_bars call (spec.md §6.1). Bars are
// expected sorted ascending, unique, and strictly within the requested
// range — the runtime validates these before committing.
type FetchPage struct {
	Bars       []Bar
	NextCursor string // empty means no further pages
}
