// Package model defines the core domain types shared across the trade engine:
// indicator bars, trading signals, positions, instruments, and executed trades.
package model

import "time"

// BarInterval is the fixed bar width of the indicator series. All scheduling
// and adjacency checks are derived from this one constant.
const BarInterval = 4 * time.Hour

// Bar is one 4-hour price/indicator snapshot for an instrument. Bars are
// written once by the ingestion service and never mutated; the trade engine
// only ever reads the two most recent per instrument.
type Bar struct {
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"` // bar open time, UTC

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	// Precomputed indicators. Zero until the underlying rolling window has
	// enough history; the detector's gates make unwarmed bars a no-signal.
	RSI       float64 `json:"rsi"`
	ATR       float64 `json:"atr"`
	AvgVolume float64 `json:"avg_volume"`
	ADX       float64 `json:"adx"`
	ZScore    float64 `json:"zscore"`
}

// Adjacent reports whether next immediately follows b in the 4-hour series.
func (b Bar) Adjacent(next Bar) bool {
	return next.Timestamp.Equal(b.Timestamp.Add(BarInterval))
}
