// Package indicator provides the technical indicators backing the detector:
// RSI, ATR, ADX (all Wilder-smoothed), rolling average volume, and the
// close-price z-score.
//
// All indicators are streaming: Update is O(1) per bar with no history
// scans, so a full symbol warm-up is linear in bar count.
package indicator

import "meanrev-trader/internal/model"

// Indicator is the interface for all streaming indicators.
type Indicator interface {
	// Update feeds a new closed bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool
}
