package model

import "time"

// Direction of a trade.
type Direction string

const (
	Long  Direction = "LONG"
	Short Direction = "SHORT"
)

// TimeExitAfter is the absolute position deadline: a position still open this
// long after entry is force-closed regardless of any other condition.
const TimeExitAfter = 12 * time.Hour

// Signal is a mean-reversion entry candidate produced by the detector for one
// bar. Signals are unique per (symbol, bar timestamp) — the archive enforces
// this with a database uniqueness constraint, never application logic, so
// concurrent evaluations of the same tick cannot race into duplicates.
// A Signal is never mutated or deleted once recorded.
type Signal struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	BarTime   time.Time `json:"bar_time"` // timestamp of the bar that fired
	Direction Direction `json:"direction"`

	// Indicator values of the firing bar, kept for audit.
	ZScore float64 `json:"zscore"`
	RSI    float64 `json:"rsi"`
	ADX    float64 `json:"adx"`

	CurrentPrice  float64 `json:"current_price"` // close at signal time; an estimate, not the fill
	TargetPrice   float64 `json:"target_price"`
	StopLossPrice float64 `json:"stop_loss_price"`

	CreatedAt time.Time `json:"created_at"`
}

// TimeExitAt returns the hard deadline for a position entered on this signal.
func (s Signal) TimeExitAt() time.Time {
	return s.BarTime.Add(TimeExitAfter)
}
