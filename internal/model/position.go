package model

import "time"

// PositionStatus is the lifecycle state of a position.
type PositionStatus string

const (
	StatusPending   PositionStatus = "Pending"   // entry order submitted, fill unconfirmed
	StatusOpen      PositionStatus = "Open"      // fill confirmed
	StatusClosed    PositionStatus = "Closed"    // terminal, has P&L
	StatusCancelled PositionStatus = "Cancelled" // terminal, entry never filled
)

// Live reports whether the status counts against the one-live-position-per-
// instrument invariant.
func (s PositionStatus) Live() bool {
	return s == StatusPending || s == StatusOpen
}

// ExitType records which exit condition closed a position.
type ExitType string

const (
	ExitLevel2     ExitType = "Level2"     // z-score overextended past the band again
	ExitLevel0     ExitType = "Level0"     // z-score reverted to neutral
	ExitTime       ExitType = "TimeExit"   // 12-hour absolute deadline
	ExitTakeProfit ExitType = "TakeProfit" // attached TP order executed on the exchange
	ExitStopLoss   ExitType = "StopLoss"   // attached SL order executed on the exchange
	ExitCancelled  ExitType = "Cancelled"  // entry order expired unfilled
)

// Position is the single mutable record of a trade's lifecycle. At most one
// position per instrument may be in a live status at any time; the store
// enforces this with a partial unique index, and all mutation goes through
// the orchestrator under per-instrument serialization.
type Position struct {
	ID        int64          `json:"id"`
	Symbol    string         `json:"symbol"`
	Status    PositionStatus `json:"status"`
	Direction Direction      `json:"direction"`

	SignalPrice   float64 `json:"signal_price"` // detector's price estimate at signal time
	Quantity      float64 `json:"quantity"`
	TargetPrice   float64 `json:"target_price"`
	StopLossPrice float64 `json:"stop_loss_price"`

	EntryOrderID string    `json:"entry_order_id"` // client order id, stable across retries
	EntryTime    time.Time `json:"entry_time"`
	EntryPrice   float64   `json:"entry_price"` // exchange-reported fill, not SignalPrice

	ExitTime    time.Time `json:"exit_time"`
	ExitPrice   float64   `json:"exit_price"`
	ExitType    ExitType  `json:"exit_type"`
	RealizedPnL float64   `json:"realized_pnl"`

	// Note carries error annotations (best-effort closes, deactivations).
	Note string `json:"note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TimeExitDeadline returns the absolute close deadline for an open position.
func (p Position) TimeExitDeadline() time.Time {
	return p.EntryTime.Add(TimeExitAfter)
}
