// Package exchange defines the broker surface the orchestrator depends on
// and its Binance USDT-margined futures implementation.
//
// Every method is a suspension point: callers wrap them in the bounded retry
// policy, and implementations must stay safe to retry — entry submission is
// keyed by a stable client order id and close paths check exchange state
// before acting, so a retried call never doubles an order.
package exchange

import (
	"context"
	"errors"
	"time"

	"meanrev-trader/internal/model"
)

// ErrInvalidInstrument marks a delisted or unknown symbol. It is permanent
// for that instrument: callers propagate it to the deactivation path instead
// of retrying.
var ErrInvalidInstrument = errors.New("exchange: invalid or delisted instrument")

// EntryRequest describes a mean-reversion entry: two limit orders around the
// signal price with take-profit and stop-loss trigger orders attached.
type EntryRequest struct {
	Symbol        string
	Direction     model.Direction
	Quantity      float64 // total quantity across both limit orders
	LimitPrice    float64 // signal price; the second order sits 1% beyond it
	TargetPrice   float64
	StopLossPrice float64
	ClientOrderID string // stable across retries

	PricePrecision    int
	QuantityPrecision int
}

// PositionState is the exchange's view of an instrument's position.
// Qty is signed: positive long, negative short, zero flat.
type PositionState struct {
	Qty        float64
	EntryPrice float64
}

// Open reports whether any quantity is held.
func (p PositionState) Open() bool { return p.Qty != 0 }

// Gateway is the broker interface.
type Gateway interface {
	// PlaceEntry configures margin/leverage and submits the entry orders
	// with attached TP/SL triggers.
	PlaceEntry(ctx context.Context, req EntryRequest) error

	// OpenPosition reports fill state: a non-zero quantity means the entry
	// (possibly partially) filled at the returned average entry price.
	OpenPosition(ctx context.Context, symbol string) (PositionState, error)

	// CancelAll cancels every open order for the instrument.
	CancelAll(ctx context.Context, symbol string) error

	// CloseMarket flattens the position at market and returns the fill
	// price. A flat position is not an error; it returns 0.
	CloseMarket(ctx context.Context, symbol string) (float64, error)

	// TradeHistory returns executed fills in [from, to], oldest first.
	TradeHistory(ctx context.Context, symbol string, from, to time.Time) ([]model.Trade, error)

	// TickerPrice returns the current market price.
	TickerPrice(ctx context.Context, symbol string) (float64, error)

	// Balance returns the total margin balance of the account.
	Balance(ctx context.Context) (float64, error)
}
