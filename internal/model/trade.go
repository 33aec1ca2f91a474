package model

import "time"

// Trade is a single executed fill reported by the exchange. TP/SL orders may
// fill in several partial executions, so realized P&L is always reconciled by
// summing fills over a time window instead of naive entry/exit arithmetic.
type Trade struct {
	Symbol  string    `json:"symbol"`
	OrderID string    `json:"order_id"`
	Side    string    `json:"side"` // BUY or SELL
	Price   float64   `json:"price"`
	Qty     float64   `json:"qty"`
	Time    time.Time `json:"time"`

	// RealizedPnL is the exchange-attributed P&L of this fill.
	// PnLReported distinguishes "zero P&L" from "venue does not report it".
	RealizedPnL float64 `json:"realized_pnl"`
	PnLReported bool    `json:"pnl_reported"`
}

// SignedNotional is the cash delta of the fill: positive for sells, negative
// for buys. Summing signed notionals over a flat round trip yields its P&L.
func (t Trade) SignedNotional() float64 {
	if t.Side == "SELL" {
		return t.Price * t.Qty
	}
	return -t.Price * t.Qty
}
