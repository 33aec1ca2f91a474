package orchestrator

import (
	"testing"

	"meanrev-trader/internal/model"
)

func TestReconcilePnLFromReportedFills(t *testing.T) {
	pnl, exitPrice := ReconcilePnL([]model.Trade{
		{Side: "BUY", Price: 100, Qty: 1, RealizedPnL: 0, PnLReported: true},
		{Side: "SELL", Price: 103, Qty: 0.4, RealizedPnL: 1.2, PnLReported: true},
		{Side: "SELL", Price: 104, Qty: 0.6, RealizedPnL: 2.4, PnLReported: true},
	})
	if pnl != 3.6 {
		t.Errorf("pnl = %v, want 3.6", pnl)
	}
	if exitPrice != 104 {
		t.Errorf("exit price = %v, want last fill 104", exitPrice)
	}
}

func TestReconcilePnLFallsBackToNotionals(t *testing.T) {
	// One fill without attribution poisons the reported sum, so the whole
	// window falls back to signed notionals.
	pnl, exitPrice := ReconcilePnL([]model.Trade{
		{Side: "BUY", Price: 100, Qty: 2, PnLReported: true, RealizedPnL: 0},
		{Side: "SELL", Price: 105, Qty: 2, PnLReported: false},
	})
	want := -200.0 + 210.0
	if pnl != want {
		t.Errorf("pnl = %v, want %v", pnl, want)
	}
	if exitPrice != 105 {
		t.Errorf("exit price = %v", exitPrice)
	}
}

func TestReconcilePnLEmpty(t *testing.T) {
	pnl, exitPrice := ReconcilePnL(nil)
	if pnl != 0 || exitPrice != 0 {
		t.Errorf("got %v/%v, want zeros", pnl, exitPrice)
	}
}

func TestReconcilePnLShortRoundTrip(t *testing.T) {
	// Short: sell first, buy back cheaper. Notional fallback.
	pnl, _ := ReconcilePnL([]model.Trade{
		{Side: "SELL", Price: 50, Qty: 3},
		{Side: "BUY", Price: 48, Qty: 3},
	})
	if pnl != 6 {
		t.Errorf("pnl = %v, want 6", pnl)
	}
}
