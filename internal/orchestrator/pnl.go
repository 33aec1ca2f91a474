package orchestrator

import "meanrev-trader/internal/model"

// ReconcilePnL derives realized P&L and exit price from the fills executed
// over a position's lifetime. Entries and exits can both fill in several
// partial executions, so naive entry/exit price arithmetic is wrong; the
// trade history is the source of truth.
//
// When the venue attributes per-fill realized P&L (Binance does), the result
// is the sum of those attributions. Otherwise it falls back to summing
// signed notionals, which is exact for a flat round trip. The exit price is
// the price of the last fill.
func ReconcilePnL(trades []model.Trade) (pnl, exitPrice float64) {
	if len(trades) == 0 {
		return 0, 0
	}

	reported := true
	for _, t := range trades {
		if !t.PnLReported {
			reported = false
			break
		}
	}

	for _, t := range trades {
		if reported {
			pnl += t.RealizedPnL
		} else {
			pnl += t.SignedNotional()
		}
	}
	return pnl, trades[len(trades)-1].Price
}
