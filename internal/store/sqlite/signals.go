package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"meanrev-trader/internal/model"
)

// RecordSignalIfAbsent archives a signal unless one already exists for the
// same (symbol, bar timestamp). Returns true when the row was inserted and
// false for a duplicate; a duplicate is an expected outcome of re-evaluating
// the same tick, never an error.
//
// Atomicity against concurrent callers comes from the UNIQUE constraint:
// INSERT OR IGNORE either wins the row or affects nothing.
func (s *Store) RecordSignalIfAbsent(sig model.Signal) (bool, error) {
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO signals
			(symbol, bar_ts, direction, zscore, rsi, adx, current_price, target_price, stop_loss_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.Symbol, sig.BarTime.Unix(), string(sig.Direction),
		sig.ZScore, sig.RSI, sig.ADX,
		sig.CurrentPrice, sig.TargetPrice, sig.StopLossPrice,
		sig.CreatedAt.Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite record signal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite record signal: %w", err)
	}
	return n > 0, nil
}

// LatestSignal returns the most recent archived signal for symbol, or
// ErrNotFound when none exists.
func (s *Store) LatestSignal(symbol string) (*model.Signal, error) {
	row := s.db.QueryRow(`
		SELECT id, symbol, bar_ts, direction, zscore, rsi, adx, current_price, target_price, stop_loss_price, created_at
		FROM signals
		WHERE symbol = ?
		ORDER BY bar_ts DESC
		LIMIT 1`, symbol)

	var sig model.Signal
	var barTS, createdAt int64
	var dir string
	err := row.Scan(&sig.ID, &sig.Symbol, &barTS, &dir, &sig.ZScore, &sig.RSI, &sig.ADX,
		&sig.CurrentPrice, &sig.TargetPrice, &sig.StopLossPrice, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite latest signal: %w", err)
	}
	sig.BarTime = time.Unix(barTS, 0).UTC()
	sig.CreatedAt = time.Unix(createdAt, 0).UTC()
	sig.Direction = model.Direction(dir)
	return &sig, nil
}
