package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"meanrev-trader/internal/model"
)

// InsertBar appends one bar to the series. Re-inserting the same
// (symbol, ts) replaces the row, so a retried ingestion cycle is harmless.
func (s *Store) InsertBar(b model.Bar) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO bars_4h
			(symbol, ts, open, high, low, close, volume, rsi, atr, avg_volume, adx, zscore)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.Symbol, b.Timestamp.Unix(), b.Open, b.High, b.Low, b.Close, b.Volume,
		nullFloat(b.RSI), nullFloat(b.ATR), nullFloat(b.AvgVolume), nullFloat(b.ADX), nullFloat(b.ZScore),
	)
	if err != nil {
		return fmt.Errorf("sqlite insert bar: %w", err)
	}
	return nil
}

// LatestBars returns up to n most recent bars for symbol, newest first.
func (s *Store) LatestBars(symbol string, n int) ([]model.Bar, error) {
	rows, err := s.db.Query(`
		SELECT symbol, ts, open, high, low, close, volume, rsi, atr, avg_volume, adx, zscore
		FROM bars_4h
		WHERE symbol = ?
		ORDER BY ts DESC
		LIMIT ?`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query bars: %w", err)
	}
	defer rows.Close()

	var bars []model.Bar
	for rows.Next() {
		b, err := scanBar(rows)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	return bars, rows.Err()
}

// BarHistory returns the last n bars in ascending time order, for indicator
// recomputation context.
func (s *Store) BarHistory(symbol string, n int) ([]model.Bar, error) {
	bars, err := s.LatestBars(symbol, n)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}
	return bars, nil
}

// PruneBars deletes everything but the most recent keep bars per instrument
// and returns the number of deleted rows.
func (s *Store) PruneBars(keep int) (int64, error) {
	res, err := s.db.Exec(`
		WITH ranked AS (
			SELECT rowid AS rid,
			       ROW_NUMBER() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
			FROM bars_4h
		)
		DELETE FROM bars_4h
		WHERE rowid IN (SELECT rid FROM ranked WHERE rn > ?)`, keep)
	if err != nil {
		return 0, fmt.Errorf("sqlite prune bars: %w", err)
	}
	return res.RowsAffected()
}

func scanBar(rows *sql.Rows) (model.Bar, error) {
	var b model.Bar
	var ts int64
	var rsi, atr, avgVol, adx, zscore sql.NullFloat64
	if err := rows.Scan(&b.Symbol, &ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
		&rsi, &atr, &avgVol, &adx, &zscore); err != nil {
		return model.Bar{}, fmt.Errorf("sqlite scan bar: %w", err)
	}
	b.Timestamp = time.Unix(ts, 0).UTC()
	b.RSI = rsi.Float64
	b.ATR = atr.Float64
	b.AvgVolume = avgVol.Float64
	b.ADX = adx.Float64
	b.ZScore = zscore.Float64
	return b, nil
}

// nullFloat maps the zero value to NULL: indicators are zero only while the
// rolling window is still warming up.
func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}
