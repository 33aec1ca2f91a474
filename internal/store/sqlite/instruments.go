package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"meanrev-trader/internal/model"
)

// UpsertInstrument inserts or refreshes one instrument's exchange metadata.
// Reactivation clears any previous deactivation reason.
func (s *Store) UpsertInstrument(inst model.Instrument) error {
	active := 0
	if inst.Active {
		active = 1
	}
	_, err := s.db.Exec(`
		INSERT INTO instruments (symbol, price_precision, quantity_precision, active, deactivation_reason, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			price_precision = excluded.price_precision,
			quantity_precision = excluded.quantity_precision,
			active = excluded.active,
			deactivation_reason = excluded.deactivation_reason,
			updated_at = excluded.updated_at`,
		inst.Symbol, inst.PricePrecision, inst.QuantityPrecision, active,
		inst.DeactivationReason, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("sqlite upsert instrument: %w", err)
	}
	return nil
}

// ActiveInstruments returns all tradable instruments.
func (s *Store) ActiveInstruments() ([]model.Instrument, error) {
	rows, err := s.db.Query(`
		SELECT symbol, price_precision, quantity_precision
		FROM instruments
		WHERE active = 1
		ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query instruments: %w", err)
	}
	defer rows.Close()

	var out []model.Instrument
	for rows.Next() {
		inst := model.Instrument{Active: true}
		if err := rows.Scan(&inst.Symbol, &inst.PricePrecision, &inst.QuantityPrecision); err != nil {
			return nil, fmt.Errorf("sqlite scan instrument: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// Instrument returns one instrument by symbol, or ErrNotFound.
func (s *Store) Instrument(symbol string) (*model.Instrument, error) {
	row := s.db.QueryRow(`
		SELECT symbol, price_precision, quantity_precision, active, COALESCE(deactivation_reason, '')
		FROM instruments WHERE symbol = ?`, symbol)

	var inst model.Instrument
	var active int
	if err := row.Scan(&inst.Symbol, &inst.PricePrecision, &inst.QuantityPrecision, &active, &inst.DeactivationReason); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("sqlite scan instrument: %w", err)
	}
	inst.Active = active == 1
	return &inst, nil
}

// DeactivateInstrument removes an instrument from the tradable universe,
// recording why. Used for delisted symbols and zero-volume bars.
func (s *Store) DeactivateInstrument(symbol, reason string) error {
	_, err := s.db.Exec(`
		UPDATE instruments
		SET active = 0, deactivation_reason = ?, updated_at = ?
		WHERE symbol = ?`,
		reason, time.Now().UTC().Unix(), symbol)
	if err != nil {
		return fmt.Errorf("sqlite deactivate instrument: %w", err)
	}
	log.Printf("[sqlite] deactivated %s: %s", symbol, reason)
	return nil
}
