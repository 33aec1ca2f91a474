package sqlite

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"meanrev-trader/internal/model"
)

// CreatePendingPosition inserts a new position in Pending status and returns
// its id. The partial unique index on live statuses makes a second live
// position for the same instrument a constraint violation, reported as
// ErrLivePositionExists — this is the entry-idempotence guarantee.
func (s *Store) CreatePendingPosition(p model.Position) (int64, error) {
	now := time.Now().UTC().Unix()
	res, err := s.db.Exec(`
		INSERT INTO positions
			(symbol, status, direction, signal_price, quantity, target_price, stop_loss_price,
			 entry_order_id, note, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, string(model.StatusPending), string(p.Direction),
		p.SignalPrice, p.Quantity, p.TargetPrice, p.StopLossPrice,
		p.EntryOrderID, p.Note, now, now,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return 0, ErrLivePositionExists
		}
		return 0, fmt.Errorf("sqlite create position: %w", err)
	}
	return res.LastInsertId()
}

// LivePosition returns the instrument's position in Pending or Open status,
// or ErrNotFound. At most one can exist.
func (s *Store) LivePosition(symbol string) (*model.Position, error) {
	return s.queryPosition(`
		SELECT `+positionCols+` FROM positions
		WHERE symbol = ? AND status IN ('Pending', 'Open')`, symbol)
}

// Position returns a position by id.
func (s *Store) Position(id int64) (*model.Position, error) {
	return s.queryPosition(`SELECT `+positionCols+` FROM positions WHERE id = ?`, id)
}

// MarkPositionOpen transitions Pending -> Open with the exchange-reported
// entry fill.
func (s *Store) MarkPositionOpen(id int64, entryTime time.Time, entryPrice float64) error {
	return s.updatePosition(id, `
		UPDATE positions
		SET status = ?, entry_time = ?, entry_price = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.StatusOpen), entryTime.UTC().Unix(), entryPrice,
		time.Now().UTC().Unix(), id, string(model.StatusPending))
}

// MarkPositionCancelled terminates an unfilled entry. Cancelled positions
// carry no P&L.
func (s *Store) MarkPositionCancelled(id int64, note string) error {
	return s.updatePosition(id, `
		UPDATE positions
		SET status = ?, exit_type = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.StatusCancelled), string(model.ExitCancelled), note,
		time.Now().UTC().Unix(), id, string(model.StatusPending))
}

// ClosePosition transitions Open -> Closed with the reconciled outcome.
func (s *Store) ClosePosition(id int64, exitTime time.Time, exitPrice float64, exitType model.ExitType, pnl float64, note string) error {
	return s.updatePosition(id, `
		UPDATE positions
		SET status = ?, exit_time = ?, exit_price = ?, exit_type = ?, realized_pnl = ?, note = ?, updated_at = ?
		WHERE id = ? AND status = ?`,
		string(model.StatusClosed), exitTime.UTC().Unix(), exitPrice, string(exitType), pnl, note,
		time.Now().UTC().Unix(), id, string(model.StatusOpen))
}

func (s *Store) updatePosition(id int64, query string, args ...any) error {
	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("sqlite update position %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite update position %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite update position %d: %w", id, ErrNotFound)
	}
	return nil
}

const positionCols = `id, symbol, status, direction, signal_price, quantity, target_price, stop_loss_price,
	entry_order_id, entry_time, entry_price, exit_time, exit_price, exit_type, realized_pnl, note, created_at, updated_at`

func (s *Store) queryPosition(query string, args ...any) (*model.Position, error) {
	row := s.db.QueryRow(query, args...)

	var p model.Position
	var status, direction string
	var entryOrderID, exitType, note sql.NullString
	var entryTime, exitTime sql.NullInt64
	var entryPrice, exitPrice, pnl sql.NullFloat64
	var createdAt, updatedAt int64

	err := row.Scan(&p.ID, &p.Symbol, &status, &direction, &p.SignalPrice, &p.Quantity,
		&p.TargetPrice, &p.StopLossPrice, &entryOrderID, &entryTime, &entryPrice,
		&exitTime, &exitPrice, &exitType, &pnl, &note, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite scan position: %w", err)
	}

	p.Status = model.PositionStatus(status)
	p.Direction = model.Direction(direction)
	p.EntryOrderID = entryOrderID.String
	if entryTime.Valid {
		p.EntryTime = time.Unix(entryTime.Int64, 0).UTC()
	}
	p.EntryPrice = entryPrice.Float64
	if exitTime.Valid {
		p.ExitTime = time.Unix(exitTime.Int64, 0).UTC()
	}
	p.ExitPrice = exitPrice.Float64
	p.ExitType = model.ExitType(exitType.String)
	p.RealizedPnL = pnl.Float64
	p.Note = note.String
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &p, nil
}
