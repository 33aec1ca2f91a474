// Package sqlite persists the trade engine's durable state: the 4-hour bar
// series, the deduplicating signal archive, the position table, and the
// instrument universe.
//
// The signal archive's UNIQUE(symbol, bar_ts) constraint and the partial
// unique index on live positions are the concurrency primitives of the whole
// system — duplicate suppression and entry idempotence are enforced here, in
// the database, not in application checks.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned by single-row lookups with no matching row.
var ErrNotFound = errors.New("sqlite: not found")

// ErrLivePositionExists is returned when inserting a pending position for an
// instrument that already has one in a live status.
var ErrLivePositionExists = errors.New("sqlite: live position already exists")

// Config configures the store.
type Config struct {
	Path string // path to the database file, e.g. "data/meanrev.db"

	// SkipSchema disables the create-if-missing DDL pass on open, for
	// deployments that provision the schema out of band.
	SkipSchema bool
}

// Store is a single-writer SQLite store.
type Store struct {
	db *sql.DB
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *sql.DB { return s.db }

// Open opens the database in WAL mode and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer; the orchestrator serializes per instrument anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !cfg.SkipSchema {
		if err := createSchema(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite schema: %w", err)
		}
	}

	log.Printf("[sqlite] opened database at %s", cfg.Path)
	return &Store{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS instruments (
			symbol              TEXT PRIMARY KEY,
			price_precision     INTEGER NOT NULL DEFAULT 2,
			quantity_precision  INTEGER NOT NULL DEFAULT 2,
			active              INTEGER NOT NULL DEFAULT 1,
			deactivation_reason TEXT,
			updated_at          INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bars_4h (
			symbol     TEXT    NOT NULL,
			ts         INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			rsi        REAL,
			atr        REAL,
			avg_volume REAL,
			adx        REAL,
			zscore     REAL,
			PRIMARY KEY (symbol, ts)
		);

		CREATE TABLE IF NOT EXISTS signals (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol          TEXT    NOT NULL,
			bar_ts          INTEGER NOT NULL,
			direction       TEXT    NOT NULL,
			zscore          REAL    NOT NULL,
			rsi             REAL    NOT NULL,
			adx             REAL    NOT NULL,
			current_price   REAL    NOT NULL,
			target_price    REAL    NOT NULL,
			stop_loss_price REAL    NOT NULL,
			created_at      INTEGER NOT NULL,
			UNIQUE (symbol, bar_ts)
		);

		CREATE TABLE IF NOT EXISTS positions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol          TEXT    NOT NULL,
			status          TEXT    NOT NULL,
			direction       TEXT    NOT NULL,
			signal_price    REAL    NOT NULL,
			quantity        REAL    NOT NULL,
			target_price    REAL    NOT NULL,
			stop_loss_price REAL    NOT NULL,
			entry_order_id  TEXT,
			entry_time      INTEGER,
			entry_price     REAL,
			exit_time       INTEGER,
			exit_price      REAL,
			exit_type       TEXT,
			realized_pnl    REAL,
			note            TEXT,
			created_at      INTEGER NOT NULL,
			updated_at      INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_positions_live
			ON positions (symbol) WHERE status IN ('Pending', 'Open');

		CREATE INDEX IF NOT EXISTS idx_positions_symbol ON positions (symbol);
		CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals (symbol, bar_ts);
	`)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
