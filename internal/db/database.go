package db

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the sqlite connection shared by the event store, the
// modem state tracker and the financial ledger. Every repository method is
// its own transaction; serialization of concurrent writers is left to the
// storage engine.
type Database struct {
	db *sql.DB
}

// NewDatabase opens (or creates) the gateway database and ensures the
// schema exists.
func NewDatabase(dsn string) (*Database, error) {
	if dsn == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("ping failed: %w, close failed: %v", err, closeErr)
		}
		return nil, err
	}

	if err := createTables(db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("create tables failed: %w, close failed: %v", err, closeErr)
		}
		return nil, err
	}

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			status TEXT NOT NULL,
			modem_id TEXT NOT NULL,
			timestamp DATETIME NOT NULL,
			body JSON NOT NULL,
			error TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS modem_state (
			modem_id TEXT PRIMARY KEY,
			balance REAL,
			currency TEXT,
			network TEXT,
			signal_strength INTEGER,
			last_balance_check DATETIME,
			last_network_check DATETIME,
			last_signal_check DATETIME,
			is_online BOOLEAN DEFAULT 0,
			last_online DATETIME,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS financial_activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			modem_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			amount REAL,
			currency TEXT,
			timestamp DATETIME NOT NULL,
			details TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_modem_id ON events(modem_id)`,
		`CREATE INDEX IF NOT EXISTS idx_events_type ON events(type)`,
		`CREATE INDEX IF NOT EXISTS idx_events_status ON events(status)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_financial_activity_modem_id ON financial_activity(modem_id)`,
		`CREATE INDEX IF NOT EXISTS idx_financial_activity_timestamp ON financial_activity(timestamp)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetDB exposes the underlying handle for repository construction.
func (d *Database) GetDB() *sql.DB {
	return d.db
}

// Close closes the underlying connection.
func (d *Database) Close() error {
	if d == nil {
		return errors.New("database is nil")
	}
	if d.db == nil {
		return errors.New("database already closed")
	}
	err := d.db.Close()
	d.db = nil
	return err
}
