// Package store persists daemon events to SQLite for `lsmux stats`.
// Uses pure-Go SQLite (modernc.org/sqlite) — no cgo required.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the per-daemon event database.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL lets the CLI read stats while the daemon writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	edb := &DB{db: db}
	if err := edb.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return edb, nil
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) migrate() error {
	_, err := d.db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id     INTEGER PRIMARY KEY AUTOINCREMENT,
			ts     TEXT NOT NULL DEFAULT (datetime('now')),
			kind   TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		)
	`)
	return err
}

// Event is one recorded daemon event.
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail,omitempty"`
}

// Record inserts one event. Satisfies the mux event recorder; errors
// are swallowed because event loss must never disturb message routing.
func (d *DB) Record(kind, detail string) {
	d.db.Exec(`INSERT INTO events (ts, kind, detail) VALUES (?, ?, ?)`,
		time.Now().UTC().Format(time.RFC3339), kind, detail)
}

// Recent returns the newest events, most recent first.
func (d *DB) Recent(limit int) ([]Event, error) {
	rows, err := d.db.Query(`
		SELECT id, ts, kind, detail FROM events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.Kind, &e.Detail); err != nil {
			return nil, err
		}
		e.Timestamp, _ = time.Parse(time.RFC3339, ts)
		events = append(events, e)
	}
	return events, rows.Err()
}

// Summary returns event counts grouped by kind.
func (d *DB) Summary() (map[string]int64, error) {
	rows, err := d.db.Query(`SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		out[kind] = n
	}
	return out, rows.Err()
}
