package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// migrations are applied in order and recorded in schema_migrations. Only
// append to this list.
var migrations = []struct {
	version int
	name    string
	sql     string
}{
	{1, "create runs", `
		CREATE TABLE IF NOT EXISTS runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			process TEXT NOT NULL,
			started_at TEXT NOT NULL,
			pump_started_at TEXT,
			ended_at TEXT,
			duration_ms INTEGER NOT NULL,
			outcome TEXT
		)`},
	{2, "create channel_events", `
		CREATE TABLE IF NOT EXISTS channel_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER REFERENCES runs(id),
			channel INTEGER NOT NULL,
			is_on BOOLEAN NOT NULL,
			at TEXT NOT NULL
		)`},
	{3, "index channel_events by run", `
		CREATE INDEX IF NOT EXISTS idx_channel_events_run ON channel_events(run_id)`},
}

// Open opens (creating if needed) the journal database and applies pending
// migrations.
func Open(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbConn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	dbConn.SetMaxOpenConns(1)

	if err := ApplyMigrations(dbConn); err != nil {
		dbConn.Close()
		return nil, err
	}
	return dbConn, nil
}

func ApplyMigrations(dbConn *sql.DB) error {
	if _, err := dbConn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := dbConn.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	for _, m := range migrations {
		if applied[m.version] {
			continue
		}
		tx, err := StartTransaction(dbConn)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.sql); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			m.version, formatTime(time.Now())); err != nil {
			RollbackTransaction(tx)
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := CommitTransaction(tx); err != nil {
			return err
		}
		log.Info().Int("version", m.version).Str("name", m.name).Msg("Applied database migration")
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
