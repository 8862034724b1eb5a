package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

// InsertRun records the start of a process and returns the run id.
func InsertRun(db *sql.DB, process model.ProcessName, duration time.Duration, startedAt time.Time) (int64, error) {
	res, err := db.Exec(`INSERT INTO runs (process, started_at, duration_ms) VALUES (?, ?, ?)`,
		string(process), formatTime(startedAt), duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	return res.LastInsertId()
}

func MarkPumpStarted(db *sql.DB, runID int64, at time.Time) error {
	_, err := db.Exec(`UPDATE runs SET pump_started_at = ? WHERE id = ?`, formatTime(at), runID)
	if err != nil {
		return fmt.Errorf("mark pump started for run %d: %w", runID, err)
	}
	return nil
}

// FinishRun closes a run. Runs that already have an outcome are left alone.
func FinishRun(db *sql.DB, runID int64, at time.Time, outcome string) error {
	_, err := db.Exec(`UPDATE runs SET ended_at = ?, outcome = ? WHERE id = ? AND outcome IS NULL`,
		formatTime(at), outcome, runID)
	if err != nil {
		return fmt.Errorf("finish run %d: %w", runID, err)
	}
	return nil
}

// InsertChannelEvent records a channel transition. runID 0 means no run.
func InsertChannelEvent(db *sql.DB, runID int64, channel int, on bool, at time.Time) error {
	var run sql.NullInt64
	if runID != 0 {
		run = sql.NullInt64{Int64: runID, Valid: true}
	}
	_, err := db.Exec(`INSERT INTO channel_events (run_id, channel, is_on, at) VALUES (?, ?, ?, ?)`,
		run, channel, on, formatTime(at))
	if err != nil {
		return fmt.Errorf("insert channel event: %w", err)
	}
	return nil
}

// CloseDanglingRuns marks runs left open by a crash or power loss as
// interrupted. It returns how many were closed.
func CloseDanglingRuns(db *sql.DB, at time.Time) (int64, error) {
	tx, err := StartTransaction(db)
	if err != nil {
		return 0, err
	}
	res, err := tx.Exec(`UPDATE runs SET ended_at = ?, outcome = ? WHERE outcome IS NULL`,
		formatTime(at), model.OutcomeInterrupted)
	if err != nil {
		RollbackTransaction(tx)
		return 0, fmt.Errorf("close dangling runs: %w", err)
	}
	if err := CommitTransaction(tx); err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
