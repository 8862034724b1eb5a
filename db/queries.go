package db

import (
	"database/sql"
	"fmt"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

const runColumns = `id, process, started_at, pump_started_at, ended_at, duration_ms, outcome`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (model.Run, error) {
	var (
		r                         model.Run
		process, started          string
		pumpStarted, ended, outcm sql.NullString
	)
	if err := s.Scan(&r.ID, &process, &started, &pumpStarted, &ended, &r.DurationMS, &outcm); err != nil {
		return r, err
	}
	r.Process = model.ProcessName(process)
	r.StartedAt = parseTime(started)
	r.PumpStartedAt = parseNullTime(pumpStarted)
	r.EndedAt = parseNullTime(ended)
	r.Outcome = outcm.String
	return r, nil
}

// ListRuns returns the most recent runs, newest first.
func ListRuns(db *sql.DB, limit int) ([]model.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []model.Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func GetRun(db *sql.DB, id int64) (*model.Run, error) {
	r, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return &r, nil
}

// ChannelEvents returns the transitions recorded for a run in order.
func ChannelEvents(db *sql.DB, runID int64) ([]model.ChannelEvent, error) {
	rows, err := db.Query(`SELECT id, run_id, channel, is_on, at FROM channel_events WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query channel events: %w", err)
	}
	defer rows.Close()

	events := []model.ChannelEvent{}
	for rows.Next() {
		var (
			e   model.ChannelEvent
			run sql.NullInt64
			at  string
		)
		if err := rows.Scan(&e.ID, &run, &e.Channel, &e.On, &at); err != nil {
			return nil, fmt.Errorf("failed to scan channel event: %w", err)
		}
		if run.Valid {
			id := run.Int64
			e.RunID = &id
		}
		e.At = parseTime(at)
		events = append(events, e)
	}
	return events, rows.Err()
}
