package db

import (
	"bytes"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/uf-controller/internal/events"
	"github.com/thatsimonsguy/uf-controller/internal/model"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dbConn, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })
	return dbConn
}

func TestApplyMigrations_Idempotent(t *testing.T) {
	dbConn := openTestDB(t)
	require.NoError(t, ApplyMigrations(dbConn))

	var count int
	require.NoError(t, dbConn.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count))
	assert.Equal(t, len(migrations), count)
}

func TestRunLifecycle(t *testing.T) {
	dbConn := openTestDB(t)

	id, err := InsertRun(dbConn, model.Service, time.Hour, t0)
	require.NoError(t, err)
	require.NoError(t, MarkPumpStarted(dbConn, id, t0.Add(5*time.Second)))
	require.NoError(t, FinishRun(dbConn, id, t0.Add(time.Hour+10*time.Second), model.OutcomeCompleted))
	require.NoError(t, FinishRun(dbConn, id, t0.Add(2*time.Hour), model.OutcomeStopped))

	run, err := GetRun(dbConn, id)
	require.NoError(t, err)
	assert.Equal(t, model.Service, run.Process)
	assert.Equal(t, t0, run.StartedAt)
	require.NotNil(t, run.PumpStartedAt)
	assert.Equal(t, t0.Add(5*time.Second), *run.PumpStartedAt)
	require.NotNil(t, run.EndedAt)
	assert.Equal(t, t0.Add(time.Hour+10*time.Second), *run.EndedAt, "finished runs are not rewritten")
	assert.Equal(t, int64(3_600_000), run.DurationMS)
	assert.Equal(t, model.OutcomeCompleted, run.Outcome)
}

func TestListRuns_NewestFirst(t *testing.T) {
	dbConn := openTestDB(t)
	for i, p := range []model.ProcessName{model.FastRinse, model.Service, model.BackWash} {
		_, err := InsertRun(dbConn, p, time.Minute, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	runs, err := ListRuns(dbConn, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.BackWash, runs[0].Process)
	assert.Equal(t, model.Service, runs[1].Process)
	assert.Nil(t, runs[0].EndedAt)
}

func TestChannelEvents(t *testing.T) {
	dbConn := openTestDB(t)
	id, err := InsertRun(dbConn, model.BackWash, time.Minute, t0)
	require.NoError(t, err)

	require.NoError(t, InsertChannelEvent(dbConn, id, 3, true, t0))
	require.NoError(t, InsertChannelEvent(dbConn, id, 7, true, t0.Add(5*time.Second)))
	require.NoError(t, InsertChannelEvent(dbConn, 0, 2, true, t0.Add(6*time.Second)))

	evts, err := ChannelEvents(dbConn, id)
	require.NoError(t, err)
	require.Len(t, evts, 2)
	assert.Equal(t, 3, evts[0].Channel)
	assert.True(t, evts[0].On)
	require.NotNil(t, evts[1].RunID)
	assert.Equal(t, id, *evts[1].RunID)
}

func TestCloseDanglingRuns(t *testing.T) {
	dbConn := openTestDB(t)
	open, err := InsertRun(dbConn, model.Service, time.Hour, t0)
	require.NoError(t, err)
	done, err := InsertRun(dbConn, model.BackWash, time.Minute, t0)
	require.NoError(t, err)
	require.NoError(t, FinishRun(dbConn, done, t0.Add(time.Minute), model.OutcomeCompleted))

	n, err := CloseDanglingRuns(dbConn, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	run, err := GetRun(dbConn, open)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeInterrupted, run.Outcome)
}

func TestJournal(t *testing.T) {
	dbConn := openTestDB(t)
	j := NewJournal(dbConn)
	at := func(d time.Duration) time.Time { return t0.Add(d) }

	// completed single run
	j.Handle(events.Event{Kind: events.ProcessStarted, Process: model.FastRinse, DurationMS: 60000, At: at(0)})
	j.Handle(events.Event{Kind: events.ChannelChanged, Channel: 2, On: true, At: at(0)})
	j.Handle(events.Event{Kind: events.PumpStarted, Process: model.FastRinse, DurationMS: 65000, At: at(5 * time.Second)})
	j.Handle(events.Event{Kind: events.ProcessEnded, Process: model.FastRinse, At: at(70 * time.Second)})

	// graceful stop
	j.Handle(events.Event{Kind: events.ProcessStarted, Process: model.Service, DurationMS: 1000, At: at(80 * time.Second)})
	j.Handle(events.Event{Kind: events.StopRequested, At: at(81 * time.Second)})
	j.Handle(events.Event{Kind: events.ProcessEnded, Process: model.Service, At: at(86 * time.Second)})

	// emergency stop
	j.Handle(events.Event{Kind: events.ProcessStarted, Process: model.BackWash, DurationMS: 1000, At: at(90 * time.Second)})
	j.Handle(events.Event{Kind: events.StopRequested, Emergency: true, At: at(91 * time.Second)})
	j.Handle(events.Event{Kind: events.ChannelChanged, Channel: 3, On: false, At: at(91 * time.Second)})

	runs, err := ListRuns(dbConn, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, model.OutcomeEmergencyStop, runs[0].Outcome)
	assert.Equal(t, model.OutcomeStopped, runs[1].Outcome)
	assert.Equal(t, model.OutcomeCompleted, runs[2].Outcome)
	require.NotNil(t, runs[2].PumpStartedAt)
	assert.Equal(t, at(5*time.Second), *runs[2].PumpStartedAt)

	evts, err := ChannelEvents(dbConn, runs[2].ID)
	require.NoError(t, err)
	assert.Len(t, evts, 1)

	var orphaned int
	require.NoError(t, dbConn.QueryRow(`SELECT COUNT(*) FROM channel_events WHERE run_id IS NULL`).Scan(&orphaned))
	assert.Equal(t, 1, orphaned)
}

func TestPrintRunsCLI(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uf.db")
	dbConn, err := Open(path)
	require.NoError(t, err)
	id, err := InsertRun(dbConn, model.ForwardWash, time.Minute, t0)
	require.NoError(t, err)
	require.NoError(t, FinishRun(dbConn, id, t0.Add(75*time.Second), model.OutcomeCompleted))
	require.NoError(t, dbConn.Close())

	var buf bytes.Buffer
	require.NoError(t, PrintRunsCLI(&buf, path, 10))
	assert.Contains(t, buf.String(), "forward_wash")
	assert.Contains(t, buf.String(), "1m15s")
	assert.Contains(t, buf.String(), "completed")
}
