package db

import (
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/events"
	"github.com/thatsimonsguy/uf-controller/internal/model"
)

// Journal records runs and channel transitions. It is an events.Sink and is
// only ever called from the dispatcher worker.
type Journal struct {
	db       *sql.DB
	current  int64
	stopping bool
}

func NewJournal(dbConn *sql.DB) *Journal {
	return &Journal{db: dbConn}
}

func (j *Journal) Name() string { return "journal" }

func (j *Journal) Handle(e events.Event) {
	var err error
	switch e.Kind {
	case events.ProcessStarted:
		if j.current != 0 {
			if ferr := FinishRun(j.db, j.current, e.At, model.OutcomeInterrupted); ferr != nil {
				log.Error().Err(ferr).Int64("run_id", j.current).Msg("Failed to close previous run")
			}
		}
		j.current, err = InsertRun(j.db, e.Process, time.Duration(e.DurationMS)*time.Millisecond, e.At)
		j.stopping = false

	case events.PumpStarted:
		if j.current != 0 {
			err = MarkPumpStarted(j.db, j.current, e.At)
		}

	case events.ProcessEnded:
		if j.current == 0 {
			return
		}
		outcome := model.OutcomeCompleted
		if j.stopping {
			outcome = model.OutcomeStopped
		}
		err = FinishRun(j.db, j.current, e.At, outcome)
		j.current = 0
		j.stopping = false

	case events.StopRequested:
		if !e.Emergency {
			j.stopping = true
			return
		}
		if j.current != 0 {
			err = FinishRun(j.db, j.current, e.At, model.OutcomeEmergencyStop)
			j.current = 0
		}
		j.stopping = false

	case events.ChannelChanged:
		err = InsertChannelEvent(j.db, j.current, e.Channel, e.On, e.At)
	}

	if err != nil {
		log.Error().Err(err).Str("kind", string(e.Kind)).Msg("Failed to journal event")
	}
}
