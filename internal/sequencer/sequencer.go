package sequencer

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/model"
	"github.com/thatsimonsguy/uf-controller/internal/scheduler"
	"github.com/thatsimonsguy/uf-controller/internal/store"
)

type TimingStore interface {
	Load() store.Table
	Save(store.Table) error
}

// Status is a snapshot of the sequencer's run state.
type Status struct {
	Process        model.ProcessName
	Stage          model.Stage
	Cycle          bool
	Duration       time.Duration
	Countdown      time.Duration
	StageStartedAt time.Time
}

func (s Status) Active() bool {
	return s.Process != ""
}

type run struct {
	proc         model.Process
	duration     time.Duration
	countdown    time.Duration
	stage        model.Stage
	stageStarted time.Time
}

type Sequencer struct {
	driver   gpio.Driver
	store    TimingStore
	sched    scheduler.Scheduler
	listener Listener

	timings store.Table
	current *run
	cycle   bool
	pending map[scheduler.Handle]struct{}
	waiters []func()
}

// New loads the timing table from ts and returns an idle sequencer.
func New(driver gpio.Driver, ts TimingStore, sched scheduler.Scheduler) *Sequencer {
	return &Sequencer{
		driver:   driver,
		store:    ts,
		sched:    sched,
		listener: Hooks{},
		timings:  ts.Load(),
		pending:  make(map[scheduler.Handle]struct{}),
	}
}

// SetListener replaces the current listener. nil detaches it.
func (s *Sequencer) SetListener(l Listener) {
	if l == nil {
		l = Hooks{}
	}
	s.listener = l
}

func (s *Sequencer) StartAutoCycle() error {
	if s.current != nil {
		return ErrRunActive
	}
	log.Info().Msg("Starting auto cycle")
	s.cycle = true
	s.begin(model.ProcessOrder[0])
	return nil
}

func (s *Sequencer) StartSingleProcess(name model.ProcessName) error {
	if _, ok := model.Lookup(name); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProcess, name)
	}
	if s.current != nil {
		return ErrRunActive
	}
	s.cycle = false
	s.begin(name)
	return nil
}

// StopCurrentProcess turns the active pump off at once, then closes every
// channel one ValveCloseDelay later and calls onStopped. With nothing running
// onStopped is called immediately. A stop issued while another is pending
// restarts the valve delay; every onStopped collected so far runs once the
// channels are closed, or at once if StopImmediately supersedes them.
func (s *Sequencer) StopCurrentProcess(onStopped func()) {
	s.cancelAll()
	s.cycle = false
	if onStopped != nil {
		s.waiters = append(s.waiters, onStopped)
	}

	r := s.current
	if r == nil {
		s.notifyStopped()
		return
	}

	log.Info().Str("process", string(r.proc.Name)).Str("stage", string(r.stage)).Msg("Stopping process")
	s.setStage(r, model.StageStopping)
	s.off(r.proc.Pump)

	s.schedule(model.ValveCloseDelay, func() {
		s.closeAll()
		s.current = nil
		s.listener.ProcessEnded(r.proc.Name)
		log.Info().Str("process", string(r.proc.Name)).Msg("Process stopped")
		s.notifyStopped()
	})
}

// StopImmediately cancels everything and forces every channel off.
func (s *Sequencer) StopImmediately() {
	s.cancelAll()
	s.cycle = false

	evt := log.Warn()
	if s.current != nil {
		evt = evt.Str("process", string(s.current.proc.Name))
	}
	evt.Msg("Emergency stop")

	s.closeAll()
	s.current = nil
	s.notifyStopped()
}

func (s *Sequencer) notifyStopped() {
	waiters := s.waiters
	s.waiters = nil
	for _, fn := range waiters {
		fn()
	}
}

func (s *Sequencer) Timings() store.Table {
	return s.timings.Clone()
}

// UpdateTimings merges partial into the timing table and persists it. A run
// in progress keeps the duration it started with.
func (s *Sequencer) UpdateTimings(partial store.Table) error {
	for name, ms := range partial {
		if _, ok := model.Lookup(name); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProcess, name)
		}
		if ms <= 0 {
			return fmt.Errorf("%w: %s=%d", ErrInvalidDuration, name, ms)
		}
	}
	for name, ms := range partial {
		s.timings[name] = ms
	}
	log.Info().Interface("timings", partial).Msg("Timings updated")
	_ = s.store.Save(s.timings)
	return nil
}

func (s *Sequencer) ResetTimings() {
	s.timings = store.Defaults()
	log.Info().Msg("Timings reset to defaults")
	_ = s.store.Save(s.timings)
}

func (s *Sequencer) Status() Status {
	if s.current == nil {
		return Status{Stage: model.StageIdle}
	}
	r := s.current
	return Status{
		Process:        r.proc.Name,
		Stage:          r.stage,
		Cycle:          s.cycle,
		Duration:       r.duration,
		Countdown:      r.countdown,
		StageStartedAt: r.stageStarted,
	}
}

func (s *Sequencer) begin(name model.ProcessName) {
	proc, _ := model.Lookup(name)
	d := s.timings.Duration(name)
	r := &run{
		proc:      proc,
		duration:  d,
		countdown: proc.Countdown(d),
	}
	s.current = r
	s.setStage(r, model.StageOpening)

	log.Info().Str("process", string(name)).Int64("duration_ms", d.Milliseconds()).Bool("cycle", s.cycle).Msg("Process starting")
	s.listener.ProcessStarted(name, d)

	for _, v := range proc.Valves {
		s.on(v)
	}
	s.schedule(model.PumpEngageDelay, func() { s.engagePump(r) })
}

func (s *Sequencer) engagePump(r *run) {
	if s.current != r {
		return
	}
	s.setStage(r, model.StageRunning)
	s.on(r.proc.Pump)
	s.listener.PumpStarted(r.proc.Name, r.countdown)
	s.schedule(r.duration, func() { s.disengagePump(r) })
}

func (s *Sequencer) disengagePump(r *run) {
	if s.current != r {
		return
	}
	s.off(r.proc.Pump)
	s.setStage(r, model.StageClosing)
	s.schedule(model.ValveCloseDelay, func() { s.closeValves(r) })
}

func (s *Sequencer) closeValves(r *run) {
	if s.current != r {
		return
	}
	for _, v := range r.proc.Valves {
		s.off(v)
	}
	if !r.proc.HasExtraValve() {
		s.finish(r)
		return
	}

	s.on(r.proc.ExtraValve)
	s.schedule(model.ValveCloseDelay, func() {
		if s.current != r {
			return
		}
		s.off(r.proc.ExtraValve)
		s.finish(r)
	})
}

func (s *Sequencer) finish(r *run) {
	name := r.proc.Name
	log.Info().Str("process", string(name)).Msg("Process finished")
	s.listener.ProcessEnded(name)

	if s.cycle {
		s.begin(model.Next(name))
		return
	}

	s.current = nil
	log.Info().Msg("Cycle complete")
	s.listener.CycleCompleted()
}

func (s *Sequencer) setStage(r *run, stage model.Stage) {
	r.stage = stage
	r.stageStarted = s.sched.Now()
}

// closeAll forces the driver off and reports every channel off.
func (s *Sequencer) closeAll() {
	s.driver.AllOff()
	for _, ch := range s.driver.Channels() {
		s.listener.ChannelChanged(ch.ID, false)
	}
}

func (s *Sequencer) on(ch int) {
	if err := s.driver.TurnOn(ch); err != nil {
		log.Error().Err(err).Int("channel", ch).Msg("Failed to open channel")
		return
	}
	s.listener.ChannelChanged(ch, true)
}

func (s *Sequencer) off(ch int) {
	if err := s.driver.TurnOff(ch); err != nil {
		log.Error().Err(err).Int("channel", ch).Msg("Failed to close channel")
		return
	}
	s.listener.ChannelChanged(ch, false)
}

func (s *Sequencer) schedule(delay time.Duration, fn func()) {
	var h scheduler.Handle
	h = s.sched.Schedule(delay, func() {
		delete(s.pending, h)
		fn()
	})
	s.pending[h] = struct{}{}
}

func (s *Sequencer) cancelAll() {
	for h := range s.pending {
		s.sched.Cancel(h)
	}
	clear(s.pending)
}
