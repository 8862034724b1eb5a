package controller

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/events"
	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/model"
	"github.com/thatsimonsguy/uf-controller/internal/sequencer"
	"github.com/thatsimonsguy/uf-controller/internal/store"
)

// Runner executes fn on the scheduler goroutine and waits for it.
type Runner interface {
	Do(fn func()) error
}

type Alerter interface {
	Send(title, message string) error
}

type Emitter interface {
	Emit(events.Event)
}

type Options struct {
	Alerts Alerter
	Events Emitter
}

// Controller is the goroutine-safe entry point for outside callers (the HTTP
// API, signal handling). Sequencer calls are marshalled onto the loop.
//
// Manual channel writes are not blocked while a run is active. They go
// straight to the shared driver and the sequencer will not know about them.
type Controller struct {
	loop   Runner
	seq    *sequencer.Sequencer
	driver gpio.Driver
	alerts Alerter
	events Emitter
}

func New(loop Runner, seq *sequencer.Sequencer, driver gpio.Driver, opts Options) *Controller {
	return &Controller{
		loop:   loop,
		seq:    seq,
		driver: driver,
		alerts: opts.Alerts,
		events: opts.Events,
	}
}

type Snapshot struct {
	Status   sequencer.Status
	Channels []model.Channel
}

func (c *Controller) do(fn func() error) error {
	var err error
	if loopErr := c.loop.Do(func() { err = fn() }); loopErr != nil {
		return loopErr
	}
	return err
}

func (c *Controller) StartAutoCycle() error {
	return c.do(c.seq.StartAutoCycle)
}

func (c *Controller) StartSingleProcess(name model.ProcessName) error {
	return c.do(func() error { return c.seq.StartSingleProcess(name) })
}

// Stop requests a graceful stop and returns without waiting for the valves
// to close. onStopped, if set, runs on the loop once they have, including
// when a later stop or an emergency stop supersedes this one.
func (c *Controller) Stop(onStopped func()) error {
	return c.do(func() error {
		c.emit(events.Event{Kind: events.StopRequested})
		c.seq.StopCurrentProcess(onStopped)
		return nil
	})
}

// StopAndWait requests a graceful stop and blocks until every channel is
// closed or ctx ends. An emergency stop in the meantime also releases it.
func (c *Controller) StopAndWait(ctx context.Context) error {
	done := make(chan struct{})
	if err := c.Stop(func() { close(done) }); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) EmergencyStop(reason string) error {
	var interrupted model.ProcessName
	err := c.do(func() error {
		c.emit(events.Event{Kind: events.StopRequested, Emergency: true})
		interrupted = c.seq.Status().Process
		c.seq.StopImmediately()
		return nil
	})
	if err != nil {
		return err
	}

	log.Warn().Str("reason", reason).Str("process", string(interrupted)).Msg("Emergency stop executed")
	msg := fmt.Sprintf("All channels forced off (%s).", reason)
	if interrupted != "" {
		msg = fmt.Sprintf("%s stopped, all channels forced off (%s).", interrupted, reason)
	}
	c.alert("Emergency stop", msg)
	return nil
}

func (c *Controller) UpdateTimings(partial store.Table) error {
	return c.do(func() error { return c.seq.UpdateTimings(partial) })
}

func (c *Controller) ResetTimings() error {
	return c.do(func() error {
		c.seq.ResetTimings()
		return nil
	})
}

func (c *Controller) Timings() (store.Table, error) {
	var t store.Table
	err := c.do(func() error {
		t = c.seq.Timings()
		return nil
	})
	return t, err
}

func (c *Controller) Status() (Snapshot, error) {
	var snap Snapshot
	err := c.do(func() error {
		snap.Status = c.seq.Status()
		snap.Channels = c.driver.Channels()
		return nil
	})
	return snap, err
}

func (c *Controller) Channels() []model.Channel {
	return c.driver.Channels()
}

func (c *Controller) TurnOn(ch int) error {
	return c.manual(ch, "on", func() error { return c.driver.TurnOn(ch) })
}

func (c *Controller) TurnOff(ch int) error {
	return c.manual(ch, "off", func() error { return c.driver.TurnOff(ch) })
}

func (c *Controller) Toggle(ch int) (bool, error) {
	var on bool
	err := c.manual(ch, "toggle", func() error {
		var err error
		on, err = c.driver.Toggle(ch)
		return err
	})
	return on, err
}

func (c *Controller) manual(ch int, action string, write func() error) error {
	return c.do(func() error {
		if st := c.seq.Status(); st.Active() {
			log.Warn().Int("channel", ch).Str("action", action).Str("process", string(st.Process)).Msg("Manual channel change during active run")
		}
		if err := write(); err != nil {
			return err
		}
		on, _ := c.driver.IsOn(ch)
		c.emit(events.Event{Kind: events.ChannelChanged, Channel: ch, On: on})
		log.Info().Int("channel", ch).Str("label", c.driver.Label(ch)).Str("action", action).Msg("Manual channel change")
		return nil
	})
}

func (c *Controller) emit(e events.Event) {
	if c.events != nil {
		c.events.Emit(e)
	}
}

func (c *Controller) alert(title, msg string) {
	if c.alerts == nil {
		return
	}
	go func() {
		if err := c.alerts.Send(title, msg); err != nil {
			log.Warn().Err(err).Str("title", title).Msg("Failed to send alert")
		}
	}()
}
