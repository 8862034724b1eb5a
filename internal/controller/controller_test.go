package controller

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/uf-controller/internal/config"
	"github.com/thatsimonsguy/uf-controller/internal/events"
	"github.com/thatsimonsguy/uf-controller/internal/gpio"
	"github.com/thatsimonsguy/uf-controller/internal/model"
	"github.com/thatsimonsguy/uf-controller/internal/scheduler"
	"github.com/thatsimonsguy/uf-controller/internal/sequencer"
	"github.com/thatsimonsguy/uf-controller/internal/store"
)

type inline struct {
	stopped bool
	// ahead runs once before the next fn, like work queued on the loop first.
	ahead func()
}

func (i *inline) Do(fn func()) error {
	if i.stopped {
		return scheduler.ErrLoopStopped
	}
	if i.ahead != nil {
		ahead := i.ahead
		i.ahead = nil
		ahead()
	}
	fn()
	return nil
}

type fakeAlerter struct {
	sent chan string
}

func (f *fakeAlerter) Send(title, message string) error {
	f.sent <- title + ": " + message
	return nil
}

type emitted struct {
	mu     sync.Mutex
	events []events.Event
}

func (e *emitted) Emit(ev events.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

type fixture struct {
	ctl    *Controller
	clock  *scheduler.Manual
	runner *inline
	alerts *fakeAlerter
	events *emitted
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg, err := config.Parse([]byte("gpio: {driver: sim}"))
	require.NoError(t, err)
	driver, err := gpio.New(cfg)
	require.NoError(t, err)

	clock := scheduler.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	seq := sequencer.New(driver, store.New(filepath.Join(t.TempDir(), "timings.json")), clock)

	f := &fixture{
		clock:  clock,
		runner: &inline{},
		alerts: &fakeAlerter{sent: make(chan string, 1)},
		events: &emitted{},
	}
	f.ctl = New(f.runner, seq, driver, Options{Alerts: f.alerts, Events: f.events})
	return f
}

func TestStartAndStatus(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctl.StartSingleProcess(model.BackWash))
	snap, err := f.ctl.Status()
	require.NoError(t, err)

	assert.Equal(t, model.BackWash, snap.Status.Process)
	assert.Equal(t, model.StageOpening, snap.Status.Stage)
	require.Len(t, snap.Channels, 7)
	assert.True(t, snap.Channels[2].On)

	assert.ErrorIs(t, f.ctl.StartAutoCycle(), sequencer.ErrRunActive)
}

func TestStartSingleProcess_Unknown(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.ctl.StartSingleProcess("bogus"), sequencer.ErrUnknownProcess)
}

func TestStop_Graceful(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctl.StartAutoCycle())
	f.clock.Advance(10 * time.Second)

	stopped := false
	require.NoError(t, f.ctl.Stop(func() { stopped = true }))
	assert.False(t, stopped)

	f.clock.Advance(5 * time.Second)
	assert.True(t, stopped)
	for _, ch := range f.ctl.Channels() {
		assert.False(t, ch.On)
	}
	require.NotEmpty(t, f.events.events)
	assert.Equal(t, events.StopRequested, f.events.events[0].Kind)
	assert.False(t, f.events.events[0].Emergency)
}

func TestStopAndWait_Idle(t *testing.T) {
	f := newFixture(t)
	assert.NoError(t, f.ctl.StopAndWait(context.Background()))
}

func TestStopAndWait_ContextEnds(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctl.StartSingleProcess(model.Service))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, f.ctl.StopAndWait(ctx), context.Canceled)

	snap, err := f.ctl.Status()
	require.NoError(t, err)
	assert.Equal(t, model.StageStopping, snap.Status.Stage)
}

func TestEmergencyStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctl.StartSingleProcess(model.Service))
	f.clock.Advance(10 * time.Second)

	require.NoError(t, f.ctl.EmergencyStop("api"))

	for _, ch := range f.ctl.Channels() {
		assert.False(t, ch.On)
	}
	select {
	case msg := <-f.alerts.sent:
		assert.Contains(t, msg, "service stopped")
	case <-time.After(time.Second):
		t.Fatal("no alert sent")
	}
	assert.True(t, f.events.events[0].Emergency)
	assert.Equal(t, 0, f.clock.Pending())
}

type kindSink struct{ kinds []events.Kind }

func (k *kindSink) Name() string { return "kinds" }
func (k *kindSink) Handle(e events.Event) { k.kinds = append(k.kinds, e.Kind) }

func TestStopEventFollowsLoopOrder(t *testing.T) {
	for _, tc := range []struct {
		name string
		stop func(c *Controller) error
	}{
		{"graceful", func(c *Controller) error { return c.Stop(nil) }},
		{"emergency", func(c *Controller) error { return c.EmergencyStop("test") }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := config.Parse([]byte("gpio: {driver: sim}"))
			require.NoError(t, err)
			driver, err := gpio.New(cfg)
			require.NoError(t, err)
			clock := scheduler.NewManual(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
			seq := sequencer.New(driver, store.New(filepath.Join(t.TempDir(), "timings.json")), clock)

			sink := &kindSink{}
			dispatcher := events.NewDispatcher(256, sink)
			seq.SetListener(dispatcher)
			runner := &inline{}
			ctl := New(runner, seq, driver, Options{Events: dispatcher})

			require.NoError(t, ctl.StartSingleProcess(model.FastRinse))
			runner.ahead = func() { clock.Advance(time.Hour) }
			require.NoError(t, tc.stop(ctl))

			ctx, cancel := context.WithCancel(context.Background())
			dispatcher.Start(ctx)
			cancel()
			dispatcher.Wait()

			ended, stop := -1, -1
			for i, k := range sink.kinds {
				switch k {
				case events.ProcessEnded:
					ended = i
				case events.StopRequested:
					stop = i
				}
			}
			require.NotEqual(t, -1, ended)
			require.NotEqual(t, -1, stop)
			assert.Greater(t, stop, ended, "stop request is ordered after the run that ended first")
		})
	}
}

func TestStopAndWait_ReleasedByEmergencyStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctl.StartSingleProcess(model.Service))
	f.clock.Advance(10 * time.Second)

	released := false
	require.NoError(t, f.ctl.Stop(func() { released = true }))
	require.NoError(t, f.ctl.EmergencyStop("test"))
	assert.True(t, released)
}

func TestManualChannels(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctl.TurnOn(4))
	on, err := f.ctl.Toggle(4)
	require.NoError(t, err)
	assert.False(t, on)

	assert.ErrorIs(t, f.ctl.TurnOff(12), gpio.ErrUnknownChannel)

	f.events.mu.Lock()
	defer f.events.mu.Unlock()
	require.Len(t, f.events.events, 2)
	assert.Equal(t, events.Event{Kind: events.ChannelChanged, Channel: 4, On: true}, f.events.events[0])
	assert.Equal(t, events.Event{Kind: events.ChannelChanged, Channel: 4, On: false}, f.events.events[1])
}

func TestManualChannelDuringRunIsNotBlocked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.ctl.StartSingleProcess(model.FastRinse))

	require.NoError(t, f.ctl.TurnOff(2))
	snap, err := f.ctl.Status()
	require.NoError(t, err)
	assert.False(t, snap.Channels[1].On)
	assert.Equal(t, model.FastRinse, snap.Status.Process)
}

func TestTimings(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.ctl.UpdateTimings(store.Table{model.Service: 120_000}))
	tbl, err := f.ctl.Timings()
	require.NoError(t, err)
	assert.Equal(t, int64(120_000), tbl[model.Service])

	assert.ErrorIs(t, f.ctl.UpdateTimings(store.Table{model.Service: -1}), sequencer.ErrInvalidDuration)

	require.NoError(t, f.ctl.ResetTimings())
	tbl, err = f.ctl.Timings()
	require.NoError(t, err)
	assert.Equal(t, store.Defaults(), tbl)
}

func TestLoopStopped(t *testing.T) {
	f := newFixture(t)
	f.runner.stopped = true

	assert.True(t, errors.Is(f.ctl.StartAutoCycle(), scheduler.ErrLoopStopped))
	_, err := f.ctl.Status()
	assert.ErrorIs(t, err, scheduler.ErrLoopStopped)
}
