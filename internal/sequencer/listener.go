package sequencer

import (
	"time"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

// Listener receives state changes from the sequencer. Calls are made on the
// scheduler goroutine and must not block.
type Listener interface {
	ProcessStarted(name model.ProcessName, duration time.Duration)
	PumpStarted(name model.ProcessName, countdown time.Duration)
	ProcessEnded(name model.ProcessName)
	ChannelChanged(ch int, on bool)
	CycleCompleted()
}

// Hooks is a Listener built from optional funcs. A nil field ignores the event.
type Hooks struct {
	OnProcessStarted func(name model.ProcessName, duration time.Duration)
	OnPumpStarted    func(name model.ProcessName, countdown time.Duration)
	OnProcessEnded   func(name model.ProcessName)
	OnChannelChanged func(ch int, on bool)
	OnCycleCompleted func()
}

func (h Hooks) ProcessStarted(name model.ProcessName, duration time.Duration) {
	if h.OnProcessStarted != nil {
		h.OnProcessStarted(name, duration)
	}
}

func (h Hooks) PumpStarted(name model.ProcessName, countdown time.Duration) {
	if h.OnPumpStarted != nil {
		h.OnPumpStarted(name, countdown)
	}
}

func (h Hooks) ProcessEnded(name model.ProcessName) {
	if h.OnProcessEnded != nil {
		h.OnProcessEnded(name)
	}
}

func (h Hooks) ChannelChanged(ch int, on bool) {
	if h.OnChannelChanged != nil {
		h.OnChannelChanged(ch, on)
	}
}

func (h Hooks) CycleCompleted() {
	if h.OnCycleCompleted != nil {
		h.OnCycleCompleted()
	}
}

type multi []Listener

// Listeners fans every event out to each listener in order.
func Listeners(ls ...Listener) Listener {
	out := make(multi, 0, len(ls))
	for _, l := range ls {
		if l != nil {
			out = append(out, l)
		}
	}
	return out
}

func (m multi) ProcessStarted(name model.ProcessName, duration time.Duration) {
	for _, l := range m {
		l.ProcessStarted(name, duration)
	}
}

func (m multi) PumpStarted(name model.ProcessName, countdown time.Duration) {
	for _, l := range m {
		l.PumpStarted(name, countdown)
	}
}

func (m multi) ProcessEnded(name model.ProcessName) {
	for _, l := range m {
		l.ProcessEnded(name)
	}
}

func (m multi) ChannelChanged(ch int, on bool) {
	for _, l := range m {
		l.ChannelChanged(ch, on)
	}
}

func (m multi) CycleCompleted() {
	for _, l := range m {
		l.CycleCompleted()
	}
}
