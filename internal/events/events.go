package events

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/uf-controller/internal/model"
)

type Kind string

const (
	ProcessStarted Kind = "process_started"
	PumpStarted    Kind = "pump_started"
	ProcessEnded   Kind = "process_ended"
	ChannelChanged Kind = "channel_changed"
	CycleCompleted Kind = "cycle_completed"
	StopRequested  Kind = "stop_requested"
)

type Event struct {
	Kind       Kind              `json:"kind"`
	Process    model.ProcessName `json:"process,omitempty"`
	Channel    int               `json:"channel,omitempty"`
	On         bool              `json:"on"`
	DurationMS int64             `json:"duration_ms,omitempty"`
	Emergency  bool              `json:"emergency,omitempty"`
	At         time.Time         `json:"at"`
}

// Sink consumes events on the dispatcher's worker goroutine. Handle may block.
type Sink interface {
	Name() string
	Handle(Event)
}

// Dispatcher turns sequencer notifications into events and hands them to
// sinks off the scheduler goroutine.
type Dispatcher struct {
	queue chan Event
	sinks []Sink
	now   func() time.Time
	done  chan struct{}
	once  sync.Once
}

func NewDispatcher(size int, sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		queue: make(chan Event, size),
		sinks: sinks,
		now:   time.Now,
		done:  make(chan struct{}),
	}
}

// Start launches the worker. It exits when ctx is done, after delivering
// whatever is already queued.
func (d *Dispatcher) Start(ctx context.Context) {
	for _, s := range d.sinks {
		log.Info().Str("sink", s.Name()).Msg("Event sink registered")
	}
	go d.worker(ctx)
}

// Wait blocks until the worker has exited.
func (d *Dispatcher) Wait() {
	<-d.done
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.once.Do(func() { close(d.done) })
	for {
		select {
		case e := <-d.queue:
			d.deliver(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-d.queue:
					d.deliver(e)
				default:
					log.Debug().Msg("Event dispatcher stopped")
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Str("sink", s.Name()).Str("kind", string(e.Kind)).Msg("Event sink panicked")
				}
			}()
			s.Handle(e)
		}()
	}
}

// Emit queues e without blocking. A full queue drops the event.
func (d *Dispatcher) Emit(e Event) {
	if e.At.IsZero() {
		e.At = d.now()
	}
	select {
	case d.queue <- e:
	default:
		log.Warn().Str("kind", string(e.Kind)).Msg("Event queue full, dropping event")
	}
}

func (d *Dispatcher) ProcessStarted(name model.ProcessName, duration time.Duration) {
	d.Emit(Event{Kind: ProcessStarted, Process: name, DurationMS: duration.Milliseconds()})
}

func (d *Dispatcher) PumpStarted(name model.ProcessName, countdown time.Duration) {
	d.Emit(Event{Kind: PumpStarted, Process: name, DurationMS: countdown.Milliseconds()})
}

func (d *Dispatcher) ProcessEnded(name model.ProcessName) {
	d.Emit(Event{Kind: ProcessEnded, Process: name})
}

func (d *Dispatcher) ChannelChanged(ch int, on bool) {
	d.Emit(Event{Kind: ChannelChanged, Channel: ch, On: on})
}

func (d *Dispatcher) CycleCompleted() {
	d.Emit(Event{Kind: CycleCompleted})
}
