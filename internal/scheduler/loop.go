package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var ErrLoopStopped = errors.New("scheduler loop stopped")

// Loop is a real-time Scheduler backed by one event goroutine started with
// Run. Schedule and Cancel may be called from any goroutine, but only a
// Cancel issued on the loop goroutine (from an action or a Do call) is
// guaranteed to beat an action whose deadline has already passed.
type Loop struct {
	mu      sync.Mutex
	q       queue
	wake    chan struct{}
	calls   chan func()
	stopped chan struct{}
	once    sync.Once
}

func NewLoop() *Loop {
	return &Loop{
		q:       newQueue(),
		wake:    make(chan struct{}, 1),
		calls:   make(chan func()),
		stopped: make(chan struct{}),
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

func (l *Loop) Schedule(delay time.Duration, fn func()) Handle {
	l.mu.Lock()
	h := l.q.add(time.Now().Add(clampDelay(delay)), fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
	return h
}

func (l *Loop) Cancel(h Handle) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.cancel(h)
}

// Pending reports how many actions are waiting to run.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.q.len()
}

// Do runs fn on the loop goroutine and waits for it to return. It must not be
// called from the loop goroutine itself.
func (l *Loop) Do(fn func()) error {
	done := make(chan struct{})
	call := func() {
		defer close(done)
		fn()
	}

	select {
	case l.calls <- call:
	case <-l.stopped:
		return ErrLoopStopped
	}

	select {
	case <-done:
		return nil
	case <-l.stopped:
		return ErrLoopStopped
	}
}

// Run processes actions until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.stopped) })
	log.Debug().Msg("Scheduler loop started")

	for {
		l.runDue()

		var wait <-chan time.Time
		var t *time.Timer
		l.mu.Lock()
		at, ok := l.q.next()
		l.mu.Unlock()
		if ok {
			t = time.NewTimer(time.Until(at))
			wait = t.C
		}

		select {
		case <-ctx.Done():
			if t != nil {
				t.Stop()
			}
			log.Debug().Int("pending", l.Pending()).Msg("Scheduler loop stopped")
			return ctx.Err()
		case call := <-l.calls:
			call()
		case <-l.wake:
		case <-wait:
		}
		if t != nil {
			t.Stop()
		}
	}
}

func (l *Loop) runDue() {
	for {
		l.mu.Lock()
		t := l.q.popDue(time.Now())
		l.mu.Unlock()
		if t == nil {
			return
		}
		t.fn()
	}
}
