package scheduler

import (
	"sync"
	"time"
)

// Manual is a virtual-time Scheduler. Nothing runs until Advance is called.
type Manual struct {
	mu  sync.Mutex
	now time.Time
	q   queue
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start, q: newQueue()}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Schedule(delay time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.add(m.now.Add(clampDelay(delay)), fn)
}

func (m *Manual) Cancel(h Handle) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.cancel(h)
}

func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.q.len()
}

// Advance moves virtual time forward by d, running every action that comes
// due on the way at its own deadline. Actions scheduled by those actions run
// too if they fall inside the window.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(clampDelay(d))
	for {
		t := m.q.popDue(target)
		if t == nil {
			break
		}
		m.now = t.at
		m.mu.Unlock()
		t.fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// RunNext jumps to the earliest pending action and runs it. It reports
// false when nothing is pending.
func (m *Manual) RunNext() bool {
	m.mu.Lock()
	at, ok := m.q.next()
	if !ok {
		m.mu.Unlock()
		return false
	}
	t := m.q.popDue(at)
	if t.at.After(m.now) {
		m.now = t.at
	}
	m.mu.Unlock()

	t.fn()
	return true
}
