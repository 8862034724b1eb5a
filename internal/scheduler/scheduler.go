// Package scheduler runs delayed actions on a single goroutine.
//
// Actions never run concurrently with each other. Actions with the same
// deadline run in the order they were scheduled. Cancelling a handle that
// already ran, or was never issued, does nothing.
package scheduler

import (
	"container/heap"
	"time"
)

// Handle identifies a scheduled action. The zero Handle is never issued.
type Handle uint64

type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
	Cancel(h Handle) bool
	Now() time.Time
}

type timer struct {
	at     time.Time
	seq    uint64
	handle Handle
	fn     func()
	index  int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// queue is not safe for concurrent use; owners guard it.
type queue struct {
	seq     uint64
	timers  timerHeap
	pending map[Handle]*timer
}

func newQueue() queue {
	return queue{pending: make(map[Handle]*timer)}
}

func (q *queue) add(at time.Time, fn func()) Handle {
	q.seq++
	t := &timer{at: at, seq: q.seq, handle: Handle(q.seq), fn: fn}
	heap.Push(&q.timers, t)
	q.pending[t.handle] = t
	return t.handle
}

func (q *queue) cancel(h Handle) bool {
	t, ok := q.pending[h]
	if !ok {
		return false
	}
	heap.Remove(&q.timers, t.index)
	delete(q.pending, h)
	return true
}

func (q *queue) next() (time.Time, bool) {
	if len(q.timers) == 0 {
		return time.Time{}, false
	}
	return q.timers[0].at, true
}

// popDue removes and returns the earliest timer due at or before now.
func (q *queue) popDue(now time.Time) *timer {
	if len(q.timers) == 0 || q.timers[0].at.After(now) {
		return nil
	}
	t := heap.Pop(&q.timers).(*timer)
	delete(q.pending, t.handle)
	return t
}

func (q *queue) len() int {
	return len(q.timers)
}

func clampDelay(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
