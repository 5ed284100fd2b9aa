package controller

import (
	"sync"

	"github.com/dmitrijs2005/clipkeeper/internal/monitor"
)

// eventQueue is the bounded capture buffer between monitor and controller.
// Pushing never blocks: a queued event with the same hash is replaced by the
// newer one, and on overflow the oldest event is dropped.
type eventQueue struct {
	mu     sync.Mutex
	items  []monitor.Event
	limit  int
	ready  chan struct{}
	closed bool
}

func newEventQueue(limit int) *eventQueue {
	if limit <= 0 {
		limit = 1
	}
	return &eventQueue{limit: limit, ready: make(chan struct{}, 1)}
}

type pushResult int

const (
	pushed pushResult = iota
	coalesced
	droppedOldest
	rejected
)

func (q *eventQueue) push(ev monitor.Event) pushResult {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return rejected
	}

	res := pushed
	for i, it := range q.items {
		if it.Hash == ev.Hash {
			q.items = append(q.items[:i], q.items[i+1:]...)
			res = coalesced
			break
		}
	}
	q.items = append(q.items, ev)
	if len(q.items) > q.limit {
		q.items = q.items[1:]
		res = droppedOldest
	}

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return res
}

func (q *eventQueue) pop() (monitor.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return monitor.Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
