// Package notify carries notifications from the controller to UI
// collaborators. Publishing never blocks: a subscriber whose buffer is full
// misses the notification, and the gap is visible through Seq.
package notify

import (
	"sync"
	"time"

	"github.com/dmitrijs2005/clipkeeper/internal/models"
)

type Kind string

const (
	ListUpdated     Kind = "list_updated"
	SearchResults   Kind = "search_results"
	OperationFailed Kind = "operation_failed"
	Info            Kind = "info"
)

type Notification struct {
	Kind Kind `json:"kind"`
	// Seq increases by one per published notification.
	Seq uint64    `json:"seq"`
	At  time.Time `json:"at"`

	// CommandID and Command name the command this answers, if any.
	CommandID string `json:"command_id,omitempty"`
	Command   string `json:"command,omitempty"`

	// Failure is the failure kind of an OperationFailed notification.
	Failure string `json:"failure,omitempty"`
	Message string `json:"message,omitempty"`

	Query   string                `json:"query,omitempty"`
	Results []models.SearchResult `json:"results,omitempty"`

	// Entry is the history entry a ListUpdated was caused by, if any.
	Entry *models.HistoryEntry `json:"entry,omitempty"`
}

const DefaultBuffer = 64

type Bus struct {
	mu     sync.Mutex
	subs   map[uint64]chan Notification
	nextID uint64
	seq    uint64
	closed bool
	now    func() time.Time
	onDrop func(Notification)
}

type Option func(*Bus)

// WithDropHook is called for every notification a subscriber missed.
func WithDropHook(fn func(Notification)) Option {
	return func(b *Bus) { b.onDrop = fn }
}

func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs: make(map[uint64]chan Notification),
		now:  time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Subscription is one receiver on the bus.
type Subscription struct {
	bus *Bus
	id  uint64
	ch  chan Notification
}

// C delivers notifications in publish order. It is closed when the bus
// closes or the subscription is cancelled.
func (s *Subscription) C() <-chan Notification { return s.ch }

// Cancel detaches the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if ch, ok := s.bus.subs[s.id]; ok {
		delete(s.bus.subs, s.id)
		close(ch)
	}
}

// Subscribe registers a receiver with the given buffer (DefaultBuffer when
// <= 0). Subscribing to a closed bus yields a closed channel.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notification, buffer)
	b.nextID++
	sub := &Subscription{bus: b, id: b.nextID, ch: ch}
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.id] = ch
	return sub
}

// Publish stamps n with the next sequence number and offers it to every
// subscriber without blocking. It returns the stamped notification.
func (b *Bus) Publish(n Notification) Notification {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return n
	}

	b.seq++
	n.Seq = b.seq
	if n.At.IsZero() {
		n.At = b.now()
	}

	for _, ch := range b.subs {
		select {
		case ch <- n:
		default:
			if b.onDrop != nil {
				b.onDrop(n)
			}
		}
	}
	return n
}

// Close closes every subscriber channel. Later publishes are ignored.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Subscribers returns the number of attached subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
