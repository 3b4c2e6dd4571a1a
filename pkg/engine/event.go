package engine

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanamz/msgprep/pkg/history/message"
)

// EventKind identifies the type of engine event.
type EventKind string

const (
	EventPrepared EventKind = "prepared" // Data: PrepareStats.
	EventReply    EventKind = "reply"    // Data: message.Message.
	EventError    EventKind = "error"    // Data: error.
)

// Event is an immutable notification of engine activity.
type Event struct {
	Kind      EventKind
	Provider  string // Empty for Prepare calls not tied to a provider.
	RequestID string // Empty for Prepare calls.
	Timestamp time.Time
	Data      any
}

// Stats returns the statistics carried by an EventPrepared event.
func (e Event) Stats() (PrepareStats, bool) {
	s, ok := e.Data.(PrepareStats)
	return s, ok && e.Kind == EventPrepared
}

// Reply returns the assistant message carried by an EventReply event.
func (e Event) Reply() (message.Message, bool) {
	m, ok := e.Data.(message.Message)
	return m, ok && e.Kind == EventReply
}

// Err returns the error carried by an EventError event, or nil.
func (e Event) Err() error {
	if e.Kind != EventError {
		return nil
	}
	err, _ := e.Data.(error)
	return err
}

// Subscription receives events from an EventBus.
type Subscription struct {
	C       <-chan Event
	ch      chan Event
	kinds   []EventKind
	dropped atomic.Uint64
}

// Dropped returns how many events were discarded because C was full.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) wants(k EventKind) bool {
	return len(s.kinds) == 0 || slices.Contains(s.kinds, k)
}

// EventBus fans engine events out to subscribers. It is safe for concurrent
// use. Publishing never blocks: a subscriber whose buffer is full misses the
// event and its Dropped counter grows.
type EventBus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

// NewEventBus creates an EventBus ready for use.
func NewEventBus() *EventBus {
	return &EventBus{
		subs: make(map[*Subscription]struct{}),
	}
}

// Subscribe registers a subscription with a channel buffer of bufSize. When
// kinds is non-empty only those kinds are delivered. Call Unsubscribe to
// close sub.C.
func (b *EventBus) Subscribe(bufSize int, kinds ...EventKind) *Subscription {
	ch := make(chan Event, bufSize)
	sub := &Subscription{C: ch, ch: ch, kinds: slices.Clone(kinds)}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	return sub
}

// Unsubscribe removes the subscription and closes its channel. Repeated calls
// are no-ops.
func (b *EventBus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

// Publish delivers e to every subscriber interested in its kind.
func (b *EventBus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(e.Kind) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			sub.dropped.Add(1)
		}
	}
}
