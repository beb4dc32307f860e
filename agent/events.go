package agent

import (
	"sync"
	"sync/atomic"
	"time"

	"go.jacobcolvin.com/pyroagent/ingest"
)

const defaultEventBufferSize = 16

// EventKind distinguishes periodic uploads from the final flush.
type EventKind int

// Event kinds.
const (
	EventTick EventKind = iota
	EventFlush
)

// String returns "tick" or "flush".
func (k EventKind) String() string {
	switch k {
	case EventTick:
		return "tick"
	case EventFlush:
		return "flush"
	}

	return "unknown"
}

// Event is the outcome of one capture-and-upload cycle.
type Event struct {
	// Time is when the cycle began.
	Time time.Time
	// Err is nil for a successful (or skipped empty) upload.
	Err error
	// Window is the upload window. It is zero when capture failed.
	Window   ingest.Window
	Duration time.Duration
	Kind     EventKind
}

// Events delivers cycle [Event]s to subscribers without ever waiting on
// them. A subscriber that falls behind loses its oldest undelivered events,
// counted by [Subscription.Dropped]. Safe for concurrent use.
//
// Create instances with [NewEvents].
type Events struct {
	subs    map[*Subscription]struct{}
	bufSize int
	mu      sync.Mutex
	closed  bool
}

// NewEvents creates an [Events] whose subscriptions hold up to bufSize
// undelivered events. Values less than 1 are clamped to 1.
func NewEvents(bufSize int) *Events {
	return &Events{
		subs:    map[*Subscription]struct{}{},
		bufSize: max(bufSize, 1),
	}
}

// Publish delivers ev to every subscriber. It never blocks.
func (e *Events) Publish(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for sub := range e.subs {
		sub.offer(ev)
	}
}

// Subscribe registers a new [Subscription]. After [Events.Close] the
// returned subscription is already finished.
func (e *Events) Subscribe() *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	sub := &Subscription{
		events: e,
		ch:     make(chan Event, e.bufSize),
	}

	if e.closed {
		close(sub.ch)
		return sub
	}

	e.subs[sub] = struct{}{}

	return sub
}

// Close finishes every subscription, so ranging over [Subscription.C]
// ends once buffered events are consumed. Later publishes are discarded.
// Idempotent.
func (e *Events) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}

	e.closed = true
	for sub := range e.subs {
		close(sub.ch)
		delete(e.subs, sub)
	}
}

func (e *Events) unsubscribe(sub *Subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.subs[sub]; !ok {
		return
	}

	delete(e.subs, sub)
	close(sub.ch)
}

// Subscription receives events from [Events].
type Subscription struct {
	events  *Events
	ch      chan Event
	dropped atomic.Uint64
}

// C returns the channel that delivers events. It is closed when the
// subscription or its [Events] is closed.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded because the subscriber
// was not keeping up.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close ends the subscription and closes its channel. Idempotent.
func (s *Subscription) Close() {
	s.events.unsubscribe(s)
}

// offer enqueues ev, evicting the oldest queued event when the buffer is
// full. Must be called with the owning Events locked, which makes this the
// only sender; the receiver can only make room.
func (s *Subscription) offer(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}

	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
		// Drained since the first attempt.
	}

	select {
	case s.ch <- ev:
	default:
		s.dropped.Add(1)
	}
}
