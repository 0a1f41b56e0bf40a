package bus

import (
	"sync/atomic"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

// Subscription is one subscriber's bounded delivery queue on a session scope.
// Events are read from C. Closing happens through Bus.Unsubscribe.
type Subscription struct {
	sessionID string
	ch        chan events.Event
	types     map[events.Type]struct{} // nil means all types
	closed    atomic.Bool

	// inOverflow marks an ongoing overflow episode. Guarded by the owning
	// session's mutex.
	inOverflow bool
}

func newSubscription(sessionID string, queueSize int, types []events.Type) *Subscription {
	var filter map[events.Type]struct{}
	if len(types) > 0 {
		filter = make(map[events.Type]struct{}, len(types))
		for _, t := range types {
			filter[t] = struct{}{}
		}
	}
	return &Subscription{
		sessionID: sessionID,
		ch:        make(chan events.Event, queueSize),
		types:     filter,
	}
}

// C returns the read-only delivery channel. It is closed on unsubscribe.
func (s *Subscription) C() <-chan events.Event { return s.ch }

// SessionID returns the session scope this subscription belongs to.
func (s *Subscription) SessionID() string { return s.sessionID }

// wants reports whether the subscriber's type filter admits t.
func (s *Subscription) wants(t events.Type) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// enqueue attempts a non-blocking send. Returns false when the queue is full
// or the subscription is closed.
func (s *Subscription) enqueue(event events.Event) bool {
	if s.closed.Load() {
		return false
	}
	select {
	case s.ch <- event:
		return true
	default:
		return false
	}
}

// dropOldest removes the oldest queued event, returning how many entries
// were removed (0 or 1).
func (s *Subscription) dropOldest() int {
	select {
	case <-s.ch:
		return 1
	default:
		return 0
	}
}

// close shuts the delivery channel. Safe to call more than once.
func (s *Subscription) close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
