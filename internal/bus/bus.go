// Package bus provides the in-process event fabric between the orchestrator,
// domain agents, and connected clients.
//
// Delivery is at-most-once per subscriber per process lifetime: nothing is
// persisted across restarts, and workflows must tolerate losing in-flight
// events when the process goes down. Within one session, published events
// carry strictly increasing sequence numbers; when a slow subscriber
// overflows its queue the bus drops that subscriber's oldest entries and
// surfaces a single recoverable error event describing the gap instead of
// renumbering or blocking publishers. That report is local to the
// overflowing subscriber and carries sequence 0; session numbering stays
// contiguous for everyone who kept up.
package bus

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/domuslabs/smart-home/assistant-core/internal/events"
)

// DefaultQueueSize is the per-subscriber delivery queue bound.
const DefaultQueueSize = 256

// CodeOverflow is the stable error code carried by the event that reports
// subscriber-local queue overflow.
const CodeOverflow = "BUS_OVERFLOW"

// Recorder receives bus telemetry. It is optional; a nil recorder disables it.
type Recorder interface {
	RecordPublished(ctx context.Context, sessionID string, t events.Type)
	RecordDropped(ctx context.Context, sessionID string, dropped int)
}

// Bus is a session-scoped broadcast bus.
type Bus struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	queueSize int
	recorder  Recorder
}

// session holds the per-session sequence counter and subscriber set. The
// mutex is held across sequence assignment and fan-out so concurrent
// publishers can never deliver out of order within the session.
type session struct {
	mu   sync.Mutex
	seq  int64
	subs map[*Subscription]struct{}
}

// Option configures a Bus.
type Option func(*Bus)

// WithQueueSize sets the per-subscriber delivery queue bound.
func WithQueueSize(n int) Option {
	return func(b *Bus) { b.queueSize = n }
}

// WithRecorder attaches a telemetry recorder.
func WithRecorder(r Recorder) Option {
	return func(b *Bus) { b.recorder = r }
}

// New creates an event bus.
func New(opts ...Option) *Bus {
	b := &Bus{
		sessions:  make(map[string]*session),
		queueSize: DefaultQueueSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber on the given session scope. If types is
// empty the subscriber receives every event published to the session;
// otherwise only the listed types are delivered.
func (b *Bus) Subscribe(sessionID string, types ...events.Type) *Subscription {
	sub := newSubscription(sessionID, b.queueSize, types)

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		s = &session{subs: make(map[*Subscription]struct{})}
		b.sessions[sessionID] = s
	}
	b.mu.Unlock()

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	s.mu.Unlock()
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Safe to call
// for an already-removed subscriber.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	s, ok := b.sessions[sub.sessionID]
	b.mu.Unlock()
	if !ok {
		sub.close()
		return
	}

	s.mu.Lock()
	delete(s.subs, sub)
	empty := len(s.subs) == 0
	s.mu.Unlock()

	sub.close()

	if empty {
		b.mu.Lock()
		// Re-check under the write lock; a new subscriber may have raced in.
		if s2, ok := b.sessions[sub.sessionID]; ok && s2 == s {
			s.mu.Lock()
			if len(s.subs) == 0 {
				delete(b.sessions, sub.sessionID)
			}
			s.mu.Unlock()
		}
		b.mu.Unlock()
	}
}

// Publish assigns the event its session sequence number and broadcasts it to
// every subscriber of the session. It never blocks on a slow subscriber and
// returns the assigned sequence.
func (b *Bus) Publish(ctx context.Context, sessionID string, event events.Event) (int64, error) {
	if !event.Type.Valid() {
		return 0, fmt.Errorf("cannot publish event with unknown type %q", event.Type)
	}

	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		s = &session{subs: make(map[*Subscription]struct{})}
		b.sessions[sessionID] = s
	}
	b.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	event.Sequence = s.seq

	for sub := range s.subs {
		b.deliver(ctx, sub, event)
	}

	if b.recorder != nil {
		b.recorder.RecordPublished(ctx, sessionID, event.Type)
	}
	return event.Sequence, nil
}

// deliver enqueues the event onto one subscriber, applying the drop-oldest
// overflow policy. Caller holds the session mutex.
func (b *Bus) deliver(ctx context.Context, sub *Subscription, event events.Event) {
	if !sub.wants(event.Type) {
		return
	}

	if sub.enqueue(event) {
		// A clean delivery ends an overflow episode; the next overflow is
		// reported again.
		sub.inOverflow = false
		return
	}

	// Queue full: drop the oldest entry to make room. The gap is reported
	// once per episode, not once per dropped event.
	dropped := sub.dropOldest()
	sub.enqueue(event)

	if b.recorder != nil {
		b.recorder.RecordDropped(ctx, sub.sessionID, dropped)
	}
	if sub.inOverflow {
		return
	}
	sub.inOverflow = true
	log.Printf(`{"level":"warn","message":"Subscriber queue overflow","session_id":"%s"}`, sub.sessionID)

	// The report is local to the overflowing subscriber, so it carries no
	// session sequence (Sequence stays 0). Burning a real sequence number
	// here would punch a gap into the streams of healthy subscribers that
	// never see this event.
	overflow := events.NewError(
		CodeOverflow,
		"subscriber queue overflowed; oldest events were dropped, expect a sequence gap",
		true,
		nil,
	)
	if !sub.enqueue(overflow) {
		sub.dropOldest()
		sub.enqueue(overflow)
	}
}
