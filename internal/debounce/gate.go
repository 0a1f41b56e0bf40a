// Package debounce guards ingestion of device-originated input against
// bursty or duplicate delivery. Server time is authoritative: the decision
// is made against the clock value the caller passes in, never ambient time
// inside the gate.
package debounce

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultWindow is the minimum interval between accepted captures from one
// device when no per-device window is configured.
const DefaultWindow = 900 * time.Second

// Reason explains a rejection. Debounce rejection is expected and frequent;
// it is a normal negative result, not an error.
type Reason string

const (
	ReasonNone          Reason = ""
	ReasonDebounced     Reason = "debounced"
	ReasonUnknownDevice Reason = "unknown_device"
)

// Record is the per-device debounce state. It is created on registration,
// mutated only by the gate, and removed only on deregistration.
type Record struct {
	DeviceID       string        `json:"device_id"`
	LastAcceptedAt *time.Time    `json:"last_accepted_at,omitempty"`
	Window         time.Duration `json:"window"`
}

// Store persists debounce records. Get returns nil for an unregistered
// device.
type Store interface {
	Get(ctx context.Context, deviceID string) (*Record, error)
	Put(ctx context.Context, record *Record) error
	Delete(ctx context.Context, deviceID string) error
}

// Gate makes admission decisions. Each device's read-modify-write is atomic
// under its own lock; unrelated devices never contend.
type Gate struct {
	store         Store
	defaultWindow time.Duration

	// locks maps deviceID → *sync.Mutex, serializing concurrent admissions
	// for the same device.
	locks sync.Map
}

// Option configures a Gate.
type Option func(*Gate)

// WithDefaultWindow overrides the default debounce window applied when a
// device is registered without one.
func WithDefaultWindow(w time.Duration) Option {
	return func(g *Gate) { g.defaultWindow = w }
}

// NewGate creates a debounce gate over the given record store.
func NewGate(store Store, opts ...Option) *Gate {
	g := &Gate{
		store:         store,
		defaultWindow: DefaultWindow,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Register creates the debounce record for a device. A window of zero uses
// the gate's default. Registering an already-registered device resets its
// record.
func (g *Gate) Register(ctx context.Context, deviceID string, window time.Duration) error {
	if deviceID == "" {
		return fmt.Errorf("device id is required")
	}
	if window <= 0 {
		window = g.defaultWindow
	}

	lock := g.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	return g.store.Put(ctx, &Record{DeviceID: deviceID, Window: window})
}

// Deregister removes the device's record. Captures from the device are
// rejected as unknown afterwards.
func (g *Gate) Deregister(ctx context.Context, deviceID string) error {
	lock := g.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	if err := g.store.Delete(ctx, deviceID); err != nil {
		return err
	}
	g.locks.Delete(deviceID)
	return nil
}

// Admit decides whether a capture observed at now is accepted. The first
// capture from a registered device is always admitted; later captures are
// admitted only once the device's window has elapsed since the last
// accepted capture. A rejection never updates the record.
func (g *Gate) Admit(ctx context.Context, deviceID string, now time.Time) (bool, Reason, error) {
	lock := g.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := g.store.Get(ctx, deviceID)
	if err != nil {
		return false, ReasonNone, fmt.Errorf("failed to load debounce record: %w", err)
	}
	if record == nil {
		return false, ReasonUnknownDevice, nil
	}

	if record.LastAcceptedAt != nil && now.Sub(*record.LastAcceptedAt) < record.Window {
		return false, ReasonDebounced, nil
	}

	accepted := now
	record.LastAcceptedAt = &accepted
	if err := g.store.Put(ctx, record); err != nil {
		return false, ReasonNone, fmt.Errorf("failed to update debounce record: %w", err)
	}
	return true, ReasonNone, nil
}

// Remaining returns how long until the device's next capture would be
// admitted; zero means it would be admitted now.
func (g *Gate) Remaining(ctx context.Context, deviceID string, now time.Time) (time.Duration, error) {
	lock := g.lockFor(deviceID)
	lock.Lock()
	defer lock.Unlock()

	record, err := g.store.Get(ctx, deviceID)
	if err != nil {
		return 0, err
	}
	if record == nil || record.LastAcceptedAt == nil {
		return 0, nil
	}
	remaining := record.Window - now.Sub(*record.LastAcceptedAt)
	if remaining < 0 {
		return 0, nil
	}
	return remaining, nil
}

func (g *Gate) lockFor(deviceID string) *sync.Mutex {
	v, _ := g.locks.LoadOrStore(deviceID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
