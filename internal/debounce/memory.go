package debounce

import (
	"context"
	"sync"
)

// MemoryStore keeps debounce records in process memory. It is the default
// backing for single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore creates an empty in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// Get returns a copy of the device's record, or nil if unregistered.
func (s *MemoryStore) Get(_ context.Context, deviceID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[deviceID]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

// Put stores the record, replacing any previous value.
func (s *MemoryStore) Put(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.DeviceID] = *record
	return nil
}

// Delete removes the device's record.
func (s *MemoryStore) Delete(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, deviceID)
	return nil
}
