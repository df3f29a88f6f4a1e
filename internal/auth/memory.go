package auth

import (
	"sync"
	"time"
)

// MemoryStore is an in-memory AttemptStore. All operations run under one
// mutex, so the count-increment invariant holds for concurrent attempts
// from the same identity.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*AttemptRecord
	now     func() time.Time // for testing
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*AttemptRecord),
		now:     time.Now,
	}
}

// Get returns a copy of the record for identity. An expired lockout is
// evicted here, so a record past its lockout deadline reads as absent.
func (s *MemoryStore) Get(identity string) (*AttemptRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok {
		return nil, false
	}
	if s.expired(rec) {
		delete(s.records, identity)
		return nil, false
	}
	cp := *rec
	return &cp, true
}

// UpsertFailure records one failure for identity and returns a copy of the
// updated record.
func (s *MemoryStore) UpsertFailure(identity string) *AttemptRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[identity]
	if !ok || s.expired(rec) {
		rec = &AttemptRecord{}
		s.records[identity] = rec
	}
	rec.Count++
	rec.LastAttemptAt = s.now()
	if rec.Count >= MaxAttempts && rec.LockedUntil.IsZero() {
		rec.LockedUntil = s.now().Add(LockoutDuration)
	}
	cp := *rec
	return &cp
}

// Clear removes all state for identity.
func (s *MemoryStore) Clear(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, identity)
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

// expired reports whether rec carries a lockout deadline that has passed.
// Must be called with s.mu held.
func (s *MemoryStore) expired(rec *AttemptRecord) bool {
	return !rec.LockedUntil.IsZero() && !s.now().Before(rec.LockedUntil)
}
