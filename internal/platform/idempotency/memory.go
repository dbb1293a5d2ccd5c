package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. Suitable for tests and single-instance deployments.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, scope, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entry, ok := s.entries[scope]
	if !ok || !now.Before(entry.ExpiresAt) {
		entry = Entry{Scope: scope, Fingerprint: fingerprint, ExpiresAt: now.Add(ttl)}
		s.entries[scope] = entry
		return OutcomeReserved, entry, nil
	}
	if entry.Fingerprint != fingerprint {
		return 0, Entry{}, ErrKeyReused
	}
	if entry.Completed {
		return OutcomeReplay, cloneEntry(entry), nil
	}
	return OutcomeInFlight, entry, nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(_ context.Context, entry Entry, now time.Time, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	entry = cloneEntry(entry)
	entry.Completed = true
	entry.ExpiresAt = now.Add(ttl)
	s.entries[entry.Scope] = entry
	return nil
}

// Release implements Store.
func (s *MemoryStore) Release(_ context.Context, scope string) error {
	s.mu.Lock()
	delete(s.entries, scope)
	s.mu.Unlock()
	return nil
}

// Purge implements Store.
func (s *MemoryStore) Purge(_ context.Context, now time.Time, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for scope, entry := range s.entries {
		if limit > 0 && removed >= limit {
			break
		}
		if now.Before(entry.ExpiresAt) {
			continue
		}
		delete(s.entries, scope)
		removed++
	}
	return removed, nil
}

func cloneEntry(entry Entry) Entry {
	out := entry
	if entry.Body != nil {
		out.Body = append([]byte(nil), entry.Body...)
	}
	if entry.Header != nil {
		out.Header = make(map[string][]string, len(entry.Header))
		for k, v := range entry.Header {
			out.Header[k] = append([]string(nil), v...)
		}
	}
	return out
}
