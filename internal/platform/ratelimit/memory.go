package ratelimit

import (
	"context"
	"sync"
	"time"
)

const memoryPurgeEvery = 1024

// MemoryStore keeps buckets in process memory. Each key carries its own mutex so
// tenants only contend with their own requests. Suitable for tests and single
// instance deployments.
type MemoryStore struct {
	mu        sync.Mutex
	buckets   map[string]*memoryBucket
	overrides map[string]Config
	created   int
}

type memoryBucket struct {
	mu        sync.Mutex
	state     Bucket
	expiresAt time.Time
	exists    bool
}

// NewMemoryStore constructs an empty memory-backed bucket store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets:   make(map[string]*memoryBucket),
		overrides: make(map[string]Config),
	}
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key string, now time.Time, ttl time.Duration, fn UpdateFunc) (Bucket, error) {
	entry := s.lockEntry(key, now)
	defer entry.mu.Unlock()

	found := entry.exists && now.Before(entry.expiresAt)
	current := entry.state
	if !found {
		current = Bucket{}
	}
	next, err := fn(current, found)
	if err != nil {
		return Bucket{}, err
	}
	entry.state = next
	entry.exists = true
	entry.expiresAt = now.Add(ttl)
	return next, nil
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, key string, now time.Time) (Bucket, bool, error) {
	s.mu.Lock()
	entry, ok := s.buckets[key]
	s.mu.Unlock()
	if !ok {
		return Bucket{}, false, nil
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if !entry.exists || !now.Before(entry.expiresAt) {
		return Bucket{}, false, nil
	}
	return entry.state, true, nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	entry, ok := s.buckets[key]
	delete(s.buckets, key)
	s.mu.Unlock()

	if ok {
		entry.mu.Lock()
		entry.exists = false
		entry.mu.Unlock()
	}
	return nil
}

// LoadOverride implements Store.
func (s *MemoryStore) LoadOverride(_ context.Context, tenantID string) (Config, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.overrides[tenantID]
	return cfg, ok, nil
}

// SaveOverride implements Store.
func (s *MemoryStore) SaveOverride(_ context.Context, tenantID string, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overrides[tenantID] = cfg
	return nil
}

// DeleteOverride implements Store.
func (s *MemoryStore) DeleteOverride(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.overrides, tenantID)
	return nil
}

// lockEntry returns the key's bucket locked. An entry purged or deleted between
// lookup and lock is discarded and the lookup repeated.
func (s *MemoryStore) lockEntry(key string, now time.Time) *memoryBucket {
	for {
		entry := s.entry(key, now)
		entry.mu.Lock()
		if s.registered(key, entry) {
			return entry
		}
		entry.mu.Unlock()
	}
}

func (s *MemoryStore) registered(key string, entry *memoryBucket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buckets[key] == entry
}

func (s *MemoryStore) entry(key string, now time.Time) *memoryBucket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.buckets[key]; ok {
		return entry
	}

	s.created++
	if s.created%memoryPurgeEvery == 0 {
		s.purgeLocked(now)
	}
	entry := &memoryBucket{}
	s.buckets[key] = entry
	return entry
}

// purgeLocked drops expired buckets that are not currently being updated. It must
// only TryLock entries because Update takes s.mu while holding an entry lock.
func (s *MemoryStore) purgeLocked(now time.Time) {
	for key, entry := range s.buckets {
		if !entry.mu.TryLock() {
			continue
		}
		if !entry.exists || !now.Before(entry.expiresAt) {
			entry.exists = false
			delete(s.buckets, key)
		}
		entry.mu.Unlock()
	}
}
