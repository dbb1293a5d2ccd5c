package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemoryStoreUpdateAfterPurgedLookup(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	stale := store.entry("tenant-a", now)
	store.mu.Lock()
	store.purgeLocked(now)
	store.mu.Unlock()
	if store.registered("tenant-a", stale) {
		t.Fatal("expected fresh empty bucket to be purged")
	}

	if _, err := store.Update(context.Background(), "tenant-a", now, time.Minute, func(Bucket, bool) (Bucket, error) {
		return Bucket{Tokens: 7, LastRefill: now}, nil
	}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, found, err := store.Load(context.Background(), "tenant-a", now)
	if err != nil || !found || got.Tokens != 7 {
		t.Fatalf("expected update to be visible, got %+v found=%v err=%v", got, found, err)
	}
}

func TestMemoryStoreConcurrentUpdatesAcrossPurges(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()
	const keys = 3 * memoryPurgeEvery

	var wg sync.WaitGroup
	wg.Add(keys)
	for i := 0; i < keys; i++ {
		go func(idx int) {
			defer wg.Done()
			key := fmt.Sprintf("tenant-%d", idx)
			if _, err := store.Update(ctx, key, now, time.Minute, func(Bucket, bool) (Bucket, error) {
				return Bucket{Tokens: 1, LastRefill: now}, nil
			}); err != nil {
				t.Errorf("update %s: %v", key, err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < keys; i++ {
		key := fmt.Sprintf("tenant-%d", i)
		if _, found, _ := store.Load(ctx, key, now); !found {
			t.Fatalf("bucket %s lost to a concurrent purge", key)
		}
	}
}
