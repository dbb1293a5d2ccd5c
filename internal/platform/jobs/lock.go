package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
)

// Locker is a time-bounded mutual exclusion primitive shared by all instances.
// Acquire returns false without error when another owner holds an unexpired lock.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// MemoryLocker is a process-local Locker for tests and single instance runs.
type MemoryLocker struct {
	mu    sync.Mutex
	clock func() time.Time
	locks map[string]time.Time
}

// NewMemoryLocker constructs a MemoryLocker.
func NewMemoryLocker(clock func() time.Time) *MemoryLocker {
	if clock == nil {
		clock = time.Now
	}
	return &MemoryLocker{clock: clock, locks: make(map[string]time.Time)}
}

// Acquire implements Locker.
func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("jobs: lock ttl must be positive")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if expiresAt, ok := l.locks[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	l.locks[key] = now.Add(ttl)
	return true, nil
}

// Release implements Locker.
func (l *MemoryLocker) Release(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, key)
	return nil
}

const defaultLockCollection = "schedulerLocks"

type lockDocument struct {
	Key        string    `firestore:"key"`
	Owner      string    `firestore:"owner"`
	AcquiredAt time.Time `firestore:"acquiredAt"`
	ExpiresAt  time.Time `firestore:"expiresAt"`
}

// FirestoreLocker stores locks as documents keyed by lock name. Ownership is
// tracked per instance so Release never drops a lock taken over after expiry.
type FirestoreLocker struct {
	provider   *pfirestore.Provider
	collection string
	owner      string
	clock      func() time.Time
}

// NewFirestoreLocker constructs a Firestore-backed Locker owned by instanceID.
func NewFirestoreLocker(provider *pfirestore.Provider, instanceID string, clock func() time.Time) (*FirestoreLocker, error) {
	if provider == nil {
		return nil, errors.New("jobs: firestore provider is required")
	}
	instanceID = strings.TrimSpace(instanceID)
	if instanceID == "" {
		return nil, errors.New("jobs: instance id is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &FirestoreLocker{
		provider:   provider,
		collection: defaultLockCollection,
		owner:      instanceID,
		clock:      clock,
	}, nil
}

// Acquire implements Locker.
func (l *FirestoreLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, errors.New("jobs: lock ttl must be positive")
	}
	client, err := l.provider.Client(ctx)
	if err != nil {
		return false, err
	}
	ref := client.Collection(l.collection).Doc(url.PathEscape(key))

	acquired := false
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		acquired = false
		now := l.clock().UTC()
		snap, err := tx.Get(ref)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			var current lockDocument
			if err := snap.DataTo(&current); err != nil {
				return fmt.Errorf("jobs: decode lock %s: %w", key, err)
			}
			if current.Owner != l.owner && now.Before(current.ExpiresAt) {
				return nil
			}
		}
		acquired = true
		return tx.Set(ref, lockDocument{
			Key:        key,
			Owner:      l.owner,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		})
	}, pfirestore.WithTxAttempts(1))
	if err != nil {
		if pfirestore.IsConflict(err) {
			return false, nil
		}
		return false, err
	}
	return acquired, nil
}

// Release implements Locker. Locks held by other owners are left untouched.
func (l *FirestoreLocker) Release(ctx context.Context, key string) error {
	client, err := l.provider.Client(ctx)
	if err != nil {
		return err
	}
	ref := client.Collection(l.collection).Doc(url.PathEscape(key))
	return pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var current lockDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("jobs: decode lock %s: %w", key, err)
		}
		if current.Owner != l.owner {
			return nil
		}
		return tx.Delete(ref)
	})
}
