package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/Luneo19/luneo-platform-sub030/internal/platform/firestore"
)

const (
	defaultBucketCollection   = "rateLimitBuckets"
	defaultOverrideCollection = "rateLimitOverrides"
	defaultMaxAttempts        = 3
	defaultStoreTimeout       = 2 * time.Second
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollections overrides the bucket and override collection names.
func WithCollections(buckets, overrides string) FirestoreOption {
	return func(store *FirestoreStore) {
		if buckets != "" {
			store.buckets = buckets
		}
		if overrides != "" {
			store.overrides = overrides
		}
	}
}

// WithStoreTimeout bounds each store round-trip so a slow backend degrades into fail-open quickly.
func WithStoreTimeout(timeout time.Duration) FirestoreOption {
	return func(store *FirestoreStore) {
		if timeout > 0 {
			store.timeout = timeout
		}
	}
}

// FirestoreStore keeps buckets in Firestore documents and applies updates inside a
// transaction, which serialises concurrent requests for the same tenant. The
// expireAt field doubles as a Firestore TTL policy target.
type FirestoreStore struct {
	provider  *pfirestore.Provider
	buckets   string
	overrides string
	timeout   time.Duration
}

type bucketDocument struct {
	Key          string    `firestore:"key"`
	Tokens       float64   `firestore:"tokens"`
	LastRefillAt time.Time `firestore:"lastRefillAt"`
	ExpireAt     time.Time `firestore:"expireAt"`
}

type overrideDocument struct {
	TenantID       string    `firestore:"tenantId"`
	Capacity       int       `firestore:"capacity"`
	RefillRate     int       `firestore:"refillRate"`
	RefillInterval int64     `firestore:"refillIntervalMs"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

// NewFirestoreStore constructs a Firestore-backed bucket store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("ratelimit: firestore provider is required")
	}
	store := &FirestoreStore{
		provider:  provider,
		buckets:   defaultBucketCollection,
		overrides: defaultOverrideCollection,
		timeout:   defaultStoreTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Update implements Store. Contention that outlasts the retry budget is reported
// as ErrStoreContention; only a store that cannot be reached is ErrStoreUnavailable.
func (s *FirestoreStore) Update(ctx context.Context, key string, now time.Time, ttl time.Duration, fn UpdateFunc) (Bucket, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return Bucket{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ref := client.Collection(s.buckets).Doc(documentID(key))

	var (
		result  Bucket
		reached bool
		fnErr   error
	)
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		current, found, err := readBucket(tx.Get(ref))
		if err != nil {
			return err
		}
		reached = true
		if found && !now.Before(current.ExpireAt) {
			found = false
		}
		next, err := fn(Bucket{Tokens: current.Tokens, LastRefill: current.LastRefillAt}, found)
		if err != nil {
			fnErr = err
			return err
		}
		result = next
		return tx.Set(ref, bucketDocument{
			Key:          key,
			Tokens:       next.Tokens,
			LastRefillAt: next.LastRefill,
			ExpireAt:     now.Add(ttl),
		})
	}, pfirestore.WithTxAttempts(defaultMaxAttempts), pfirestore.WithTxTimeout(s.timeout))
	if err != nil {
		return Bucket{}, classifyUpdateError(ctx, err, fnErr, reached)
	}
	return result, nil
}

func classifyUpdateError(ctx context.Context, err, fnErr error, reached bool) error {
	switch {
	case fnErr != nil && errors.Is(err, fnErr):
		return fnErr
	case ctx.Err() != nil:
		return ctx.Err()
	case pfirestore.IsConflict(err):
		return fmt.Errorf("%w: %v", ErrStoreContention, err)
	case reached && errors.Is(err, context.DeadlineExceeded):
		// The bucket was readable, so the store is up and the commit kept losing races.
		return fmt.Errorf("%w: %v", ErrStoreContention, err)
	default:
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Load implements Store.
func (s *FirestoreStore) Load(ctx context.Context, key string, now time.Time) (Bucket, bool, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return Bucket{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	doc, found, err := readBucket(client.Collection(s.buckets).Doc(documentID(key)).Get(ctx))
	if err != nil {
		return Bucket{}, false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found || !now.Before(doc.ExpireAt) {
		return Bucket{}, false, nil
	}
	return Bucket{Tokens: doc.Tokens, LastRefill: doc.LastRefillAt}, true, nil
}

// Delete implements Store.
func (s *FirestoreStore) Delete(ctx context.Context, key string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.buckets).Doc(documentID(key)).Delete(ctx)
	return pfirestore.WrapError("ratelimit.delete", err)
}

// LoadOverride implements Store.
func (s *FirestoreStore) LoadOverride(ctx context.Context, tenantID string) (Config, bool, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return Config{}, false, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := client.Collection(s.overrides).Doc(documentID(tenantID)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return Config{}, false, nil
	}
	if err != nil {
		return Config{}, false, pfirestore.WrapError("ratelimit.override.get", err)
	}
	var doc overrideDocument
	if err := snap.DataTo(&doc); err != nil {
		return Config{}, false, fmt.Errorf("ratelimit: decode override %s: %w", tenantID, err)
	}
	return Config{
		Capacity:       doc.Capacity,
		RefillRate:     doc.RefillRate,
		RefillInterval: time.Duration(doc.RefillInterval) * time.Millisecond,
	}, true, nil
}

// SaveOverride implements Store.
func (s *FirestoreStore) SaveOverride(ctx context.Context, tenantID string, cfg Config) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.overrides).Doc(documentID(tenantID)).Set(ctx, overrideDocument{
		TenantID:       tenantID,
		Capacity:       cfg.Capacity,
		RefillRate:     cfg.RefillRate,
		RefillInterval: cfg.RefillInterval.Milliseconds(),
		UpdatedAt:      time.Now().UTC(),
	})
	return pfirestore.WrapError("ratelimit.override.set", err)
}

// DeleteOverride implements Store.
func (s *FirestoreStore) DeleteOverride(ctx context.Context, tenantID string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.overrides).Doc(documentID(tenantID)).Delete(ctx)
	return pfirestore.WrapError("ratelimit.override.delete", err)
}

func readBucket(snap *firestore.DocumentSnapshot, err error) (bucketDocument, bool, error) {
	if status.Code(err) == codes.NotFound {
		return bucketDocument{}, false, nil
	}
	if err != nil {
		return bucketDocument{}, false, err
	}
	var doc bucketDocument
	if err := snap.DataTo(&doc); err != nil {
		return bucketDocument{}, false, fmt.Errorf("ratelimit: decode bucket: %w", err)
	}
	return doc, true, nil
}
