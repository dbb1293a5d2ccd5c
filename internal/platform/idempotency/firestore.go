package idempotency

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
	defaultCollection   = "idempotencyKeys"
	defaultMaxAttempts  = 5
	defaultStoreTimeout = 3 * time.Second
	defaultPurgeLimit   = 200
)

// FirestoreOption customises the FirestoreStore behaviour.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection name.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithStoreTimeout bounds each transaction.
func WithStoreTimeout(timeout time.Duration) FirestoreOption {
	return func(store *FirestoreStore) {
		if timeout > 0 {
			store.timeout = timeout
		}
	}
}

// FirestoreStore keeps entries in one document per scope. expireAt is also the TTL policy field.
type FirestoreStore struct {
	provider   *pfirestore.Provider
	collection string
	timeout    time.Duration
}

type entryDocument struct {
	Scope       string              `firestore:"scope"`
	Fingerprint string              `firestore:"fingerprint"`
	Completed   bool                `firestore:"completed"`
	Status      int                 `firestore:"status"`
	Header      map[string][]string `firestore:"header"`
	Body        []byte              `firestore:"body"`
	UpdatedAt   time.Time           `firestore:"updatedAt"`
	ExpireAt    time.Time           `firestore:"expireAt"`
}

func (d entryDocument) entry() Entry {
	return Entry{
		Scope:       d.Scope,
		Fingerprint: d.Fingerprint,
		Completed:   d.Completed,
		Status:      d.Status,
		Header:      d.Header,
		Body:        d.Body,
		ExpiresAt:   d.ExpireAt,
	}
}

// NewFirestoreStore constructs a Firestore-backed store.
func NewFirestoreStore(provider *pfirestore.Provider, opts ...FirestoreOption) (*FirestoreStore, error) {
	if provider == nil {
		return nil, errors.New("idempotency: firestore provider is required")
	}
	store := &FirestoreStore{
		provider:   provider,
		collection: defaultCollection,
		timeout:    defaultStoreTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Reserve implements Store.
func (s *FirestoreStore) Reserve(ctx context.Context, scope, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, Entry{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ref := client.Collection(s.collection).Doc(documentID(scope))

	var (
		outcome Outcome
		result  Entry
	)
	err = pfirestore.RunTransaction(ctx, client, func(ctx context.Context, tx *firestore.Transaction) error {
		current, found, err := readEntry(tx.Get(ref))
		if err != nil {
			return err
		}
		if found && now.Before(current.ExpireAt) {
			if current.Fingerprint != fingerprint {
				return ErrKeyReused
			}
			result = current.entry()
			outcome = OutcomeInFlight
			if current.Completed {
				outcome = OutcomeReplay
			}
			return nil
		}
		doc := entryDocument{
			Scope:       scope,
			Fingerprint: fingerprint,
			UpdatedAt:   now,
			ExpireAt:    now.Add(ttl),
		}
		outcome = OutcomeReserved
		result = doc.entry()
		return tx.Set(ref, doc)
	}, pfirestore.WithTxAttempts(defaultMaxAttempts), pfirestore.WithTxTimeout(s.timeout))
	switch {
	case err == nil:
		return outcome, result, nil
	case errors.Is(err, ErrKeyReused):
		return 0, Entry{}, ErrKeyReused
	default:
		return 0, Entry{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
}

// Complete implements Store.
func (s *FirestoreStore) Complete(ctx context.Context, entry Entry, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err = client.Collection(s.collection).Doc(documentID(entry.Scope)).Set(ctx, entryDocument{
		Scope:       entry.Scope,
		Fingerprint: entry.Fingerprint,
		Completed:   true,
		Status:      entry.Status,
		Header:      entry.Header,
		Body:        entry.Body,
		UpdatedAt:   now,
		ExpireAt:    now.Add(ttl),
	})
	return pfirestore.WrapError("idempotency.complete", err)
}

// Release implements Store.
func (s *FirestoreStore) Release(ctx context.Context, scope string) error {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return err
	}
	_, err = client.Collection(s.collection).Doc(documentID(scope)).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return pfirestore.WrapError("idempotency.release", err)
}

// Purge deletes up to limit expired entries. Firestore TTL policies do the same
// eventually; the sweep keeps the collection small when no policy is configured.
func (s *FirestoreStore) Purge(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultPurgeLimit
	}
	client, err := s.provider.Client(ctx)
	if err != nil {
		return 0, err
	}
	docs, err := client.Collection(s.collection).Where("expireAt", "<=", now).Limit(limit).Documents(ctx).GetAll()
	if err != nil {
		return 0, pfirestore.WrapError("idempotency.purge.query", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}
	writer := client.BulkWriter(ctx)
	for _, doc := range docs {
		if _, err := writer.Delete(doc.Ref); err != nil {
			writer.End()
			return 0, pfirestore.WrapError("idempotency.purge.delete", err)
		}
	}
	writer.End()
	return len(docs), nil
}

func readEntry(snap *firestore.DocumentSnapshot, err error) (entryDocument, bool, error) {
	if status.Code(err) == codes.NotFound {
		return entryDocument{}, false, nil
	}
	if err != nil {
		return entryDocument{}, false, err
	}
	var doc entryDocument
	if err := snap.DataTo(&doc); err != nil {
		return entryDocument{}, false, fmt.Errorf("idempotency: decode entry: %w", err)
	}
	return doc, true, nil
}
