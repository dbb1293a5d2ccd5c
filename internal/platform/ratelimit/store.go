package ratelimit

import (
	"context"
	"errors"
	"net/url"
	"time"
)

// Bucket is the persisted token bucket state for one tenant.
type Bucket struct {
	Tokens     float64
	LastRefill time.Time
}

// UpdateFunc computes the next bucket state. found is false when the tenant has no
// bucket or its bucket expired. Stores may invoke it more than once when an atomic
// write has to be retried, so it must not have side effects.
type UpdateFunc func(current Bucket, found bool) (Bucket, error)

// Store persists buckets and per-tenant overrides. Update must run the
// read-modify-write as one atomic unit per key; distinct keys must not block each other.
type Store interface {
	Update(ctx context.Context, key string, now time.Time, ttl time.Duration, fn UpdateFunc) (Bucket, error)
	Load(ctx context.Context, key string, now time.Time) (Bucket, bool, error)
	Delete(ctx context.Context, key string) error

	LoadOverride(ctx context.Context, tenantID string) (Config, bool, error)
	SaveOverride(ctx context.Context, tenantID string, cfg Config) error
	DeleteOverride(ctx context.Context, tenantID string) error
}

var (
	// ErrStoreUnavailable marks backend failures that trigger fail-open behaviour.
	ErrStoreUnavailable = errors.New("ratelimit: bucket store unavailable")
	// ErrStoreContention marks an update that reached the store but could not
	// commit because other requests held the bucket. The request is denied.
	ErrStoreContention = errors.New("ratelimit: bucket contended")
)

func documentID(key string) string {
	return url.PathEscape(key)
}
