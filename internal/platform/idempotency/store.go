package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a replayable response is kept.
const DefaultTTL = 24 * time.Hour

// Outcome reports what Reserve found for a key.
type Outcome int

const (
	// OutcomeReserved means the caller owns the key and must Complete or Release it.
	OutcomeReserved Outcome = iota
	// OutcomeReplay means a stored response exists for the same request.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key.
	OutcomeInFlight
)

// Entry is the stored state of one tenant-scoped key.
type Entry struct {
	Scope       string
	Fingerprint string
	Completed   bool
	Status      int
	Header      map[string][]string
	Body        []byte
	ExpiresAt   time.Time
}

// Store persists reservations and captured responses. Reserve must be atomic per scope.
type Store interface {
	Reserve(ctx context.Context, scope, fingerprint string, now time.Time, ttl time.Duration) (Outcome, Entry, error)
	Complete(ctx context.Context, entry Entry, now time.Time, ttl time.Duration) error
	Release(ctx context.Context, scope string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

var (
	// ErrKeyReused is returned when a key is presented again with a different request.
	ErrKeyReused = errors.New("idempotency: key reused for a different request")
	// ErrStoreUnavailable wraps backend failures.
	ErrStoreUnavailable = errors.New("idempotency: store unavailable")
)

// Scope joins a tenant and a client supplied key.
func Scope(tenantID, key string) string {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		tenantID = "anonymous"
	}
	return tenantID + "/" + strings.TrimSpace(key)
}

func documentID(scope string) string {
	sum := sha256.Sum256([]byte(scope))
	return hex.EncodeToString(sum[:])
}

func replayableHeader(header http.Header) map[string][]string {
	out := make(map[string][]string, len(header))
	for name, values := range header {
		switch http.CanonicalHeaderKey(name) {
		case "Content-Length", "Date", "Connection", "Transfer-Encoding", "X-Ratelimit-Remaining", "X-Ratelimit-Reset":
			continue
		}
		out[http.CanonicalHeaderKey(name)] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
