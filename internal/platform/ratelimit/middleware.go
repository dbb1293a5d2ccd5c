package ratelimit

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/Luneo19/luneo-platform-sub030/internal/platform/httpx"
	"github.com/Luneo19/luneo-platform-sub030/internal/platform/requestctx"
)

const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerReset      = "X-RateLimit-Reset"
	headerRetryAfter = "Retry-After"
)

// KeyFunc derives the bucket key for a request.
type KeyFunc func(r *http.Request) string

// MiddlewareOption customises the HTTP middleware.
type MiddlewareOption func(*middlewareConfig)

type middlewareConfig struct {
	key          KeyFunc
	cost         int
	mutatingOnly bool
}

// WithKeyFunc overrides how requests map onto buckets.
func WithKeyFunc(fn KeyFunc) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if fn != nil {
			cfg.key = fn
		}
	}
}

// WithCost sets the number of tokens each request consumes.
func WithCost(cost int) MiddlewareOption {
	return func(cfg *middlewareConfig) {
		if cost > 0 {
			cfg.cost = cost
		}
	}
}

// MutatingOnly lets GET, HEAD and OPTIONS requests through without consuming tokens.
func MutatingOnly() MiddlewareOption {
	return func(cfg *middlewareConfig) {
		cfg.mutatingOnly = true
	}
}

// Middleware gates requests through limiter and reports bucket state in the
// X-RateLimit-* headers. Denied requests receive a 429 with a Retry-After header.
func Middleware(limiter *Limiter, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	cfg := middlewareConfig{key: TenantKey, cost: 1}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.mutatingOnly && isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			result, err := limiter.Check(ctx, cfg.key(r), cfg.cost)
			if err != nil {
				// Only malformed keys reach here; store failures already fail open.
				requestctx.Logger(ctx).Warn("ratelimit: check rejected request key", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			header := w.Header()
			header.Set(headerLimit, strconv.Itoa(result.Limit))
			header.Set(headerRemaining, strconv.Itoa(result.Remaining))
			header.Set(headerReset, strconv.FormatInt(result.ResetAt.Unix(), 10))

			if !result.Allowed {
				retryAfter := int(math.Ceil(result.RetryAfter.Seconds()))
				header.Set(headerRetryAfter, strconv.Itoa(retryAfter))
				httpx.WriteJSON(w, http.StatusTooManyRequests, map[string]any{
					"statusCode": http.StatusTooManyRequests,
					"message":    "Rate limit exceeded",
					"retryAfter": retryAfter,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// TenantKey keys buckets by tenant id, falling back to the client IP for
// anonymous callers.
func TenantKey(r *http.Request) string {
	if tenant := strings.TrimSpace(requestctx.Tenant(r.Context())); tenant != "" {
		return tenant
	}
	if tenant := strings.TrimSpace(r.Header.Get(requestctx.TenantHeader)); tenant != "" {
		return tenant
	}
	return "anonymous:" + clientIP(r)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
