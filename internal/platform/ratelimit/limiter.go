package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const metricNamespace = "github.com/Luneo19/luneo-platform-sub030/internal/platform/ratelimit"

const (
	defaultCapacity       = 100
	defaultRefillRate     = 10
	defaultRefillInterval = time.Minute

	contentionRetryAfter = time.Second
)

var (
	// ErrInvalidConfig is returned when a bucket configuration cannot be enforced.
	ErrInvalidConfig = errors.New("ratelimit: invalid config")
	// ErrInvalidRequest is returned for empty keys or non-positive costs.
	ErrInvalidRequest = errors.New("ratelimit: invalid request")
)

// Config describes one token bucket: Capacity tokens, refilled by RefillRate
// tokens every RefillInterval.
type Config struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

// DefaultConfig returns 100 tokens refilled at 10 per minute.
func DefaultConfig() Config {
	return Config{
		Capacity:       defaultCapacity,
		RefillRate:     defaultRefillRate,
		RefillInterval: defaultRefillInterval,
	}
}

// Validate reports whether the config can be enforced.
func (c Config) Validate() error {
	switch {
	case c.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidConfig)
	case c.RefillRate <= 0:
		return fmt.Errorf("%w: refill rate must be positive", ErrInvalidConfig)
	case c.RefillInterval <= 0:
		return fmt.Errorf("%w: refill interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// TTL is how long an idle bucket is kept.
func (c Config) TTL() time.Duration {
	return 2 * c.RefillInterval
}

// Result is the outcome of a Check or Status call.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// FailOpen is set when the store could not be reached and the request was let through.
	FailOpen bool
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(l *Limiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// WithLogger sets the logger used for fail-open warnings.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// WithMeter injects a custom OpenTelemetry meter.
func WithMeter(m metric.Meter) Option {
	return func(l *Limiter) {
		if m != nil {
			l.meter = m
		}
	}
}

// WithDefaultConfig replaces the config used for tenants without an override.
func WithDefaultConfig(cfg Config) Option {
	return func(l *Limiter) {
		l.defaults = cfg
	}
}

// Limiter enforces per-tenant token buckets kept in a Store.
type Limiter struct {
	store     Store
	defaults  Config
	clock     func() time.Time
	logger    *zap.Logger
	meter     metric.Meter
	decisions metric.Int64Counter
}

// New constructs a Limiter on top of store.
func New(store Store, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: store is required")
	}
	l := &Limiter{
		store:    store,
		defaults: DefaultConfig(),
		clock:    time.Now,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if err := l.defaults.Validate(); err != nil {
		return nil, err
	}
	if l.meter == nil {
		l.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	counter, err := l.meter.Int64Counter(
		"ratelimit.decisions",
		metric.WithDescription("Rate limit decisions by outcome"),
	)
	if err != nil {
		l.logger.Warn("ratelimit: unable to register decision metric", zap.Error(err))
	}
	l.decisions = counter
	return l, nil
}

// Defaults returns the config applied to tenants without an override.
func (l *Limiter) Defaults() Config {
	return l.defaults
}

// Check consumes cost tokens from the tenant's bucket using the tenant override
// or the default config.
func (l *Limiter) Check(ctx context.Context, tenantID string, cost int) (Result, error) {
	return l.check(ctx, tenantID, cost, nil)
}

// CheckWithConfig consumes cost tokens using cfg instead of the stored override.
func (l *Limiter) CheckWithConfig(ctx context.Context, tenantID string, cost int, cfg Config) (Result, error) {
	if err := cfg.Validate(); err != nil {
		return Result{}, err
	}
	return l.check(ctx, tenantID, cost, &cfg)
}

func (l *Limiter) check(ctx context.Context, tenantID string, cost int, explicit *Config) (Result, error) {
	key := strings.TrimSpace(tenantID)
	if key == "" {
		return Result{}, fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	if cost <= 0 {
		return Result{}, fmt.Errorf("%w: cost must be positive", ErrInvalidRequest)
	}

	cfg := l.defaults
	if explicit != nil {
		cfg = *explicit
	} else {
		cfg = l.resolveConfig(ctx, key)
	}

	now := l.now()
	resetAt := now.Add(cfg.RefillInterval)
	allowed := false

	bucket, err := l.store.Update(ctx, key, now, cfg.TTL(), func(current Bucket, found bool) (Bucket, error) {
		next := refill(current, found, now, cfg)
		allowed = next.Tokens >= float64(cost)
		if allowed {
			next.Tokens -= float64(cost)
		}
		return next, nil
	})
	if errors.Is(err, ErrStoreContention) {
		l.logger.Warn("ratelimit: bucket contended, denying",
			zap.String("tenant_id", key),
			zap.Error(err),
		)
		l.record(ctx, "contention")
		return Result{
			Allowed:    false,
			Limit:      cfg.Capacity,
			Remaining:  0,
			ResetAt:    resetAt,
			RetryAfter: min(contentionRetryAfter, cfg.RefillInterval),
		}, nil
	}
	if err != nil {
		l.logger.Warn("ratelimit: bucket store unavailable, failing open",
			zap.String("tenant_id", key),
			zap.Error(err),
		)
		l.record(ctx, "fail_open")
		return Result{
			Allowed:   true,
			Limit:     cfg.Capacity,
			Remaining: cfg.Capacity,
			ResetAt:   resetAt,
			FailOpen:  true,
		}, nil
	}

	result := Result{
		Allowed:   allowed,
		Limit:     cfg.Capacity,
		Remaining: remaining(bucket.Tokens),
		ResetAt:   resetAt,
	}
	if !allowed {
		result.RetryAfter = max(0, resetAt.Sub(now))
		l.record(ctx, "denied")
	} else {
		l.record(ctx, "allowed")
	}
	return result, nil
}

// Status projects the tenant's bucket forward to now without consuming or writing.
func (l *Limiter) Status(ctx context.Context, tenantID string) (Result, error) {
	key := strings.TrimSpace(tenantID)
	if key == "" {
		return Result{}, fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	cfg := l.resolveConfig(ctx, key)
	now := l.now()

	current, found, err := l.store.Load(ctx, key, now)
	if err != nil {
		return Result{}, err
	}
	bucket := refill(current, found, now, cfg)
	return Result{
		Allowed:   bucket.Tokens >= 1,
		Limit:     cfg.Capacity,
		Remaining: remaining(bucket.Tokens),
		ResetAt:   now.Add(cfg.RefillInterval),
	}, nil
}

// Reset clears the tenant's bucket; the next check starts from full capacity.
func (l *Limiter) Reset(ctx context.Context, tenantID string) error {
	key := strings.TrimSpace(tenantID)
	if key == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	return l.store.Delete(ctx, key)
}

// SetOverride stores a tenant specific config.
func (l *Limiter) SetOverride(ctx context.Context, tenantID string, cfg Config) error {
	key := strings.TrimSpace(tenantID)
	if key == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return l.store.SaveOverride(ctx, key, cfg)
}

// ClearOverride returns the tenant to the default config.
func (l *Limiter) ClearOverride(ctx context.Context, tenantID string) error {
	key := strings.TrimSpace(tenantID)
	if key == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidRequest)
	}
	return l.store.DeleteOverride(ctx, key)
}

// Override returns the stored override for the tenant, if any.
func (l *Limiter) Override(ctx context.Context, tenantID string) (Config, bool, error) {
	return l.store.LoadOverride(ctx, strings.TrimSpace(tenantID))
}

func (l *Limiter) resolveConfig(ctx context.Context, key string) Config {
	cfg, ok, err := l.store.LoadOverride(ctx, key)
	if err != nil {
		l.logger.Warn("ratelimit: override lookup failed, using defaults",
			zap.String("tenant_id", key),
			zap.Error(err),
		)
		return l.defaults
	}
	if !ok || cfg.Validate() != nil {
		return l.defaults
	}
	return cfg
}

func (l *Limiter) record(ctx context.Context, outcome string) {
	if l.decisions == nil {
		return
	}
	l.decisions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (l *Limiter) now() time.Time {
	return l.clock().UTC()
}

// refill adds whole tokens earned since LastRefill. LastRefill only advances by
// the time those tokens account for, so partial progress toward the next token
// survives frequent checks. A missing bucket starts full.
func refill(current Bucket, found bool, now time.Time, cfg Config) Bucket {
	capacity := float64(cfg.Capacity)
	if !found {
		return Bucket{Tokens: capacity, LastRefill: now}
	}
	if current.Tokens > capacity {
		current.Tokens = capacity
	}
	if current.Tokens < 0 {
		current.Tokens = 0
	}

	elapsed := now.Sub(current.LastRefill)
	if elapsed <= 0 {
		return current
	}
	add := math.Floor(float64(elapsed) / float64(cfg.RefillInterval) * float64(cfg.RefillRate))
	if add <= 0 {
		return current
	}
	if current.Tokens+add >= capacity {
		return Bucket{Tokens: capacity, LastRefill: now}
	}
	advance := time.Duration(add * float64(cfg.RefillInterval) / float64(cfg.RefillRate))
	return Bucket{Tokens: current.Tokens + add, LastRefill: current.LastRefill.Add(advance)}
}

func remaining(tokens float64) int {
	if tokens <= 0 {
		return 0
	}
	return int(math.Floor(tokens))
}
