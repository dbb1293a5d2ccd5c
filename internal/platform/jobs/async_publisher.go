package jobs

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultAsyncBuffer  = 256
	defaultPublishAfter = 10 * time.Second
)

type pendingEvent struct {
	topic   string
	payload any
}

// AsyncPublisher queues events on a buffered channel and forwards them to the
// wrapped publisher from a single goroutine. Publish blocks only when the buffer
// is full. Delivery failures are logged, not returned.
type AsyncPublisher struct {
	next    Publisher
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan pendingEvent
	done   chan struct{}
}

// AsyncOption customises AsyncPublisher.
type AsyncOption func(*AsyncPublisher)

// WithAsyncLogger sets the logger used for delivery failures.
func WithAsyncLogger(logger *zap.Logger) AsyncOption {
	return func(p *AsyncPublisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPublishTimeout bounds each forwarded publish call.
func WithPublishTimeout(timeout time.Duration) AsyncOption {
	return func(p *AsyncPublisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewAsyncPublisher starts the forwarding goroutine. Close must be called to drain it.
func NewAsyncPublisher(next Publisher, buffer int, opts ...AsyncOption) *AsyncPublisher {
	if buffer <= 0 {
		buffer = defaultAsyncBuffer
	}
	p := &AsyncPublisher{
		next:    next,
		logger:  zap.NewNop(),
		timeout: defaultPublishAfter,
		queue:   make(chan pendingEvent, buffer),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	go p.run()
	return p
}

// Publish implements Publisher by enqueueing the event.
func (p *AsyncPublisher) Publish(ctx context.Context, topic string, payload any) error {
	if _, err := encodePayload(topic, payload); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.queue <- pendingEvent{topic: topic, payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events and waits until queued events are delivered or ctx expires.
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for event := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.next.Publish(ctx, event.topic, event.payload); err != nil {
			p.logger.Warn("jobs: async publish failed", zap.String(eventAttribute, event.topic), zap.Error(err))
		}
		cancel()
	}
}
