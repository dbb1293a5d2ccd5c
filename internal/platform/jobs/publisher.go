package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Publisher delivers a named event with a JSON-serialisable payload to the event bus.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// ErrPublisherClosed is returned once a publisher has been shut down.
var ErrPublisherClosed = errors.New("jobs: publisher closed")

const eventAttribute = "event"

func encodePayload(topic string, payload any) ([]byte, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("jobs: event topic is required")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal %s payload: %w", topic, err)
	}
	return data, nil
}

// LogPublisher writes events to the logger instead of a transport. Used for local runs.
type LogPublisher struct {
	logger *zap.Logger
}

// NewLogPublisher constructs a LogPublisher.
func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogPublisher{logger: logger}
}

// Publish implements Publisher.
func (p *LogPublisher) Publish(_ context.Context, topic string, payload any) error {
	data, err := encodePayload(topic, payload)
	if err != nil {
		return err
	}
	p.logger.Info("event published", zap.String(eventAttribute, topic), zap.ByteString("payload", data))
	return nil
}
