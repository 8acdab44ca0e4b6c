// Package dlq routes records that fail handling to a dead-letter topic.
package dlq

import (
	"context"
	"fmt"
	"time"
)

// Publisher is the interface for publishing messages to the hub.
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
	Close() error
}

// FailureInfo contains metadata about why a record failed handling.
type FailureInfo struct {
	OriginalTopic string
	Partition     int32
	Offset        int64
	ErrorCode     string
	ErrorMessage  string
	CorrelationID string
}

// Handler publishes failed records to a dead-letter topic.
type Handler struct {
	publisher Publisher
	topicFn   func(originalTopic string) string
}

// Option configures a Handler.
type Option func(*Handler)

// WithTopicFunc overrides the default dead-letter topic naming function.
func WithTopicFunc(fn func(originalTopic string) string) Option {
	return func(h *Handler) {
		h.topicFn = fn
	}
}

// NewHandler creates a new DLQ handler.
func NewHandler(pub Publisher, opts ...Option) *Handler {
	h := &Handler{
		publisher: pub,
		topicFn:   func(originalTopic string) string { return originalTopic + ".dlq" },
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Send publishes a failed record to the dead-letter topic with failure
// metadata headers.
func (h *Handler) Send(ctx context.Context, key, value []byte, info FailureInfo) error {
	topic := h.topicFn(info.OriginalTopic)

	headers := map[string]string{
		"hubtap-original-topic":     info.OriginalTopic,
		"hubtap-original-partition": fmt.Sprintf("%d", info.Partition),
		"hubtap-original-offset":    fmt.Sprintf("%d", info.Offset),
		"hubtap-error-code":         info.ErrorCode,
		"hubtap-error-message":      info.ErrorMessage,
		"hubtap-failed-at":          time.Now().UTC().Format(time.RFC3339),
		"hubtap-correlation-id":     info.CorrelationID,
	}

	if err := h.publisher.Publish(ctx, topic, key, value, headers); err != nil {
		return fmt.Errorf("dlq publish to %s: %w", topic, err)
	}
	return nil
}

// Close releases resources held by the handler.
func (h *Handler) Close() error {
	return h.publisher.Close()
}

// NoopPublisher is a Publisher that discards all messages. Used when no
// dead-letter topic is configured.
type NoopPublisher struct{}

func (*NoopPublisher) Publish(context.Context, string, []byte, []byte, map[string]string) error {
	return nil
}

func (*NoopPublisher) Close() error { return nil }
