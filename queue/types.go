package queue

import (
	"fmt"
	"time"

	"github.com/zero-day-ai/aggregator/finding"
)

// Message is the unit carried by a findings queue.
type Message struct {
	// Finding is the reported evidence
	Finding *finding.Finding `json:"finding"`

	// TraceID is the distributed tracing trace ID of the producer, if any
	TraceID string `json:"trace_id,omitempty"`

	// SpanID is the distributed tracing span ID of the producer, if any
	SpanID string `json:"span_id,omitempty"`

	// EnqueuedAt is the Unix timestamp in milliseconds when the message was pushed
	EnqueuedAt int64 `json:"enqueued_at"`
}

// IsValid checks that the message carries a valid finding.
func (m *Message) IsValid() error {
	if m.Finding == nil {
		return fmt.Errorf("finding is required")
	}
	if err := m.Finding.Validate(); err != nil {
		return fmt.Errorf("invalid finding: %w", err)
	}
	if m.EnqueuedAt <= 0 {
		return fmt.Errorf("enqueued_at must be positive, got %d", m.EnqueuedAt)
	}
	return nil
}

// Age returns the duration since the message was pushed.
// Useful for computing queue wait time.
func (m *Message) Age() time.Duration {
	if m.EnqueuedAt <= 0 {
		return 0
	}
	return time.Duration(time.Now().UnixMilli()-m.EnqueuedAt) * time.Millisecond
}
