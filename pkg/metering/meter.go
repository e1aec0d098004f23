// Package metering records usage events for metered dependencies and
// per-key brick activity. The gateway uses it to account for spend on
// budgeted calls (e.g. AI summarization) independently of rate limiting.
package metering

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrEmptyKeyID is returned when an event has no key ID.
	ErrEmptyKeyID = errors.New("metering: key_id must not be empty")
	// ErrNegativeQuantity is returned when an event quantity is negative.
	ErrNegativeQuantity = errors.New("metering: quantity must not be negative")
	// ErrInvalidEventType is returned when the event type is empty.
	ErrInvalidEventType = errors.New("metering: event_type must not be empty")
)

// EventType classifies a metered event.
type EventType string

const (
	EventBrickCall  EventType = "brick_call"
	EventSummaryRun EventType = "summary_run"
	EventRetry      EventType = "retry"
)

// Event is one usage record.
type Event struct {
	KeyID     string         `json:"key_id"`
	EventType EventType      `json:"event_type"`
	Quantity  int64          `json:"quantity"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Validate checks the event fields.
func (e Event) Validate() error {
	if e.KeyID == "" {
		return ErrEmptyKeyID
	}
	if e.Quantity < 0 {
		return ErrNegativeQuantity
	}
	if e.EventType == "" {
		return ErrInvalidEventType
	}
	return nil
}

// Meter records and aggregates usage.
type Meter interface {
	Record(ctx context.Context, event Event) error
	// TotalSince sums quantities for a key and type from the given time.
	TotalSince(ctx context.Context, keyID string, eventType EventType, since time.Time) (int64, error)
}

// MemoryMeter is the single-instance Meter.
type MemoryMeter struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryMeter creates an empty in-memory meter.
func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{}
}

// Record validates and appends the event.
func (m *MemoryMeter) Record(ctx context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// TotalSince sums matching event quantities.
func (m *MemoryMeter) TotalSince(ctx context.Context, keyID string, eventType EventType, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, e := range m.events {
		if e.KeyID == keyID && e.EventType == eventType && !e.Timestamp.Before(since) {
			total += e.Quantity
		}
	}
	return total, nil
}
