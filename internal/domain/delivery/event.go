package delivery

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Priority orders events inside a priority queue. Lower values are delivered first.
type Priority uint8

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// SourceType classifies the producer of an event
type SourceType string

const (
	SourceService    SourceType = "service"
	SourceSystem     SourceType = "system"
	SourceFilesystem SourceType = "filesystem"
	SourceExternal   SourceType = "external"
)

// ParsePriority maps a priority name back to its value
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "critical":
		return PriorityCritical, nil
	case "high":
		return PriorityHigh, nil
	case "", "normal":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	default:
		return 0, fmt.Errorf("unknown priority %q", s)
	}
}

// EventSource identifies who produced an event
type EventSource struct {
	ID   string     `json:"id"`
	Type SourceType `json:"type"`
}

// Event is a daemon event as produced by the event bus. The engine only
// constructs events itself when it wraps a batch.
type Event struct {
	ID            uuid.UUID         `json:"id"`
	EventType     string            `json:"event_type"`
	Priority      Priority          `json:"priority"`
	Source        EventSource       `json:"source"`
	CreatedAt     time.Time         `json:"created_at"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CorrelationID *uuid.UUID        `json:"correlation_id,omitempty"`
}

// NewEvent creates an event with normal priority
func NewEvent(eventType string, source EventSource, payload json.RawMessage) Event {
	return Event{
		ID:        uuid.New(),
		EventType: eventType,
		Priority:  PriorityNormal,
		Source:    source,
		CreatedAt: time.Now().UTC(),
		Payload:   payload,
	}
}

// WithPriority returns a copy of the event with the given priority
func (e Event) WithPriority(p Priority) Event {
	e.Priority = p
	return e
}

// BatchEventType is the event type of synthetic batch envelopes
const BatchEventType = "event_batch"

// BatchSourceID is the source id stamped on synthetic batch envelopes
const BatchSourceID = "delivery_system"

// BatchEnvelope is the JSON payload of a synthetic batch event
type BatchEnvelope struct {
	BatchID        string         `json:"batch_id"`
	Events         []BatchedEvent `json:"events"`
	BatchSize      int            `json:"batch_size"`
	BatchCreatedAt time.Time      `json:"batch_created_at"`
}

// BatchedEvent is the summary of one event inside a batch envelope
type BatchedEvent struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Priority  Priority        `json:"priority"`
	Source    EventSource     `json:"source"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// SummarizeForBatch converts an event into its batch envelope entry
func SummarizeForBatch(e Event) BatchedEvent {
	return BatchedEvent{
		ID:        e.ID.String(),
		EventType: e.EventType,
		Priority:  e.Priority,
		Source:    e.Source,
		CreatedAt: e.CreatedAt,
		Payload:   e.Payload,
	}
}
