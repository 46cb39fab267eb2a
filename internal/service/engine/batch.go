package engine

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// initialBatchCap bounds the preallocated batch buffer; larger batches grow
// through append.
const initialBatchCap = 64

// batchState accumulates events of a batched subscription until a flush
type batchState struct {
	maxSize   int
	maxWait   time.Duration
	current   []delivery.Event
	createdAt time.Time
}

func newBatchState(typ delivery.SubscriptionType, now time.Time) *batchState {
	return &batchState{
		maxSize:   typ.MaxBatchSize,
		maxWait:   typ.Interval,
		current:   make([]delivery.Event, 0, min(typ.MaxBatchSize, initialBatchCap)),
		createdAt: now,
	}
}

// due reports whether the pending events should be flushed
func (b *batchState) due(now time.Time) bool {
	if len(b.current) == 0 {
		return false
	}
	return len(b.current) >= b.maxSize || now.Sub(b.createdAt) >= b.maxWait
}

func (b *batchState) reset(now time.Time) {
	b.current = make([]delivery.Event, 0, min(b.maxSize, initialBatchCap))
	b.createdAt = now
}

// envelope wraps the pending events into one synthetic delivery unit. The
// envelope takes the most urgent priority of its members.
func (b *batchState) envelope(now time.Time) (delivery.Event, error) {
	batchID := uuid.NewString()
	priority := delivery.PriorityLow
	summaries := make([]delivery.BatchedEvent, 0, len(b.current))
	for _, ev := range b.current {
		summaries = append(summaries, delivery.SummarizeForBatch(ev))
		if ev.Priority < priority {
			priority = ev.Priority
		}
	}

	payload, err := json.Marshal(delivery.BatchEnvelope{
		BatchID:        batchID,
		Events:         summaries,
		BatchSize:      len(summaries),
		BatchCreatedAt: now.UTC(),
	})
	if err != nil {
		return delivery.Event{}, err
	}

	return delivery.Event{
		ID:        uuid.New(),
		EventType: delivery.BatchEventType,
		Priority:  priority,
		Source:    delivery.EventSource{ID: delivery.BatchSourceID, Type: delivery.SourceSystem},
		CreatedAt: now.UTC(),
		Payload:   payload,
		Metadata: map[string]string{
			"batch_id":   batchID,
			"batch_size": strconv.Itoa(len(summaries)),
		},
	}, nil
}
