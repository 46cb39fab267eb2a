// Package deadletter stores events the delivery engine gave up on.
package deadletter

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

type entryKey struct {
	subscriptionID string
	eventID        uuid.UUID
}

type entry struct {
	letter    delivery.DeadLetter
	firstFail time.Time
	failures  int
}

// Stats is a snapshot of a MemorySink
type Stats struct {
	CurrentSize  int    `json:"current_size"`
	MaxSize      int    `json:"max_size"`
	TotalAdded   uint64 `json:"total_added"`
	TotalTaken   uint64 `json:"total_taken"`
	TotalRemoved uint64 `json:"total_removed"`
	TotalEvicted uint64 `json:"total_evicted"`
}

// MemorySink keeps dead letters in memory, bounded by maxSize. When full the
// entry with the oldest failure is evicted.
type MemorySink struct {
	logger  *zap.Logger
	clock   delivery.Clock
	maxSize int

	mu      sync.RWMutex
	entries map[entryKey]*entry

	totalAdded   uint64
	totalTaken   uint64
	totalRemoved uint64
	totalEvicted uint64
}

// NewMemorySink creates an in-memory sink. A nil clock uses wall time.
func NewMemorySink(maxSize int, clock delivery.Clock, logger *zap.Logger) *MemorySink {
	if clock == nil {
		clock = delivery.RealClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemorySink{
		logger:  logger,
		clock:   clock,
		maxSize: maxSize,
		entries: make(map[entryKey]*entry),
	}
}

// Add records a dead letter. A second failure of the same event on the same
// subscription replaces the stored letter.
func (s *MemorySink) Add(_ context.Context, letter delivery.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{subscriptionID: letter.SubscriptionID, eventID: letter.Event.ID}
	if existing, ok := s.entries[key]; ok {
		existing.letter = letter
		existing.failures++

		s.logger.Debug("Updated dead letter",
			zap.String("subscription_id", letter.SubscriptionID),
			zap.String("event_id", letter.Event.ID.String()),
			zap.Int("failures", existing.failures),
		)
		return nil
	}

	if s.maxSize > 0 && len(s.entries) >= s.maxSize {
		s.evictOldest()
	}

	s.entries[key] = &entry{
		letter:    letter,
		firstFail: s.clock.Now(),
		failures:  1,
	}
	s.totalAdded++

	s.logger.Info("Added dead letter",
		zap.String("subscription_id", letter.SubscriptionID),
		zap.String("plugin_id", letter.PluginID),
		zap.String("event_id", letter.Event.ID.String()),
		zap.String("event_type", letter.Event.EventType),
		zap.String("result", letter.Result.String()),
		zap.Uint32("attempts", letter.Attempts),
	)
	return nil
}

// List returns up to limit dead letters, oldest failure first. A limit <= 0
// returns everything.
func (s *MemorySink) List(_ context.Context, limit int) ([]delivery.DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].letter.FailedAt.Before(all[j].letter.FailedAt)
	})

	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}

	out := make([]delivery.DeadLetter, len(all))
	for i, e := range all {
		out[i] = e.letter
	}
	return out, nil
}

// Take removes a dead letter and returns it so the caller can queue it again
func (s *MemorySink) Take(_ context.Context, subscriptionID string, eventID uuid.UUID) (delivery.DeadLetter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{subscriptionID: subscriptionID, eventID: eventID}
	e, ok := s.entries[key]
	if !ok {
		return delivery.DeadLetter{}, errors.NewNotFoundError("dead letter")
	}
	delete(s.entries, key)
	s.totalTaken++

	s.logger.Info("Took dead letter for redelivery",
		zap.String("subscription_id", subscriptionID),
		zap.String("event_id", eventID.String()),
		zap.Int("failures", e.failures),
	)
	return e.letter, nil
}

// Remove permanently discards a dead letter
func (s *MemorySink) Remove(_ context.Context, subscriptionID string, eventID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := entryKey{subscriptionID: subscriptionID, eventID: eventID}
	if _, ok := s.entries[key]; !ok {
		return errors.NewNotFoundError("dead letter")
	}
	delete(s.entries, key)
	s.totalRemoved++

	s.logger.Info("Removed dead letter",
		zap.String("subscription_id", subscriptionID),
		zap.String("event_id", eventID.String()),
	)
	return nil
}

func (s *MemorySink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		CurrentSize:  len(s.entries),
		MaxSize:      s.maxSize,
		TotalAdded:   s.totalAdded,
		TotalTaken:   s.totalTaken,
		TotalRemoved: s.totalRemoved,
		TotalEvicted: s.totalEvicted,
	}
}

// Cleanup drops entries whose first failure is older than maxAge
func (s *MemorySink) Cleanup(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.clock.Now().Add(-maxAge)
	removed := 0
	for key, e := range s.entries {
		if e.firstFail.Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.Info("Cleaned up dead letters",
			zap.Int("removed", removed),
			zap.Duration("max_age", maxAge),
		)
	}
	return removed
}

// evictOldest must be called with s.mu held
func (s *MemorySink) evictOldest() {
	var (
		oldestKey entryKey
		oldest    time.Time
		found     bool
	)
	for key, e := range s.entries {
		if !found || e.letter.FailedAt.Before(oldest) {
			oldestKey, oldest, found = key, e.letter.FailedAt, true
		}
	}
	if !found {
		return
	}
	delete(s.entries, oldestKey)
	s.totalEvicted++

	s.logger.Warn("Dead letter store full, evicted oldest entry",
		zap.String("subscription_id", oldestKey.subscriptionID),
		zap.String("event_id", oldestKey.eventID.String()),
		zap.Int("max_size", s.maxSize),
	)
}
