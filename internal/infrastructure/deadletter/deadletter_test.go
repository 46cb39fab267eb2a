package deadletter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/config"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newLetter(subscriptionID string, failedAt time.Time) delivery.DeadLetter {
	event := delivery.NewEvent("order.created", delivery.EventSource{ID: "orders", Type: delivery.SourceService}, []byte(`{"id":1}`))
	return delivery.DeadLetter{
		SubscriptionID: subscriptionID,
		PluginID:       "plugin-a",
		Event:          event,
		Attempts:       3,
		Result:         delivery.Failed("boom"),
		FailedAt:       failedAt,
	}
}

func TestMemorySink_AddAndList(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(10, delivery.NewMockClock(epoch), zaptest.NewLogger(t))

	late := newLetter("sub-1", epoch.Add(2*time.Second))
	early := newLetter("sub-1", epoch.Add(time.Second))
	require.NoError(t, sink.Add(ctx, late))
	require.NoError(t, sink.Add(ctx, early))

	all, err := sink.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, early.Event.ID, all[0].Event.ID)
	assert.Equal(t, late.Event.ID, all[1].Event.ID)

	first, err := sink.List(ctx, 1)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, early.Event.ID, first[0].Event.ID)

	assert.Equal(t, uint64(2), sink.Stats().TotalAdded)
}

func TestMemorySink_SameEventDifferentSubscriptions(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(10, nil, zaptest.NewLogger(t))

	letter := newLetter("sub-1", epoch)
	other := letter
	other.SubscriptionID = "sub-2"

	require.NoError(t, sink.Add(ctx, letter))
	require.NoError(t, sink.Add(ctx, other))
	// a repeat failure replaces the stored letter
	letter.Attempts = 5
	require.NoError(t, sink.Add(ctx, letter))

	stats := sink.Stats()
	assert.Equal(t, 2, stats.CurrentSize)
	assert.Equal(t, uint64(2), stats.TotalAdded)

	taken, err := sink.Take(ctx, "sub-1", letter.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, uint32(5), taken.Attempts)
}

func TestMemorySink_EvictsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(2, nil, zaptest.NewLogger(t))

	oldest := newLetter("sub-1", epoch)
	middle := newLetter("sub-1", epoch.Add(time.Second))
	newest := newLetter("sub-1", epoch.Add(2*time.Second))
	for _, l := range []delivery.DeadLetter{middle, oldest, newest} {
		require.NoError(t, sink.Add(ctx, l))
	}

	all, err := sink.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, middle.Event.ID, all[0].Event.ID)
	assert.Equal(t, newest.Event.ID, all[1].Event.ID)
	assert.Equal(t, uint64(1), sink.Stats().TotalEvicted)
}

func TestMemorySink_TakeAndRemove(t *testing.T) {
	ctx := context.Background()
	sink := NewMemorySink(10, nil, zaptest.NewLogger(t))

	a := newLetter("sub-1", epoch)
	b := newLetter("sub-1", epoch)
	require.NoError(t, sink.Add(ctx, a))
	require.NoError(t, sink.Add(ctx, b))

	taken, err := sink.Take(ctx, "sub-1", a.Event.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Event.ID, taken.Event.ID)

	require.NoError(t, sink.Remove(ctx, "sub-1", b.Event.ID))

	_, err = sink.Take(ctx, "sub-1", a.Event.ID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	err = sink.Remove(ctx, "sub-1", uuid.New())
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	stats := sink.Stats()
	assert.Equal(t, 0, stats.CurrentSize)
	assert.Equal(t, uint64(1), stats.TotalTaken)
	assert.Equal(t, uint64(1), stats.TotalRemoved)
}

func TestMemorySink_Cleanup(t *testing.T) {
	ctx := context.Background()
	clock := delivery.NewMockClock(epoch)
	sink := NewMemorySink(10, clock, zaptest.NewLogger(t))

	require.NoError(t, sink.Add(ctx, newLetter("sub-1", epoch)))
	clock.Advance(time.Hour)
	require.NoError(t, sink.Add(ctx, newLetter("sub-1", epoch)))
	clock.Advance(30 * time.Minute)

	assert.Equal(t, 1, sink.Cleanup(time.Hour))
	assert.Equal(t, 1, sink.Stats().CurrentSize)
}

func setupTestRedis(t *testing.T, maxSize int) (*RedisSink, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := &config.RedisConfig{
		URL:          mr.Addr(),
		PoolSize:     5,
		MinIdleConns: 1,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	sink, err := NewRedisSink(cfg, config.DeadLetterConfig{Backend: "redis", MaxSize: maxSize, Key: "test:dl"}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sink.Close() })

	return sink, mr
}

func TestRedisSink_AddListTrim(t *testing.T) {
	ctx := context.Background()
	sink, mr := setupTestRedis(t, 2)

	letters := []delivery.DeadLetter{
		newLetter("sub-1", epoch),
		newLetter("sub-1", epoch.Add(time.Second)),
		newLetter("sub-2", epoch.Add(2*time.Second)),
	}
	for _, l := range letters {
		require.NoError(t, sink.Add(ctx, l))
	}

	n, err := sink.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	all, err := sink.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, letters[2].Event.ID, all[0].Event.ID)
	assert.Equal(t, letters[1].Event.ID, all[1].Event.ID)
	assert.Equal(t, delivery.StatusFailed, all[0].Result.Status)
	assert.Equal(t, "boom", all[0].Result.Reason)
	assert.JSONEq(t, `{"id":1}`, string(all[0].Event.Payload))

	stored, err := mr.List("test:dl")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRedisSink_SkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	sink, mr := setupTestRedis(t, 10)

	require.NoError(t, sink.Add(ctx, newLetter("sub-1", epoch)))
	_, err := mr.Lpush("test:dl", "not json")
	require.NoError(t, err)

	all, err := sink.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestNewRedisSink_ConnectionFailure(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	addr := mr.Addr()
	mr.Close()

	_, err = NewRedisSink(&config.RedisConfig{URL: addr, DialTimeout: 200 * time.Millisecond}, config.DeadLetterConfig{MaxSize: 1}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis connection failed")
}
