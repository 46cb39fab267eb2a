package delivery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

func TestRetryBackoff_Compute(t *testing.T) {
	ms := time.Millisecond

	tests := []struct {
		name    string
		backoff delivery.RetryBackoff
		want    []time.Duration
	}{
		{
			name:    "fixed delay ignores attempt",
			backoff: delivery.FixedBackoff(250 * ms),
			want:    []time.Duration{250 * ms, 250 * ms, 250 * ms},
		},
		{
			name:    "exponential doubles and caps at max",
			backoff: delivery.ExponentialBackoff(100*ms, 1000*ms),
			want:    []time.Duration{100 * ms, 200 * ms, 400 * ms, 800 * ms, 1000 * ms},
		},
		{
			name:    "linear grows by increment",
			backoff: delivery.LinearBackoff(50 * ms),
			want:    []time.Duration{50 * ms, 100 * ms, 150 * ms},
		},
		{
			name:    "custom falls back to one second",
			backoff: delivery.CustomBackoff("jitter"),
			want:    []time.Duration{time.Second, time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for attempt, want := range tt.want {
				assert.Equal(t, want, tt.backoff.Compute(uint32(attempt)), "attempt %d", attempt)
			}
		})
	}
}

func TestRetryBackoff_ExponentialDoesNotOverflow(t *testing.T) {
	b := delivery.ExponentialBackoff(time.Second, time.Hour)

	for _, attempt := range []uint32{20, 62, 63, 64, 1000} {
		assert.Equal(t, time.Hour, b.Compute(attempt), "attempt %d", attempt)
	}
}

func TestBackpressureStrategy_String(t *testing.T) {
	assert.Equal(t, "drop_oldest", delivery.DropOldest(2).Strategy.String())
	assert.Equal(t, "apply_backpressure", delivery.ApplyBackpressure().Strategy.String())
	assert.Equal(t, "unknown", delivery.BackpressureStrategy(42).String())
}
