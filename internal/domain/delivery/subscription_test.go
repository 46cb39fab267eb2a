package delivery_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

func validConfig() delivery.SubscriptionConfig {
	return delivery.NewSubscriptionConfig("plugin-a", "files", delivery.Realtime(),
		delivery.AuthContext{PrincipalID: "user-1"})
}

func TestSubscriptionConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *delivery.SubscriptionConfig)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *delivery.SubscriptionConfig) {},
		},
		{
			name:    "missing plugin id",
			mutate:  func(c *delivery.SubscriptionConfig) { c.PluginID = "" },
			wantErr: true,
		},
		{
			name:    "zero capacity",
			mutate:  func(c *delivery.SubscriptionConfig) { c.DeliveryOptions.MaxEventSize = 0 },
			wantErr: true,
		},
		{
			name:   "batched with size and interval",
			mutate: func(c *delivery.SubscriptionConfig) { c.Type = delivery.Batched(time.Second, 10) },
		},
		{
			name:    "batched without size",
			mutate:  func(c *delivery.SubscriptionConfig) { c.Type = delivery.Batched(time.Second, 0) },
			wantErr: true,
		},
		{
			name: "batched at size limit",
			mutate: func(c *delivery.SubscriptionConfig) {
				c.Type = delivery.Batched(time.Second, delivery.MaxBatchSizeLimit)
			},
		},
		{
			name:    "batched above size limit",
			mutate:  func(c *delivery.SubscriptionConfig) { c.Type = delivery.Batched(time.Second, 1<<50) },
			wantErr: true,
		},
		{
			name: "drop oldest needs max size",
			mutate: func(c *delivery.SubscriptionConfig) {
				c.DeliveryOptions.Backpressure = delivery.DropOldest(0)
			},
			wantErr: true,
		},
		{
			name: "custom backpressure needs handler name",
			mutate: func(c *delivery.SubscriptionConfig) {
				c.DeliveryOptions.Backpressure = delivery.CustomBackpressure("")
			},
			wantErr: true,
		},
		{
			name:    "missing principal",
			mutate:  func(c *delivery.SubscriptionConfig) { c.Auth.PrincipalID = "" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestDeliveryStats_RecordAttempt(t *testing.T) {
	var s delivery.DeliveryStats

	s.RecordAttempt(true, 10*time.Millisecond)
	s.RecordAttempt(false, 30*time.Millisecond)

	assert.Equal(t, uint64(1), s.TotalDelivered)
	assert.Equal(t, uint64(1), s.TotalFailed)
	assert.InDelta(t, 20.0, s.AvgDeliveryTimeMs, 0.001)
	assert.InDelta(t, 0.5, s.SuccessRate, 0.001)
}

func TestDeliveryStats_SetQueueSizeTracksPeak(t *testing.T) {
	var s delivery.DeliveryStats

	s.SetQueueSize(3)
	s.SetQueueSize(1)

	assert.Equal(t, 1, s.QueueSize)
	assert.Equal(t, 3, s.PeakQueueSize)
}
