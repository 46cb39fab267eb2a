package rest

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// MockEngine mock for tests
type MockEngine struct {
	mock.Mock
}

func (m *MockEngine) RegisterSubscription(cfg delivery.SubscriptionConfig) error {
	args := m.Called(cfg)
	return args.Error(0)
}

func (m *MockEngine) UnregisterSubscription(id string) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockEngine) QueueEvent(ctx context.Context, subscriptionID string, event delivery.Event) error {
	args := m.Called(ctx, subscriptionID, event)
	return args.Error(0)
}

func (m *MockEngine) GetSubscriptionStats(id string) (delivery.DeliveryStats, bool) {
	args := m.Called(id)
	return args.Get(0).(delivery.DeliveryStats), args.Bool(1)
}

func (m *MockEngine) GetMetrics() delivery.DeliveryMetrics {
	args := m.Called()
	return args.Get(0).(delivery.DeliveryMetrics)
}

func (m *MockEngine) GetQueueInfo() map[string]delivery.QueueInfo {
	args := m.Called()
	return args.Get(0).(map[string]delivery.QueueInfo)
}

func (m *MockEngine) PluginHealth(ctx context.Context, pluginID string) (*delivery.PluginHealth, bool) {
	args := m.Called(ctx, pluginID)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*delivery.PluginHealth), args.Bool(1)
}

func (m *MockEngine) IsRunning() bool {
	args := m.Called()
	return args.Bool(0)
}
