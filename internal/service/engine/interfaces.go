package engine

import (
	"context"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// ConnectionManager transmits serialized events to plugin processes
type ConnectionManager interface {
	// IsPluginConnected reports whether the plugin can currently receive events
	IsPluginConnected(ctx context.Context, pluginID string) bool
	// DeliverEventToPlugin sends the event. The returned result is the
	// delivery outcome; an error is treated as a Failed outcome.
	DeliverEventToPlugin(ctx context.Context, pluginID string, event *delivery.SerializedEvent) (delivery.DeliveryResult, error)
	// GetPluginHealth returns the last known health of the plugin
	GetPluginHealth(ctx context.Context, pluginID string) (*delivery.PluginHealth, bool)
}

// DeadLetterSink receives events that failed permanently
type DeadLetterSink interface {
	Add(ctx context.Context, letter delivery.DeadLetter) error
}

// BackpressureHandler decides admission for subscriptions using the custom
// backpressure strategy. It runs while the engine state is locked and must
// not call back into the engine.
type BackpressureHandler func(ctx context.Context, queue delivery.QueueInfo, event delivery.Event) bool

type discardSink struct{}

func (discardSink) Add(context.Context, delivery.DeadLetter) error { return nil }
