package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
)

// fakeConnections records delivered events and answers with respond
type fakeConnections struct {
	mu        sync.Mutex
	connected map[string]bool
	respond   func(event delivery.Event) (delivery.DeliveryResult, error)
	delivered []delivery.Event
	attempts  int
}

func newFakeConnections(plugins ...string) *fakeConnections {
	f := &fakeConnections{connected: make(map[string]bool)}
	for _, p := range plugins {
		f.connected[p] = true
	}
	return f
}

func (f *fakeConnections) setConnected(pluginID string, connected bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected[pluginID] = connected
}

func (f *fakeConnections) setResponder(fn func(event delivery.Event) (delivery.DeliveryResult, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = fn
}

func (f *fakeConnections) IsPluginConnected(_ context.Context, pluginID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected[pluginID]
}

func (f *fakeConnections) DeliverEventToPlugin(_ context.Context, _ string, event *delivery.SerializedEvent) (delivery.DeliveryResult, error) {
	var decoded delivery.Event
	if err := json.Unmarshal(event.Data, &decoded); err != nil {
		return delivery.Failed(err.Error()), nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.respond != nil {
		result, err := f.respond(decoded)
		if err != nil || result.Status != delivery.StatusSuccess {
			return result, err
		}
	}
	f.delivered = append(f.delivered, decoded)
	return delivery.Success(), nil
}

func (f *fakeConnections) GetPluginHealth(_ context.Context, pluginID string) (*delivery.PluginHealth, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected[pluginID] {
		return &delivery.PluginHealth{Status: delivery.PluginDisconnected}, true
	}
	return &delivery.PluginHealth{Status: delivery.PluginConnected}, true
}

func (f *fakeConnections) deliveredEvents() []delivery.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]delivery.Event, len(f.delivered))
	copy(out, f.delivered)
	return out
}

func (f *fakeConnections) attemptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// recordingConnections keeps the serialized events handed to the transport
type recordingConnections struct {
	mu   sync.Mutex
	sent []*delivery.SerializedEvent
}

func (r *recordingConnections) IsPluginConnected(context.Context, string) bool { return true }

func (r *recordingConnections) DeliverEventToPlugin(_ context.Context, _ string, event *delivery.SerializedEvent) (delivery.DeliveryResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, event)
	return delivery.Success(), nil
}

func (r *recordingConnections) GetPluginHealth(context.Context, string) (*delivery.PluginHealth, bool) {
	return &delivery.PluginHealth{Status: delivery.PluginConnected}, true
}

func (r *recordingConnections) sentEvents() []*delivery.SerializedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*delivery.SerializedEvent(nil), r.sent...)
}

// gatedConnections holds every delivery until release is closed
type gatedConnections struct {
	recordingConnections
	entered chan struct{}
	release chan struct{}
}

func newGatedConnections() *gatedConnections {
	return &gatedConnections{entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gatedConnections) DeliverEventToPlugin(ctx context.Context, pluginID string, event *delivery.SerializedEvent) (delivery.DeliveryResult, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-g.release
	return g.recordingConnections.DeliverEventToPlugin(ctx, pluginID, event)
}

// MockDeadLetterSink mock for tests
type MockDeadLetterSink struct {
	mock.Mock
}

func (m *MockDeadLetterSink) Add(ctx context.Context, letter delivery.DeadLetter) error {
	args := m.Called(ctx, letter)
	return args.Error(0)
}
