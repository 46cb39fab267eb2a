// Package transport delivers serialized events to plugin processes over
// WebSocket connections.
package transport

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/config"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/telemetry"
)

// Options configures the WebSocket manager
type Options struct {
	// WriteTimeout bounds a single frame write
	WriteTimeout time.Duration
	// AckTimeout bounds the wait for a plugin ack. Zero treats a successful
	// write as delivery.
	AckTimeout     time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
	// SendRate limits frames per second per plugin, zero is unlimited
	SendRate  float64
	SendBurst int
}

// OptionsFromConfig derives manager options from the service configuration
func OptionsFromConfig(ws config.WebSocketConfig, d config.DeliveryConfig) Options {
	return Options{
		WriteTimeout:   d.DefaultTimeout,
		AckTimeout:     d.AckTimeout,
		PingInterval:   ws.PingInterval,
		PongTimeout:    ws.PongTimeout,
		MaxMessageSize: ws.MaxMessageSize,
		SendRate:       ws.SendRate,
		SendBurst:      ws.SendBurst,
	}
}

// pluginConn is one live plugin connection
type pluginConn struct {
	pluginID string
	conn     *websocket.Conn
	limiter  *rate.Limiter

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan ClientFrame

	healthMu sync.Mutex
	health   delivery.PluginHealth

	done      chan struct{}
	closeOnce sync.Once
}

func (c *pluginConn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *pluginConn) write(v interface{}, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteJSON(v)
}

func (c *pluginConn) expect(deliveryID string) chan ClientFrame {
	ch := make(chan ClientFrame, 1)
	c.pendingMu.Lock()
	c.pending[deliveryID] = ch
	c.pendingMu.Unlock()
	return ch
}

func (c *pluginConn) forget(deliveryID string) {
	c.pendingMu.Lock()
	delete(c.pending, deliveryID)
	c.pendingMu.Unlock()
}

func (c *pluginConn) resolve(frame ClientFrame) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[frame.DeliveryID]
	delete(c.pending, frame.DeliveryID)
	c.pendingMu.Unlock()
	if ok {
		ch <- frame
	}
	return ok
}

func (c *pluginConn) record(result delivery.DeliveryResult, elapsed time.Duration) {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	c.health.LastActivity = time.Now()
	c.health.ResponseTime = elapsed
	switch result.Status {
	case delivery.StatusSuccess:
		c.health.Status = delivery.PluginConnected
	case delivery.StatusUnavailable:
		c.health.Status = delivery.PluginBusy
		c.health.ErrorCount++
	default:
		c.health.ErrorCount++
	}
}

func (c *pluginConn) touch() {
	c.healthMu.Lock()
	c.health.LastActivity = time.Now()
	c.healthMu.Unlock()
}

// Manager tracks plugin connections and implements the engine's connection
// manager over WebSocket.
type Manager struct {
	logger *zap.Logger
	opts   Options
	tracer trace.Tracer

	mu    sync.RWMutex
	conns map[string]*pluginConn
}

// NewManager creates a manager with no connected plugins
func NewManager(opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		logger: logger,
		opts:   opts,
		tracer: otel.Tracer("transport"),
		conns:  make(map[string]*pluginConn),
	}
}

// Register takes ownership of conn for pluginID. A previous connection of the
// same plugin is closed.
func (m *Manager) Register(pluginID string, conn *websocket.Conn) {
	limit := rate.Inf
	if m.opts.SendRate > 0 {
		limit = rate.Limit(m.opts.SendRate)
	}
	burst := m.opts.SendBurst
	if burst <= 0 {
		burst = 1
	}

	pc := &pluginConn{
		pluginID: pluginID,
		conn:     conn,
		limiter:  rate.NewLimiter(limit, burst),
		pending:  make(map[string]chan ClientFrame),
		health: delivery.PluginHealth{
			Status:       delivery.PluginConnected,
			LastActivity: time.Now(),
		},
		done: make(chan struct{}),
	}

	m.mu.Lock()
	old := m.conns[pluginID]
	m.conns[pluginID] = pc
	m.mu.Unlock()

	if old != nil {
		m.logger.Info("Replacing plugin connection", zap.String("plugin_id", pluginID))
		old.close()
	}

	go m.readPump(pc)
	go m.pingLoop(pc)

	m.logger.Info("Plugin connected",
		zap.String("plugin_id", pluginID),
		zap.String("remote_addr", conn.RemoteAddr().String()),
	)
}

// Unregister closes the plugin's connection, if any
func (m *Manager) Unregister(pluginID string) {
	m.mu.Lock()
	pc, ok := m.conns[pluginID]
	delete(m.conns, pluginID)
	m.mu.Unlock()

	if ok {
		pc.close()
		m.logger.Info("Plugin disconnected", zap.String("plugin_id", pluginID))
	}
}

// remove drops pc only if it is still the plugin's current connection
func (m *Manager) remove(pc *pluginConn) {
	m.mu.Lock()
	if m.conns[pc.pluginID] == pc {
		delete(m.conns, pc.pluginID)
	}
	m.mu.Unlock()
	pc.close()
}

func (m *Manager) lookup(pluginID string) (*pluginConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pc, ok := m.conns[pluginID]
	return pc, ok
}

func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

func (m *Manager) IsPluginConnected(_ context.Context, pluginID string) bool {
	_, ok := m.lookup(pluginID)
	return ok
}

// DeliverEventToPlugin writes the event frame and, when acks are enabled,
// waits for the plugin's answer.
func (m *Manager) DeliverEventToPlugin(ctx context.Context, pluginID string, event *delivery.SerializedEvent) (delivery.DeliveryResult, error) {
	ctx, span := m.tracer.Start(ctx, "Manager.DeliverEventToPlugin",
		trace.WithAttributes(
			attribute.String("plugin.id", pluginID),
			attribute.Int("event.size", len(event.Data)),
		),
	)
	defer span.End()

	pc, ok := m.lookup(pluginID)
	if !ok {
		return delivery.Unavailable(), nil
	}

	if !pc.limiter.Allow() {
		pc.record(delivery.Unavailable(), 0)
		span.SetAttributes(attribute.Bool("rate_limited", true))
		return delivery.Unavailable(), nil
	}

	start := time.Now()
	frame := EventFrame{
		Type:        FrameEvent,
		DeliveryID:  uuid.NewString(),
		AckRequired: m.opts.AckTimeout > 0 && event.Metadata[delivery.MetadataAckEnabled] != "false",
		Event:       event,
		SentAt:      start.UTC(),
	}

	var ack chan ClientFrame
	if frame.AckRequired {
		ack = pc.expect(frame.DeliveryID)
		defer pc.forget(frame.DeliveryID)
	}

	if err := pc.write(frame, m.opts.WriteTimeout); err != nil {
		telemetry.RecordError(span, err)
		telemetry.WithTrace(ctx, m.logger).Warn("Plugin write failed, dropping connection",
			zap.String("plugin_id", pluginID),
			zap.Error(err),
		)
		m.remove(pc)
		return delivery.Unavailable(), nil
	}

	result := delivery.Success()
	if frame.AckRequired {
		result = m.awaitAck(ctx, pc, ack)
	}

	pc.record(result, time.Since(start))
	span.SetAttributes(attribute.String("delivery.status", result.Status.String()))
	return result, nil
}

func (m *Manager) awaitAck(ctx context.Context, pc *pluginConn, ack <-chan ClientFrame) delivery.DeliveryResult {
	timer := time.NewTimer(m.opts.AckTimeout)
	defer timer.Stop()

	select {
	case frame := <-ack:
		return frame.result()
	case <-timer.C:
		return delivery.Timeout()
	case <-ctx.Done():
		return delivery.Timeout()
	case <-pc.done:
		return delivery.Unavailable()
	}
}

func (m *Manager) GetPluginHealth(_ context.Context, pluginID string) (*delivery.PluginHealth, bool) {
	pc, ok := m.lookup(pluginID)
	if !ok {
		return nil, false
	}
	pc.healthMu.Lock()
	defer pc.healthMu.Unlock()
	h := pc.health
	return &h, true
}

// Close disconnects every plugin
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*pluginConn)
	m.mu.Unlock()

	for _, pc := range conns {
		pc.close()
	}
	return nil
}

func (m *Manager) readPump(pc *pluginConn) {
	defer m.remove(pc)

	if m.opts.MaxMessageSize > 0 {
		pc.conn.SetReadLimit(m.opts.MaxMessageSize)
	}
	m.extendReadDeadline(pc)
	pc.conn.SetPongHandler(func(string) error {
		pc.touch()
		m.extendReadDeadline(pc)
		return nil
	})

	for {
		var frame ClientFrame
		if err := pc.conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				m.logger.Warn("Plugin connection read error",
					zap.String("plugin_id", pc.pluginID),
					zap.Error(err),
				)
			}
			return
		}
		m.extendReadDeadline(pc)
		m.handleClientFrame(pc, frame)
	}
}

func (m *Manager) extendReadDeadline(pc *pluginConn) {
	if m.opts.PongTimeout > 0 {
		_ = pc.conn.SetReadDeadline(time.Now().Add(m.opts.PongTimeout))
	}
}

func (m *Manager) handleClientFrame(pc *pluginConn, frame ClientFrame) {
	switch frame.Type {
	case FrameAck:
		if !pc.resolve(frame) {
			m.logger.Debug("Ack for unknown delivery",
				zap.String("plugin_id", pc.pluginID),
				zap.String("delivery_id", frame.DeliveryID),
			)
		}
	case FramePing:
		pc.touch()
		if err := pc.write(ClientFrame{Type: FramePong}, m.opts.WriteTimeout); err != nil {
			m.logger.Debug("Pong write failed", zap.String("plugin_id", pc.pluginID), zap.Error(err))
		}
	default:
		m.logger.Debug("Unknown frame type",
			zap.String("plugin_id", pc.pluginID),
			zap.String("type", frame.Type),
		)
	}
}

func (m *Manager) pingLoop(pc *pluginConn) {
	if m.opts.PingInterval <= 0 {
		return
	}
	ticker := time.NewTicker(m.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			var deadline time.Time
			if m.opts.WriteTimeout > 0 {
				deadline = time.Now().Add(m.opts.WriteTimeout)
			}
			pc.writeMu.Lock()
			err := pc.conn.WriteControl(websocket.PingMessage, nil, deadline)
			pc.writeMu.Unlock()
			if err != nil {
				m.logger.Debug("Ping failed", zap.String("plugin_id", pc.pluginID), zap.Error(err))
				m.remove(pc)
				return
			}
		case <-pc.done:
			return
		}
	}
}
