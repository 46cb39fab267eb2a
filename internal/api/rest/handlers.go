// Package rest exposes the delivery engine over an HTTP admin API.
package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

const maxBodySize = 1 << 20

// Engine is the part of the delivery engine served by the API
type Engine interface {
	RegisterSubscription(cfg delivery.SubscriptionConfig) error
	UnregisterSubscription(id string) error
	QueueEvent(ctx context.Context, subscriptionID string, event delivery.Event) error
	GetSubscriptionStats(id string) (delivery.DeliveryStats, bool)
	GetMetrics() delivery.DeliveryMetrics
	GetQueueInfo() map[string]delivery.QueueInfo
	PluginHealth(ctx context.Context, pluginID string) (*delivery.PluginHealth, bool)
	IsRunning() bool
}

// DeadLetterStore lists permanently failed deliveries
type DeadLetterStore interface {
	List(ctx context.Context, limit int) ([]delivery.DeadLetter, error)
}

// redeliverer is implemented by stores that can hand a dead letter back
type redeliverer interface {
	Take(ctx context.Context, subscriptionID string, eventID uuid.UUID) (delivery.DeadLetter, error)
	Add(ctx context.Context, letter delivery.DeadLetter) error
}

// Handler serves the admin API
type Handler struct {
	engine      Engine
	deadLetters DeadLetterStore
	logger      *zap.Logger
	version     string
}

// NewHandler creates the API handler. deadLetters may be nil.
func NewHandler(engine Engine, deadLetters DeadLetterStore, logger *zap.Logger, version string) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:      engine,
		deadLetters: deadLetters,
		logger:      logger,
		version:     version,
	}
}

// Register mounts the routes on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /v1/subscriptions", h.registerSubscription)
	mux.HandleFunc("DELETE /v1/subscriptions/{id}", h.unregisterSubscription)
	mux.HandleFunc("GET /v1/subscriptions/{id}/stats", h.subscriptionStats)
	mux.HandleFunc("POST /v1/subscriptions/{id}/events", h.queueEvent)
	mux.HandleFunc("GET /v1/queues", h.queues)
	mux.HandleFunc("GET /v1/delivery/metrics", h.metrics)
	mux.HandleFunc("GET /v1/plugins/{id}/health", h.pluginHealth)
	mux.HandleFunc("GET /v1/dead-letters", h.listDeadLetters)
	mux.HandleFunc("POST /v1/dead-letters/{subscription}/{event}/redeliver", h.redeliver)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	state := "ok"
	if !h.engine.IsRunning() {
		status = http.StatusServiceUnavailable
		state = "stopped"
	}
	h.writeJSON(w, r, status, map[string]string{"status": state})
}

func (h *Handler) registerSubscription(w http.ResponseWriter, r *http.Request) {
	cfg := delivery.SubscriptionConfig{
		Type:            delivery.Realtime(),
		DeliveryOptions: delivery.DefaultDeliveryOptions(),
	}
	if err := decode(r, &cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	if cfg.ID == "" {
		cfg.ID = uuid.New().String()
	}

	if err := h.engine.RegisterSubscription(cfg); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusCreated, cfg)
}

func (h *Handler) unregisterSubscription(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.UnregisterSubscription(r.PathValue("id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) subscriptionStats(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	stats, ok := h.engine.GetSubscriptionStats(id)
	if !ok {
		h.writeError(w, r, errors.NewNotFoundError("subscription "+id))
		return
	}
	h.writeJSON(w, r, http.StatusOK, stats)
}

// EventRequest is the body of an event submission
type EventRequest struct {
	EventType     string               `json:"event_type"`
	Priority      string               `json:"priority,omitempty"`
	Source        delivery.EventSource `json:"source"`
	Payload       json.RawMessage      `json:"payload,omitempty"`
	Metadata      map[string]string    `json:"metadata,omitempty"`
	CorrelationID *uuid.UUID           `json:"correlation_id,omitempty"`
}

func (h *Handler) queueEvent(w http.ResponseWriter, r *http.Request) {
	var req EventRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.EventType == "" {
		h.writeError(w, r, errors.NewValidationError("MISSING_EVENT_TYPE", "event_type is required"))
		return
	}
	priority, err := delivery.ParsePriority(req.Priority)
	if err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_PRIORITY", err.Error()))
		return
	}

	event := delivery.NewEvent(req.EventType, req.Source, req.Payload).WithPriority(priority)
	event.Metadata = req.Metadata
	event.CorrelationID = req.CorrelationID

	if err := h.engine.QueueEvent(r.Context(), r.PathValue("id"), event); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusAccepted, map[string]string{"event_id": event.ID.String()})
}

func (h *Handler) queues(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.engine.GetQueueInfo())
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, r, http.StatusOK, h.engine.GetMetrics())
}

func (h *Handler) pluginHealth(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	health, ok := h.engine.PluginHealth(r.Context(), id)
	if !ok {
		h.writeError(w, r, errors.NewNotFoundError("plugin "+id))
		return
	}
	h.writeJSON(w, r, http.StatusOK, health)
}

func (h *Handler) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	if h.deadLetters == nil {
		h.writeJSON(w, r, http.StatusOK, []delivery.DeadLetter{})
		return
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			h.writeError(w, r, errors.NewValidationError("INVALID_LIMIT", "limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	letters, err := h.deadLetters.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, letters)
}

// redeliver takes a dead letter out of the store and queues its event again
// on the same subscription.
func (h *Handler) redeliver(w http.ResponseWriter, r *http.Request) {
	store, ok := h.deadLetters.(redeliverer)
	if !ok {
		h.writeError(w, r, errors.NewValidationError("REDELIVERY_UNSUPPORTED", "dead letter store does not support redelivery"))
		return
	}

	eventID, err := uuid.Parse(r.PathValue("event"))
	if err != nil {
		h.writeError(w, r, errors.NewValidationError("INVALID_EVENT_ID", "event id must be a UUID"))
		return
	}
	subscriptionID := r.PathValue("subscription")

	letter, err := store.Take(r.Context(), subscriptionID, eventID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.engine.QueueEvent(r.Context(), subscriptionID, letter.Event); err != nil {
		h.logger.Warn("Redelivery was not admitted, restoring dead letter",
			zap.String("subscription_id", subscriptionID),
			zap.String("event_id", eventID.String()),
			zap.Error(err),
		)
		if addErr := store.Add(r.Context(), letter); addErr != nil {
			h.logger.Error("Failed to restore dead letter", zap.Error(addErr))
		}
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("Redelivering dead letter",
		zap.String("subscription_id", subscriptionID),
		zap.String("event_id", eventID.String()),
	)
	h.writeJSON(w, r, http.StatusAccepted, map[string]string{"event_id": eventID.String()})
}

func decode(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, maxBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if err == io.EOF {
			return errors.NewValidationError("EMPTY_BODY", "request body is required")
		}
		return err
	}
	return nil
}
