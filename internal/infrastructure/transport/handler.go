package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/config"
)

// ConnectPath is the route plugins dial, with the plugin id as path value
const ConnectPath = "GET /plugins/{id}/connect"

// Handler upgrades plugin connections and hands them to the Manager
type Handler struct {
	manager  *Manager
	logger   *zap.Logger
	tracer   trace.Tracer
	upgrader websocket.Upgrader
	secret   []byte
}

// NewHandler creates the connect handler. Connections are authenticated with
// an HS256 token whose subject is the plugin id when a JWT secret is set.
func NewHandler(manager *Manager, ws config.WebSocketConfig, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		manager: manager,
		logger:  logger,
		tracer:  otel.Tracer("transport.handler"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  ws.ReadBufferSize,
			WriteBufferSize: ws.WriteBufferSize,
			// plugins are local processes, not browsers
			CheckOrigin: func(*http.Request) bool { return true },
		},
		secret: []byte(sec.JWTSecret),
	}
}

// Register mounts the handler on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle(ConnectPath, h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	pluginID := r.PathValue("id")
	ctx, span := h.tracer.Start(r.Context(), "Handler.connect",
		trace.WithAttributes(attribute.String("plugin.id", pluginID)),
	)
	defer span.End()

	if pluginID == "" {
		writeError(w, http.StatusBadRequest, errors.NewValidationError("MISSING_PLUGIN_ID", "plugin id is required"))
		return
	}

	if len(h.secret) > 0 {
		if err := h.authenticate(r, pluginID); err != nil {
			span.RecordError(err)
			h.logger.Warn("Rejected plugin connection",
				zap.String("plugin_id", pluginID),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			status := http.StatusUnauthorized
			if errors.CodeOf(err) == "PLUGIN_MISMATCH" {
				status = http.StatusForbidden
			}
			writeError(w, status, err)
			return
		}
	}

	conn, err := h.upgrader.Upgrade(w, r.WithContext(ctx), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		span.RecordError(err)
		h.logger.Warn("WebSocket upgrade failed", zap.String("plugin_id", pluginID), zap.Error(err))
		return
	}

	h.manager.Register(pluginID, conn)
}

func (h *Handler) authenticate(r *http.Request, pluginID string) error {
	raw := bearerToken(r)
	if raw == "" {
		return errors.NewSecurityError("MISSING_TOKEN", "missing plugin token")
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return h.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return errors.NewSecurityError("INVALID_TOKEN", "invalid or expired plugin token").WithCause(err)
	}

	if claims.Subject != pluginID {
		return errors.NewSecurityError("PLUGIN_MISMATCH", "token was not issued for this plugin").
			WithDetails(map[string]interface{}{"plugin_id": pluginID})
	}
	return nil
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for clients that cannot set headers on the upgrade.
func bearerToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

// IssueToken signs a plugin token for pluginID valid for ttl
func IssueToken(secret []byte, pluginID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   pluginID,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"code":  errors.CodeOf(err),
		"error": err.Error(),
	})
}
