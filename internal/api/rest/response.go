package rest

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
	"github.com/davidleathers/plugin-event-delivery/internal/service/engine"
)

// ResponseEnvelope wraps all API responses
type ResponseEnvelope struct {
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Meta    ResponseMeta   `json:"meta"`
}

// ResponseMeta contains response metadata
type ResponseMeta struct {
	RequestID string    `json:"request_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// ErrorResponse provides detailed error information
type ErrorResponse struct {
	Code     string                 `json:"code"`
	Message  string                 `json:"message"`
	TraceID  string                 `json:"trace_id,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func (h *Handler) meta(ctx context.Context) ResponseMeta {
	return ResponseMeta{
		RequestID: requestIDFrom(ctx),
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ResponseEnvelope{
		Success: true,
		Data:    data,
		Meta:    h.meta(r.Context()),
	})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, resp := errorResponse(err)
	if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
		resp.TraceID = sc.TraceID().String()
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ResponseEnvelope{
		Success: false,
		Error:   resp,
		Meta:    h.meta(r.Context()),
	})
}

// errorResponse maps errors to a status code and body
func errorResponse(err error) (int, *ErrorResponse) {
	var bp *engine.BackpressureError
	if stderrors.As(err, &bp) {
		return http.StatusTooManyRequests, &ErrorResponse{Code: bp.Code, Message: bp.Message}
	}

	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return statusFor(appErr.Type), &ErrorResponse{
			Code:     appErr.Code,
			Message:  appErr.Message,
			Metadata: appErr.Details,
		}
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if stderrors.As(err, &syntaxErr) || stderrors.As(err, &typeErr) {
		return http.StatusBadRequest, &ErrorResponse{Code: "INVALID_JSON", Message: err.Error()}
	}

	return http.StatusInternalServerError, &ErrorResponse{Code: "INTERNAL_ERROR", Message: "An internal error occurred"}
}

func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeConflict:
		return http.StatusConflict
	case errors.ErrorTypeBackpressure:
		return http.StatusTooManyRequests
	case errors.ErrorTypeSecurity:
		return http.StatusForbidden
	case errors.ErrorTypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
