package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/errors"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// RequestIDHeader is echoed back, or generated when the client sent none
const RequestIDHeader = "X-Request-ID"

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware assigns a request id, opens a span, recovers panics and logs
// each request.
func Middleware(logger *zap.Logger) func(http.Handler) http.Handler {
	tracer := otel.Tracer("api.rest")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.New().String()
			}
			w.Header().Set(RequestIDHeader, requestID)

			ctx, span := tracer.Start(r.Context(), fmt.Sprintf("%s %s", r.Method, r.URL.Path),
				trace.WithAttributes(
					attribute.String("http.method", r.Method),
					attribute.String("http.request_id", requestID),
				),
			)
			defer span.End()
			ctx = context.WithValue(ctx, requestIDKey, requestID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				if p := recover(); p != nil {
					logger.Error("Recovered from panic",
						zap.String("request_id", requestID),
						zap.Any("panic", p),
					)
					span.RecordError(errors.NewInternalError(fmt.Sprint(p)))
					http.Error(rec, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}

				span.SetAttributes(attribute.Int("http.status_code", rec.status))
				logger.Debug("Handled request",
					zap.String("request_id", requestID),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", rec.status),
					zap.Duration("duration", time.Since(start)),
				)
			}()

			next.ServeHTTP(rec, r.WithContext(ctx))
		})
	}
}
