package engine

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/codec"
	"github.com/davidleathers/plugin-event-delivery/internal/metrics"
)

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the engine logger. The default discards logs.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithPipeline replaces the pipeline built from Config.Pipeline
func WithPipeline(p *codec.Pipeline) Option {
	return func(e *Engine) {
		e.pipeline = p
	}
}

// WithDeadLetterSink sets where permanently failed events go
func WithDeadLetterSink(sink DeadLetterSink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.deadLetters = sink
		}
	}
}

// WithTracer sets the tracer used for delivery spans
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMetrics sets the OpenTelemetry instruments
func WithMetrics(r *metrics.Registry) Option {
	return func(e *Engine) {
		e.instruments = r
	}
}

// WithClock sets the time source, mainly for tests
func WithClock(clock delivery.Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithBackpressureHandler registers a named handler for the custom backpressure strategy
func WithBackpressureHandler(name string, h BackpressureHandler) Option {
	return func(e *Engine) {
		e.handlers[name] = h
	}
}
