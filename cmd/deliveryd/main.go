package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/api/rest"
	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/codec"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/config"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/deadletter"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/telemetry"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/transport"
	"github.com/davidleathers/plugin-event-delivery/internal/metrics"
	"github.com/davidleathers/plugin-event-delivery/internal/service/engine"
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadFile(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to setup logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Application failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Starting plugin event delivery daemon",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
	)

	provider, err := telemetry.Setup(ctx, cfg.Telemetry, cfg.Version, cfg.Environment)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Failed to shutdown telemetry", zap.Error(err))
		}
	}()

	instruments, err := metrics.NewRegistry()
	if err != nil {
		return fmt.Errorf("creating metric instruments: %w", err)
	}

	manager := transport.NewManager(transport.OptionsFromConfig(cfg.WebSocket, cfg.Delivery), logger.Named("transport"))
	defer func() { _ = manager.Close() }()

	sink, err := newDeadLetterSink(cfg, logger.Named("deadletter"))
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()

	eng, err := engine.NewEngine(engineConfig(cfg), manager,
		engine.WithLogger(logger.Named("engine")),
		engine.WithDeadLetterSink(sink),
		engine.WithTracer(otel.Tracer("engine")),
		engine.WithMetrics(instruments),
		engine.WithBackpressureHandler(criticalOnlyHandler, admitCriticalOnly),
	)
	if err != nil {
		return fmt.Errorf("creating delivery engine: %w", err)
	}

	if err := prometheus.Register(metrics.NewCollector(eng)); err != nil {
		return fmt.Errorf("registering engine collector: %w", err)
	}
	registerConnectionGauge(manager.ConnectionCount)

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting delivery engine: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      newRouter(cfg, eng, manager, sink, logger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down gracefully")
	case err := <-serveErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if err := eng.Close(shutdownCtx); err != nil {
		return fmt.Errorf("stopping delivery engine: %w", err)
	}

	final := eng.GetMetrics()
	logger.Info("Delivery engine stopped",
		zap.Uint64("events_processed", final.TotalEventsProcessed),
		zap.Uint64("deliveries_completed", final.TotalDeliveriesCompleted),
		zap.Uint64("deliveries_failed", final.TotalDeliveriesFailed),
	)
	return nil
}

// newRouter mounts the plugin connect endpoint, Prometheus metrics and the
// admin API. The connect route bypasses the API middleware so the upgrade can
// hijack the connection.
func newRouter(cfg *config.Config, eng *engine.Engine, manager *transport.Manager, sink deadLetterSink, logger *zap.Logger) http.Handler {
	api := http.NewServeMux()
	rest.NewHandler(eng, sink, logger.Named("api"), cfg.Version).Register(api)

	mux := http.NewServeMux()
	transport.NewHandler(manager, cfg.WebSocket, cfg.Security, logger.Named("transport")).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", InstrumentHTTPHandler("api", rest.Middleware(logger.Named("api"))(api)))
	return mux
}

func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		MaxConcurrentDeliveries: cfg.Delivery.MaxConcurrentDeliveries,
		MaxQueueSize:            cfg.Delivery.MaxQueueSize,
		WorkerCount:             cfg.Delivery.WorkerCount,
		MetricsInterval:         cfg.Delivery.MetricsInterval,
		IdleInterval:            cfg.Delivery.IdleInterval,
		BatchFlushInterval:      cfg.Delivery.BatchFlushInterval,
		UnavailableRetryDelay:   cfg.Delivery.UnavailableRetryDelay,
		Pipeline: codec.Config{
			Format:               codec.Format(cfg.Codec.SerializationFormat),
			EnableCompression:    cfg.Codec.EnableCompression,
			CompressionAlgorithm: codec.CompressionAlgorithm(cfg.Codec.CompressionAlgorithm),
			CompressionThreshold: cfg.Codec.CompressionThreshold,
			EnableEncryption:     cfg.Codec.EnableEncryption,
			EncryptionAlgorithm:  codec.EncryptionAlgorithm(cfg.Codec.EncryptionAlgorithm),
			EncryptionKey:        cfg.Codec.EncryptionKey,
		},
	}
}

// deadLetterSink is what both sink backends offer the daemon
type deadLetterSink interface {
	engine.DeadLetterSink
	rest.DeadLetterStore
	Close() error
}

type memorySink struct {
	*deadletter.MemorySink
}

func (memorySink) Close() error { return nil }

func newDeadLetterSink(cfg *config.Config, logger *zap.Logger) (deadLetterSink, error) {
	switch cfg.DeadLetter.Backend {
	case "redis":
		sink, err := deadletter.NewRedisSink(&cfg.Redis, cfg.DeadLetter, logger)
		if err != nil {
			return nil, fmt.Errorf("creating redis dead letter sink: %w", err)
		}
		return sink, nil
	default:
		return memorySink{deadletter.NewMemorySink(cfg.DeadLetter.MaxSize, nil, logger)}, nil
	}
}

const criticalOnlyHandler = "critical_only"

// admitCriticalOnly lets only critical events past a full queue
func admitCriticalOnly(_ context.Context, _ delivery.QueueInfo, event delivery.Event) bool {
	return event.Priority == delivery.PriorityCritical
}
