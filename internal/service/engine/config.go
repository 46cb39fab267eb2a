package engine

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/codec"
)

// Config holds the engine settings
type Config struct {
	// MaxConcurrentDeliveries bounds hand-offs to the connection manager across all workers.
	MaxConcurrentDeliveries int `validate:"gt=0"`
	// MaxQueueSize caps the capacity of every subscription queue. Zero means no cap.
	MaxQueueSize int `validate:"gte=0"`
	WorkerCount  int `validate:"gt=0"`

	MetricsInterval time.Duration `validate:"gt=0"`
	// IdleInterval is how long a worker sleeps when no event is ready.
	IdleInterval time.Duration `validate:"gt=0"`
	// BatchFlushInterval is how often time-expired batches are checked.
	BatchFlushInterval time.Duration `validate:"gt=0"`
	// UnavailableRetryDelay is the fixed delay before retrying a delivery to a disconnected plugin.
	UnavailableRetryDelay time.Duration `validate:"gte=0"`

	Pipeline codec.Config
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		MaxConcurrentDeliveries: 100,
		MaxQueueSize:            10000,
		WorkerCount:             4,
		MetricsInterval:         60 * time.Second,
		IdleInterval:            10 * time.Millisecond,
		BatchFlushInterval:      100 * time.Millisecond,
		UnavailableRetryDelay:   5 * time.Second,
		Pipeline:                codec.DefaultConfig(),
	}
}

var configValidator = validator.New()

// Validate checks the configuration
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return ErrInvalidConfig.WithCause(err)
	}
	return nil
}
