package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides. Nested keys are separated
// by a double underscore, e.g. PED_DELIVERY__WORKER_COUNT.
const EnvPrefix = "PED_"

// DefaultPath is the optional config file read by Load
const DefaultPath = "configs/config.yaml"

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level" validate:"oneof=debug info warn warning error"`

	Server     ServerConfig     `koanf:"server"`
	Delivery   DeliveryConfig   `koanf:"delivery"`
	Codec      CodecConfig      `koanf:"codec"`
	DeadLetter DeadLetterConfig `koanf:"dead_letter"`
	Redis      RedisConfig      `koanf:"redis"`
	WebSocket  WebSocketConfig  `koanf:"websocket"`
	Security   SecurityConfig   `koanf:"security"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

type ServerConfig struct {
	Port            int           `koanf:"port" validate:"gt=0,lt=65536"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// DeliveryConfig is the engine's configuration surface
type DeliveryConfig struct {
	MaxConcurrentDeliveries int           `koanf:"max_concurrent_deliveries" validate:"gt=0"`
	DefaultTimeout          time.Duration `koanf:"default_timeout" validate:"gt=0"`
	MaxQueueSize            int           `koanf:"max_queue_size" validate:"gte=0"`
	WorkerCount             int           `koanf:"worker_count" validate:"gt=0"`
	AckTimeout              time.Duration `koanf:"ack_timeout" validate:"gt=0"`
	MetricsInterval         time.Duration `koanf:"metrics_interval" validate:"gt=0"`
	IdleInterval            time.Duration `koanf:"idle_interval" validate:"gt=0"`
	BatchFlushInterval      time.Duration `koanf:"batch_flush_interval" validate:"gt=0"`
	UnavailableRetryDelay   time.Duration `koanf:"unavailable_retry_delay" validate:"gte=0"`
}

type CodecConfig struct {
	SerializationFormat  string `koanf:"serialization_format" validate:"oneof=json cbor protobuf cloudevents msgpack"`
	EnableCompression    bool   `koanf:"enable_compression"`
	CompressionAlgorithm string `koanf:"compression_algorithm" validate:"oneof=none gzip zstd lz4"`
	CompressionThreshold int    `koanf:"compression_threshold" validate:"gte=0"`
	EnableEncryption     bool   `koanf:"enable_encryption"`
	EncryptionAlgorithm  string `koanf:"encryption_algorithm" validate:"oneof=none aes-256-gcm chacha20-poly1305"`
	EncryptionKey        string `koanf:"encryption_key" validate:"required_if=EnableEncryption true"`
}

type DeadLetterConfig struct {
	Backend string `koanf:"backend" validate:"oneof=memory redis"`
	MaxSize int    `koanf:"max_size" validate:"gt=0"`
	Key     string `koanf:"key"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

type WebSocketConfig struct {
	ReadBufferSize  int           `koanf:"read_buffer_size"`
	WriteBufferSize int           `koanf:"write_buffer_size"`
	PingInterval    time.Duration `koanf:"ping_interval" validate:"gt=0"`
	PongTimeout     time.Duration `koanf:"pong_timeout" validate:"gtfield=PingInterval"`
	MaxMessageSize  int64         `koanf:"max_message_size" validate:"gt=0"`
	SendRate        float64       `koanf:"send_rate" validate:"gte=0"`
	SendBurst       int           `koanf:"send_burst" validate:"gte=0"`
}

type SecurityConfig struct {
	JWTSecret   string `koanf:"jwt_secret"`
	RequireAuth bool   `koanf:"require_auth"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	ServiceName  string  `koanf:"service_name"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate" validate:"gte=0,lte=1"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	return &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Delivery: DeliveryConfig{
			MaxConcurrentDeliveries: 100,
			DefaultTimeout:          30 * time.Second,
			MaxQueueSize:            10000,
			WorkerCount:             4,
			AckTimeout:              10 * time.Second,
			MetricsInterval:         60 * time.Second,
			IdleInterval:            10 * time.Millisecond,
			BatchFlushInterval:      100 * time.Millisecond,
			UnavailableRetryDelay:   5 * time.Second,
		},
		Codec: CodecConfig{
			SerializationFormat:  "json",
			CompressionAlgorithm: "gzip",
			CompressionThreshold: 1024,
			EncryptionAlgorithm:  "aes-256-gcm",
		},
		DeadLetter: DeadLetterConfig{
			Backend: "memory",
			MaxSize: 10000,
			Key:     "ped:deadletter",
		},
		Redis: RedisConfig{
			URL:          "localhost:6379",
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			MaxMessageSize:  1 << 20,
			SendRate:        1000,
			SendBurst:       100,
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "plugin-event-delivery",
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Load reads the configuration from DefaultPath and the environment
func Load() (*Config, error) {
	return LoadFile(DefaultPath)
}

// LoadFile layers defaults, the optional YAML file at path and PED_
// environment variables, then validates the result.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKey maps PED_DELIVERY__WORKER_COUNT to delivery.worker_count
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Security.RequireAuth && c.Security.JWTSecret == "" {
		return fmt.Errorf("invalid configuration: security.jwt_secret is required when security.require_auth is set")
	}
	if c.DeadLetter.Backend == "redis" && c.Redis.URL == "" {
		return fmt.Errorf("invalid configuration: redis.url is required for the redis dead letter backend")
	}
	return nil
}
