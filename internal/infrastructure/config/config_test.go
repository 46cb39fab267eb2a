package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile_Defaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, Defaults(), cfg)
	assert.Equal(t, 100, cfg.Delivery.MaxConcurrentDeliveries)
	assert.Equal(t, 30*time.Second, cfg.Delivery.DefaultTimeout)
	assert.Equal(t, 10000, cfg.Delivery.MaxQueueSize)
	assert.Equal(t, 4, cfg.Delivery.WorkerCount)
	assert.Equal(t, 10*time.Second, cfg.Delivery.AckTimeout)
	assert.Equal(t, "json", cfg.Codec.SerializationFormat)
	assert.Equal(t, 1024, cfg.Codec.CompressionThreshold)
	assert.False(t, cfg.Codec.EnableCompression)
	assert.False(t, cfg.Codec.EnableEncryption)
}

func TestLoadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log_level: debug
delivery:
  worker_count: 8
  max_queue_size: 500
  default_timeout: 5s
codec:
  serialization_format: cbor
  enable_compression: true
  compression_algorithm: zstd
dead_letter:
  backend: redis
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Delivery.WorkerCount)
	assert.Equal(t, 500, cfg.Delivery.MaxQueueSize)
	assert.Equal(t, 5*time.Second, cfg.Delivery.DefaultTimeout)
	assert.Equal(t, "cbor", cfg.Codec.SerializationFormat)
	assert.True(t, cfg.Codec.EnableCompression)
	assert.Equal(t, "zstd", cfg.Codec.CompressionAlgorithm)
	assert.Equal(t, "redis", cfg.DeadLetter.Backend)

	// untouched keys keep their defaults
	assert.Equal(t, 100, cfg.Delivery.MaxConcurrentDeliveries)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFile_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("delivery:\n  worker_count: 8\n"), 0o600))

	t.Setenv("PED_DELIVERY__WORKER_COUNT", "16")
	t.Setenv("PED_LOG_LEVEL", "warn")
	t.Setenv("PED_CODEC__ENABLE_ENCRYPTION", "true")
	t.Setenv("PED_CODEC__ENCRYPTION_KEY", "secret")

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 16, cfg.Delivery.WorkerCount)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.True(t, cfg.Codec.EnableEncryption)
	assert.Equal(t, "secret", cfg.Codec.EncryptionKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			modify: func(*Config) {},
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Delivery.WorkerCount = 0 },
			wantErr: "WorkerCount",
		},
		{
			name:    "unknown format",
			modify:  func(c *Config) { c.Codec.SerializationFormat = "xml" },
			wantErr: "SerializationFormat",
		},
		{
			name:    "unknown compression",
			modify:  func(c *Config) { c.Codec.CompressionAlgorithm = "brotli" },
			wantErr: "CompressionAlgorithm",
		},
		{
			name:    "encryption without key",
			modify:  func(c *Config) { c.Codec.EnableEncryption = true },
			wantErr: "EncryptionKey",
		},
		{
			name:    "auth without secret",
			modify:  func(c *Config) { c.Security.RequireAuth = true },
			wantErr: "jwt_secret",
		},
		{
			name: "redis backend without url",
			modify: func(c *Config) {
				c.DeadLetter.Backend = "redis"
				c.Redis.URL = ""
			},
			wantErr: "redis.url",
		},
		{
			name:    "pong timeout shorter than ping interval",
			modify:  func(c *Config) { c.WebSocket.PongTimeout = time.Second },
			wantErr: "PongTimeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "delivery.worker_count", envKey("PED_DELIVERY__WORKER_COUNT"))
	assert.Equal(t, "log_level", envKey("PED_LOG_LEVEL"))
}
