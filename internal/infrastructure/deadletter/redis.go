package deadletter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/davidleathers/plugin-event-delivery/internal/domain/delivery"
	"github.com/davidleathers/plugin-event-delivery/internal/infrastructure/config"
)

// RedisSink appends dead letters as JSON to a capped Redis list, newest first
type RedisSink struct {
	client *redis.Client
	logger *zap.Logger
	key    string
	maxLen int64
}

// NewRedisSink connects to Redis and verifies the connection with a ping
func NewRedisSink(cfg *config.RedisConfig, dl config.DeadLetterConfig, logger *zap.Logger) (*RedisSink, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.URL,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	key := dl.Key
	if key == "" {
		key = config.Defaults().DeadLetter.Key
	}

	logger.Info("Redis dead letter sink initialized",
		zap.String("addr", cfg.URL),
		zap.Int("db", cfg.DB),
		zap.String("key", key),
		zap.Int("max_size", dl.MaxSize))

	return &RedisSink{
		client: client,
		logger: logger,
		key:    key,
		maxLen: int64(dl.MaxSize),
	}, nil
}

func (r *RedisSink) Add(ctx context.Context, letter delivery.DeadLetter) error {
	data, err := json.Marshal(letter)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key, data)
	if r.maxLen > 0 {
		pipe.LTrim(ctx, r.key, 0, r.maxLen-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Error("redis dead letter push failed",
			zap.String("key", r.key),
			zap.String("event_id", letter.Event.ID.String()),
			zap.Error(err))
		return fmt.Errorf("redis dead letter push failed: %w", err)
	}
	return nil
}

// List returns up to limit dead letters, newest first. A limit <= 0 returns
// the whole list.
func (r *RedisSink) List(ctx context.Context, limit int) ([]delivery.DeadLetter, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}

	raw, err := r.client.LRange(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis dead letter range failed: %w", err)
	}

	out := make([]delivery.DeadLetter, 0, len(raw))
	for _, item := range raw {
		var letter delivery.DeadLetter
		if err := json.Unmarshal([]byte(item), &letter); err != nil {
			r.logger.Warn("Skipping malformed dead letter", zap.String("key", r.key), zap.Error(err))
			continue
		}
		out = append(out, letter)
	}
	return out, nil
}

func (r *RedisSink) Len(ctx context.Context) (int64, error) {
	n, err := r.client.LLen(ctx, r.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis dead letter length failed: %w", err)
	}
	return n, nil
}

func (r *RedisSink) Close() error {
	return r.client.Close()
}
