// Package dedupe remembers Nop tokens so that a Nop retried by a client or
// re-proposed after a leader change is appended to the log only once.
package dedupe

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Deduplicator records tokens.
type Deduplicator interface {
	// FirstSeen records token and reports whether it was new.
	FirstSeen(ctx context.Context, token uint64) (bool, error)
	// Forget drops token so a retry of a proposal that never reached the
	// log is not mistaken for a duplicate.
	Forget(ctx context.Context, token uint64) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is "memory" (default) or "redis".
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	Redis   RedisConfig   `yaml:"redis"`
}

// DefaultConfig keeps tokens in memory for ten minutes.
func DefaultConfig() Config {
	return Config{
		Backend: "memory",
		TTL:     10 * time.Minute,
		Redis:   DefaultRedisConfig(),
	}
}

// New creates the configured backend.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (Deduplicator, error) {
	switch cfg.Backend {
	case "", "memory":
		logger.Info("Using in-memory nop dedupe", zap.Duration("ttl", cfg.TTL))
		return NewMemory(cfg.TTL), nil
	case "redis":
		logger.Info("Using redis nop dedupe",
			zap.String("address", cfg.Redis.Address),
			zap.String("key_prefix", cfg.Redis.KeyPrefix),
			zap.Duration("ttl", cfg.TTL))
		return NewRedis(ctx, cfg.Redis, cfg.TTL)
	default:
		return nil, fmt.Errorf("unsupported dedupe backend: %s", cfg.Backend)
	}
}

func tokenKey(token uint64) string {
	return fmt.Sprintf("nop:%d", token)
}
