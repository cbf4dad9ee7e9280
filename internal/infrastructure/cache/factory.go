package cache

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/offerbook/dedup/internal/domain/shared"
	"github.com/offerbook/dedup/internal/infrastructure/config"
)

// IdempotencyStoreFactory builds the idempotency store from configuration.
// Redis is preferred; when it is unreachable and not required, the factory
// degrades to an in-memory store.
type IdempotencyStoreFactory struct {
	redisConfig   config.RedisConfig
	logger        *zap.Logger
	redisRequired bool
}

// IdempotencyStoreFactoryOption configures the factory.
type IdempotencyStoreFactoryOption func(*IdempotencyStoreFactory)

// WithLogger sets the logger for the factory
func WithLogger(logger *zap.Logger) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.logger = logger
	}
}

// WithRedisRequired makes an unreachable Redis a startup failure instead of
// a fallback. Multi-instance deployments need this; an in-memory store does
// not share claims, so two pollers could process the same batch.
func WithRedisRequired(required bool) IdempotencyStoreFactoryOption {
	return func(f *IdempotencyStoreFactory) {
		f.redisRequired = required
	}
}

// NewIdempotencyStoreFactory creates a new factory
func NewIdempotencyStoreFactory(cfg config.RedisConfig, opts ...IdempotencyStoreFactoryOption) *IdempotencyStoreFactory {
	f := &IdempotencyStoreFactory{
		redisConfig: cfg,
		logger:      zap.NewNop(),
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// CreateStore connects to Redis, or hands back an in-memory store when
// Redis is unreachable and not required.
func (f *IdempotencyStoreFactory) CreateStore() (shared.IdempotencyStore, error) {
	store, err := NewRedisIdempotencyStore(RedisConfig{
		Host:     f.redisConfig.Host,
		Port:     f.redisConfig.Port,
		Password: f.redisConfig.Password,
		DB:       f.redisConfig.DB,
	})
	if err == nil {
		f.logger.Info("Using Redis idempotency store")
		return store, nil
	}

	if f.redisRequired {
		return nil, fmt.Errorf("redis idempotency store: %w", err)
	}

	f.logger.Warn("Redis unavailable, using in-memory idempotency store; "+
		"claims and processed-event marks will not be shared across instances",
		zap.Error(err),
	)
	return NewInMemoryIdempotencyStore(), nil
}
