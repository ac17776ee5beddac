package repositories

import (
	"context"
	"time"

	"callcore/internal/core/ports"
	"callcore/internal/infrastructure/repositories/memory"
	redisrepo "callcore/internal/infrastructure/repositories/redis"
	"callcore/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const connectTimeout = 10 * time.Second

// RepositoryFactory picks the call history backend. Redis is used only when
// enabled and reachable at startup; there is no switch back later.
type RepositoryFactory struct {
	redisClient *redis.Client
	historyTTL  time.Duration
	logger      *zap.SugaredLogger
}

func NewRepositoryFactory(cfg *config.Config, logger *zap.SugaredLogger) (*RepositoryFactory, error) {
	f := &RepositoryFactory{
		historyTTL: cfg.Redis.HistoryTTL,
		logger:     logger,
	}
	if !cfg.Redis.Enabled {
		logger.Infow("call history kept in memory", "capacity", memory.DefaultHistoryCapacity)
		return f, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	client, err := redisrepo.NewClient(ctx, redisrepo.ClientOptions{
		Address:     cfg.Redis.Address,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		PoolSize:    cfg.Redis.PoolSize,
		PingRetries: 2,
	}, logger)
	if err != nil {
		logger.Warnw("call history falls back to memory",
			"address", cfg.Redis.Address,
			"error", err,
		)
		return f, nil
	}
	f.redisClient = client
	return f, nil
}

// CreateHistoryRepository returns a fresh repository over the chosen backend.
// Memory repositories do not share state across calls to this method.
func (f *RepositoryFactory) CreateHistoryRepository() ports.CallHistoryRepository {
	if f.redisClient != nil {
		return redisrepo.NewRedisHistoryRepository(f.redisClient, f.historyTTL)
	}
	return memory.NewMemoryHistoryRepository(memory.DefaultHistoryCapacity)
}

// RedisClient returns the connected client, or nil when running on memory.
func (f *RepositoryFactory) RedisClient() *redis.Client {
	return f.redisClient
}

func (f *RepositoryFactory) Close() error {
	return redisrepo.Close(f.redisClient)
}

// HealthCheck pings Redis; the memory backend is always healthy.
func (f *RepositoryFactory) HealthCheck(ctx context.Context) error {
	if f.redisClient == nil {
		return nil
	}
	return f.redisClient.Ping(ctx).Err()
}
