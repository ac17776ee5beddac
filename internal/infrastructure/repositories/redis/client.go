package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"callcore/pkg/retry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ClientOptions selects the history store. A call client keeps few
// connections open; PoolSize below 1 means 2.
type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	// PingRetries bounds how often the first ping is repeated before the
	// caller gives up and falls back to memory.
	PingRetries int
}

// NewClient dials Redis, waits for it to answer a ping and brings the
// history schema up to date. The client is closed on any failure.
func NewClient(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	if opts.Address == "" {
		return nil, errors.New("redis address is empty")
	}
	poolSize := opts.PoolSize
	if poolSize < 1 {
		poolSize = 2
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Address,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     poolSize,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	policy := retry.DefaultConfig()
	policy.MaxAttempts = opts.PingRetries
	policy.InitialDelay = 200 * time.Millisecond
	policy.MaxDelay = time.Second

	err := retry.Retry(ctx, policy, func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	})
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Address, err)
	}

	if err := Migrate(ctx, client, logger); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate call history schema: %w", err)
	}

	if logger != nil {
		logger.Infow("call history store connected", "address", opts.Address, "db", opts.DB)
	}
	return client, nil
}

// Close is nil-safe.
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
