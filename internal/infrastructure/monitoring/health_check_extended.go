package monitoring

import (
	"context"
	"fmt"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// AddRedisCheck adds a Redis health check
func (h *HealthChecker) AddRedisCheck(client redis.UniversalClient, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if err := client.Ping(ctx).Err(); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddHistoryCheck verifies the call history store answers a list query.
func (h *HealthChecker) AddHistoryCheck(repo ports.CallHistoryRepository, interval, timeout time.Duration) {
	h.AddCheck("history", func(ctx context.Context) (bool, error) {
		if _, err := repo.List(ctx, 1); err != nil {
			return false, err
		}
		return true, nil
	}, interval, timeout)
}

// AddSignalingCheck reports unhealthy once the signaling channel has given
// up reconnecting or was closed.
func (h *HealthChecker) AddSignalingCheck(state func() domain.SignalingState, interval time.Duration) {
	h.AddCheck("signaling", func(context.Context) (bool, error) {
		switch s := state(); s {
		case domain.SignalingExhausted, domain.SignalingClosed:
			return false, fmt.Errorf("signaling %s", s)
		}
		return true, nil
	}, interval, 0)
}
