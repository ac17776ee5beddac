package redis

import (
	"context"
	"fmt"
	"time"

	"callcore/internal/core/domain"
	"callcore/internal/core/ports"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	historyKeyPrefix = "callcore:call:"
	historyIndexKey  = "callcore:calls"
)

// RedisHistoryRepository stores msgpack-encoded call records with a TTL
// and indexes them in a sorted set scored by end time.
type RedisHistoryRepository struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisHistoryRepository(client redis.UniversalClient, ttl time.Duration) ports.CallHistoryRepository {
	return &RedisHistoryRepository{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisHistoryRepository) recordKey(id domain.SessionID) string {
	return historyKeyPrefix + string(id)
}

func (r *RedisHistoryRepository) Save(ctx context.Context, record *domain.CallRecord) error {
	data, err := msgpack.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal call record: %w", err)
	}

	ended := record.EndedAt
	if ended.IsZero() {
		ended = time.Now()
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.recordKey(record.SessionID), data, r.ttl)
	pipe.ZAdd(ctx, historyIndexKey, redis.Z{
		Score:  float64(ended.UnixMilli()),
		Member: string(record.SessionID),
	})
	if r.ttl > 0 {
		cutoff := time.Now().Add(-r.ttl).UnixMilli()
		pipe.ZRemRangeByScore(ctx, historyIndexKey, "-inf", fmt.Sprintf("(%d", cutoff))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save call record: %w", err)
	}
	return nil
}

func (r *RedisHistoryRepository) Get(ctx context.Context, id domain.SessionID) (*domain.CallRecord, error) {
	data, err := r.client.Get(ctx, r.recordKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}

	var record domain.CallRecord
	if err := msgpack.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal call record: %w", err)
	}
	return &record, nil
}

// List returns up to limit records, newest first. Index entries whose
// record has expired are pruned.
func (r *RedisHistoryRepository) List(ctx context.Context, limit int) ([]*domain.CallRecord, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := r.client.ZRevRange(ctx, historyIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list call history: %w", err)
	}
	if len(ids) == 0 {
		return []*domain.CallRecord{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.recordKey(domain.SessionID(id))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load call records: %w", err)
	}

	records := make([]*domain.CallRecord, 0, len(values))
	var stale []interface{}
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var record domain.CallRecord
		if err := msgpack.Unmarshal([]byte(s), &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal call record %s: %w", ids[i], err)
		}
		records = append(records, &record)
	}

	if len(stale) > 0 {
		r.client.ZRem(ctx, historyIndexKey, stale...)
	}
	return records, nil
}
