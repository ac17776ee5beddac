package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"callcore/internal/core/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

// newTestClient connects to CALLCORE_TEST_REDIS (default localhost:6379)
// on a scratch database and skips when no server answers.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis test in short mode")
	}
	addr := os.Getenv("CALLCORE_TEST_REDIS")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	require.NoError(t, client.FlushDB(ctx).Err())
	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})
	return client
}

func TestCallRecord_MsgpackRoundTrip(t *testing.T) {
	ended := time.Now().UTC().Truncate(time.Millisecond)
	in := &domain.CallRecord{
		SessionID:   "s1",
		UserID:      "alice",
		PeerID:      "bob",
		IsInitiator: true,
		StartedAt:   ended.Add(-time.Minute),
		EndedAt:     ended,
		EndReason:   "peer-disconnected",
		Quality:     domain.QualityGood,
		Reconnects:  1,
		Recordings: []domain.RecordingArtifact{
			{ID: "r1", SessionID: "s1", Files: []string{"audio-0.ogg"}, Bytes: 42},
		},
	}

	data, err := msgpack.Marshal(in)
	require.NoError(t, err)

	var out domain.CallRecord
	require.NoError(t, msgpack.Unmarshal(data, &out))
	assert.Equal(t, in.SessionID, out.SessionID)
	assert.True(t, in.EndedAt.Equal(out.EndedAt))
	assert.Equal(t, in.Recordings[0].Files, out.Recordings[0].Files)
	assert.Equal(t, in.Quality, out.Quality)
}

func TestRedisHistoryRepository_SaveGetList(t *testing.T) {
	client := newTestClient(t)
	require.NoError(t, Migrate(context.Background(), client, nil))

	repo := NewRedisHistoryRepository(client, time.Hour)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []domain.SessionID{"a", "b", "c"} {
		require.NoError(t, repo.Save(ctx, &domain.CallRecord{
			SessionID: id,
			StartedAt: now.Add(-time.Hour),
			EndedAt:   now.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := repo.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, domain.SessionID("b"), got.SessionID)

	list, err := repo.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, domain.SessionID("c"), list[0].SessionID)
	assert.Equal(t, domain.SessionID("b"), list[1].SessionID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRecordNotFound)
}

func TestRedisHistoryRepository_PrunesExpiredIndexEntries(t *testing.T) {
	client := newTestClient(t)
	repo := NewRedisHistoryRepository(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Save(ctx, &domain.CallRecord{SessionID: "gone", EndedAt: time.Now()}))
	require.NoError(t, client.Del(ctx, historyKeyPrefix+"gone").Err())

	list, err := repo.List(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	n, err := client.ZCard(ctx, historyIndexKey).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMigrate_SetsSchemaVersion(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.SAdd(ctx, historyIndexKey, "legacy").Err())
	require.NoError(t, Migrate(ctx, client, nil))

	v, err := getSchemaVersion(ctx, client)
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)

	kind, err := client.Type(ctx, historyIndexKey).Result()
	require.NoError(t, err)
	assert.Equal(t, "none", kind)
}
