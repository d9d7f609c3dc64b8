package auditlog

import (
	"context"
	"testing"
	"time"

	"github.com/MrEthical07/authcore"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStreamStore(t *testing.T) (*RedisStreamStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStreamStore(client, ""), mr
}

func TestRedisStreamRecordAndRange(t *testing.T) {
	store, _ := newStreamStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Record(ctx, sampleEvent("e-1", authcore.ActionLogin, at)))
	require.NoError(t, store.Record(ctx, sampleEvent("e-2", authcore.ActionReuseDetected, at.Add(time.Second))))

	events, err := store.Range(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "e-1", events[0].ID)
	assert.Equal(t, at, events[0].Timestamp)
	assert.True(t, events[0].Success)
	assert.Equal(t, authcore.ActionReuseDetected, events[1].Action)
	assert.Equal(t, "2", events[1].Metadata["generation"])
}

func TestRedisStreamUsesDefaultKey(t *testing.T) {
	store, mr := newStreamStore(t)
	require.NoError(t, store.Record(context.Background(), sampleEvent("e-1", authcore.ActionLogin, time.Now())))

	assert.True(t, mr.Exists(DefaultStream))
}

func TestRedisStreamFailureIsReported(t *testing.T) {
	store, mr := newStreamStore(t)
	mr.SetError("ERR backend down")

	err := store.Record(context.Background(), sampleEvent("e-1", authcore.ActionLogin, time.Now()))
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}
