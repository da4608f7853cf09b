package server

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	ctx := context.Background()
	s := NewRedisStorage(client)

	val, err := s.Get("sync:alice:/api/v1/calendar/sync")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, s.Set("sync:alice:/api/v1/calendar/sync", []byte("3"), time.Minute))
	require.NoError(t, s.Set("", []byte("ignored"), time.Minute))
	val, err = s.Get("sync:alice:/api/v1/calendar/sync")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)
	assert.True(t, mr.Exists("docketra:limiter:sync:alice:/api/v1/calendar/sync"))

	require.NoError(t, client.Set(ctx, "docketra:runlog:calendar:alice", "{}", 0).Err())
	require.NoError(t, s.Reset())
	assert.False(t, mr.Exists("docketra:limiter:sync:alice:/api/v1/calendar/sync"))
	assert.True(t, mr.Exists("docketra:runlog:calendar:alice"))

	// The client is shared with the run log and must survive Close.
	require.NoError(t, s.Close())
	assert.NoError(t, client.Ping(ctx).Err())
}

func TestSyncLimiterWithRedisStorage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	h := newHarness(t, Config{RateLimitSync: 1, LimiterStorage: NewRedisStorage(client)})
	resp, _ := h.do(t, http.MethodPost, "/api/v1/email/sync", "alice", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = h.do(t, http.MethodPost, "/api/v1/email/sync", "alice", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}
