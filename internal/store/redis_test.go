package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s, err := NewRedisStoreWithClient(context.Background(), client, "test", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

type snapLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (l *snapLog) add(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snaps = append(l.snaps, s)
}

func (l *snapLog) last() (Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.snaps) == 0 {
		return Snapshot{}, false
	}
	return l.snaps[len(l.snaps)-1], true
}

func TestRedisStore_ReadWrite(t *testing.T) {
	ctx := context.Background()
	s, mr := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "thread/t1", titled{"General"}))
	n, err := s.Get(ctx, "thread/t1")
	require.NoError(t, err)
	var th titled
	require.NoError(t, n.Decode(&th))
	assert.Equal(t, "General", th.Title)

	raw, err := mr.Get("test:doc:thread")
	require.NoError(t, err)
	assert.JSONEq(t, `{"t1":{"title":"General"}}`, raw)

	require.NoError(t, s.Remove(ctx, "thread/t1"))
	assert.False(t, mr.Exists("test:doc:thread"))
}

func TestRedisStore_MultiDocumentUpdate(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	require.NoError(t, s.Set(ctx, "messages/t1/m1", map[string]any{"likeCount": 2}))
	require.NoError(t, s.Update(ctx, "", map[string]any{
		"likes/m1/u1":              true,
		"messages/t1/m1/likeCount": Increment(1),
	}))

	n, err := s.Get(ctx, "messages/t1/m1/likeCount")
	require.NoError(t, err)
	var count int
	require.NoError(t, n.Decode(&count))
	assert.Equal(t, 3, count)

	n, err = s.Get(ctx, "likes/m1/u1")
	require.NoError(t, err)
	assert.True(t, n.Exists)
}

func TestRedisStore_Toggle(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	var on bool
	require.NoError(t, s.Update(ctx, "", map[string]any{
		"likes/m1/u1": Toggle{Counter: "messages/t1/m1/likeCount", Result: &on},
	}))
	assert.True(t, on)

	n, err := s.Get(ctx, "messages/t1/m1/likeCount")
	require.NoError(t, err)
	var count int
	require.NoError(t, n.Decode(&count))
	assert.Equal(t, 1, count)

	require.NoError(t, s.Update(ctx, "", map[string]any{
		"likes/m1/u1": Toggle{Counter: "messages/t1/m1/likeCount", Result: &on},
	}))
	assert.False(t, on)
	n, err = s.Get(ctx, "messages/t1/m1/likeCount")
	require.NoError(t, err)
	require.NoError(t, n.Decode(&count))
	assert.Equal(t, 0, count)
}

func TestRedisStore_SubscribeFollowsChanges(t *testing.T) {
	ctx := context.Background()
	s, _ := newRedisStore(t)

	var log snapLog
	h, err := s.Subscribe(ctx, "room", log.add)
	require.NoError(t, err)
	defer h.Close()

	require.Eventually(t, func() bool {
		_, ok := log.last()
		return ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, s.Set(ctx, "room/r1", titled{"Standup"}))
	require.Eventually(t, func() bool {
		snap, _ := log.last()
		return snap.Len() == 1 && snap.Children[0].Key == "r1"
	}, time.Second, 10*time.Millisecond)

	h.Close()
	log.mu.Lock()
	before := len(log.snaps)
	log.mu.Unlock()

	require.NoError(t, s.Set(ctx, "room/r2", titled{"Retro"}))
	time.Sleep(50 * time.Millisecond)
	log.mu.Lock()
	assert.Equal(t, before, len(log.snaps))
	log.mu.Unlock()
}
