package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) *RedisStore {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	cfg := DefaultRedisConfig()
	cfg.Addr = mr.Addr()

	s, err := NewRedis(cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestNewRedis_ConnectionFailure(t *testing.T) {
	cfg := DefaultRedisConfig()
	cfg.Addr = "localhost:1" // nothing listens here

	s, err := NewRedis(cfg, zap.NewNop())
	assert.Nil(t, s)
	assert.Error(t, err)
}

func TestRedisStore_PutGet(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "models/a@1", []byte("payload")))

	got, err := s.Get(ctx, "models/a@1")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestRedisStore_GetMissing(t *testing.T) {
	s := setupTestRedis(t)

	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Delete(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k1", []byte("v1")))
	require.NoError(t, s.Put(ctx, "k2", []byte("v2")))

	require.NoError(t, s.Delete(ctx, "k1", "k2", "k3"))

	_, err := s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrNotFound)

	// Empty delete is a no-op.
	require.NoError(t, s.Delete(ctx))
}

func TestRedisStore_Keys(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "models/a@1", []byte("x")))
	require.NoError(t, s.Put(ctx, "models/b@1", []byte("y")))
	require.NoError(t, s.Put(ctx, "other/c@1", []byte("z")))

	keys, err := s.Keys(ctx, "models/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"models/a@1", "models/b@1"}, keys)
}

func TestRedisStore_Overwrite(t *testing.T) {
	s := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "k", []byte("old")))
	require.NoError(t, s.Put(ctx, "k", []byte("new")))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), got)
}
