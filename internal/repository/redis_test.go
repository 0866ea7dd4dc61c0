package repository

import (
	"context"
	"testing"

	"salesync/internal/config"
	"salesync/internal/models"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisTaskRegistry(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	defer client.Close()

	repo := NewRedisTaskRegistry(client, "")
	ctx := context.Background()

	t.Run("RegisterOnce", func(t *testing.T) {
		added, err := repo.Register(ctx, models.BackgroundSyncTag)
		require.NoError(t, err)
		assert.True(t, added)

		added, err = repo.Register(ctx, models.BackgroundSyncTag)
		require.NoError(t, err)
		assert.False(t, added)

		members, err := s.Members(models.BackgroundTagsKey)
		require.NoError(t, err)
		assert.Equal(t, []string{models.BackgroundSyncTag}, members)
	})

	t.Run("IsRegistered", func(t *testing.T) {
		ok, err := repo.IsRegistered(ctx, models.BackgroundSyncTag)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.IsRegistered(ctx, "other")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Unregister", func(t *testing.T) {
		require.NoError(t, repo.Unregister(ctx, models.BackgroundSyncTag))
		ok, err := repo.IsRegistered(ctx, models.BackgroundSyncTag)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("ServerDown", func(t *testing.T) {
		s.SetError("LOADING")
		defer s.SetError("")

		_, err := repo.Register(ctx, models.BackgroundSyncTag)
		assert.Error(t, err)
	})
}

func TestRedisHelpers(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := NewRedisClient(config.RedisConfig{Address: s.Addr(), PoolSize: 2})
	assert.NoError(t, Ping(context.Background(), client))
	assert.NoError(t, Close(client))
	assert.NoError(t, Close(nil))
}

func TestRedisTaskRegistry_NilClient(t *testing.T) {
	repo := &RedisTaskRegistry{key: models.BackgroundTagsKey}
	_, err := repo.Register(context.Background(), "x")
	assert.Error(t, err)
	assert.Error(t, repo.Unregister(context.Background(), "x"))
}
