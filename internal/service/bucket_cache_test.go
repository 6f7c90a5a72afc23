package service

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

func TestBucketCacheRoundTrip(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	cache := NewBucketCache(redisClient, "test:bucket", time.Minute, testLogger())
	ctx := context.Background()

	first := time.Date(2023, 2, 1, 12, 0, 0, 0, time.UTC)
	bucket := models.ChatBucket{
		ID:        "bucket-a",
		ChannelID: "general",
		Chat: datatypes.JSONSlice[models.ChatMessage]{
			{ID: 0, Type: models.ChatTypeText, Content: "hello", SenderID: "user-1", CreatedAt: first, UpdatedAt: first},
		},
		FirstChatTime: first,
		LastChatTime:  first,
	}

	_, ok := cache.Get(ctx, "bucket-a")
	require.False(t, ok)

	cache.Set(ctx, bucket)

	cached, ok := cache.Get(ctx, "bucket-a")
	require.True(t, ok)
	require.Equal(t, "general", cached.ChannelID)
	require.Len(t, cached.Chat, 1)
	require.Equal(t, "hello", cached.Chat[0].Content)

	cache.Invalidate(ctx, "bucket-a")
	_, ok = cache.Get(ctx, "bucket-a")
	require.False(t, ok)
}

func TestBucketCacheDropsUndecodableEntry(t *testing.T) {
	server, err := miniredis.Run()
	require.NoError(t, err)
	defer server.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer redisClient.Close()

	cache := NewBucketCache(redisClient, "test:bucket", time.Minute, testLogger())
	require.NoError(t, server.Set("test:bucket:bucket-a", "not json"))

	_, ok := cache.Get(context.Background(), "bucket-a")
	require.False(t, ok)
	require.False(t, server.Exists("test:bucket:bucket-a"), "corrupt entry is evicted")
}

func TestBucketCacheNilClientAlwaysMisses(t *testing.T) {
	cache := NewBucketCache(nil, "", 0, testLogger())
	ctx := context.Background()

	cache.Set(ctx, models.ChatBucket{ID: "bucket-a"})
	_, ok := cache.Get(ctx, "bucket-a")
	require.False(t, ok)
	cache.Invalidate(ctx, "bucket-a")
}
