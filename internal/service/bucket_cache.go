package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
	"github.com/boostcampwm-2022/web24-Asniti/internal/observability"
)

// BucketCache keeps recently served chat buckets in Redis so history pages do
// not hit the database on every scroll. Mutating operations invalidate the
// affected bucket; the TTL bounds staleness when an invalidation is lost.
type BucketCache struct {
	redis  *redis.Client
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewBucketCache constructs a bucket cache. A nil redis client yields a cache
// that always misses, which keeps the read path usable in tests and
// single-binary deployments without Redis.
func NewBucketCache(redisClient *redis.Client, prefix string, ttl time.Duration, logger zerolog.Logger) *BucketCache {
	if prefix == "" {
		prefix = "asniti:chat:bucket"
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	return &BucketCache{
		redis:  redisClient,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "bucket_cache").Logger(),
	}
}

func (c *BucketCache) key(bucketID string) string {
	return fmt.Sprintf("%s:%s", c.prefix, bucketID)
}

// Get returns the cached bucket and whether it was present.
func (c *BucketCache) Get(ctx context.Context, bucketID string) (models.ChatBucket, bool) {
	if c == nil || c.redis == nil {
		return models.ChatBucket{}, false
	}

	raw, err := c.redis.Get(ctx, c.key(bucketID)).Result()
	if err != nil {
		observability.BucketCacheLookups().WithLabelValues("miss").Inc()
		return models.ChatBucket{}, false
	}

	var bucket models.ChatBucket
	if err := json.Unmarshal([]byte(raw), &bucket); err != nil {
		c.logger.Warn().Err(err).Str("bucket_id", bucketID).Msg("dropping undecodable cached bucket")
		_ = c.redis.Del(ctx, c.key(bucketID)).Err()
		observability.BucketCacheLookups().WithLabelValues("miss").Inc()
		return models.ChatBucket{}, false
	}

	observability.BucketCacheLookups().WithLabelValues("hit").Inc()
	return bucket, true
}

// Set stores the bucket under its id with the configured TTL.
func (c *BucketCache) Set(ctx context.Context, bucket models.ChatBucket) {
	if c == nil || c.redis == nil {
		return
	}

	payload, err := json.Marshal(bucket)
	if err != nil {
		c.logger.Warn().Err(err).Str("bucket_id", bucket.ID).Msg("failed to marshal bucket for cache")
		return
	}

	if err := c.redis.Set(ctx, c.key(bucket.ID), payload, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("bucket_id", bucket.ID).Msg("failed to cache bucket")
	}
}

// Invalidate drops the cached copy of a bucket after a mutation.
func (c *BucketCache) Invalidate(ctx context.Context, bucketID string) {
	if c == nil || c.redis == nil {
		return
	}

	if err := c.redis.Del(ctx, c.key(bucketID)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("bucket_id", bucketID).Msg("failed to invalidate cached bucket")
	}
}
