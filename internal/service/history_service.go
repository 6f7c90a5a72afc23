package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
	"github.com/boostcampwm-2022/web24-Asniti/internal/repository"
)

// ErrInvalidCursor indicates a pagination cursor outside [0, bucketCount).
var ErrInvalidCursor = errors.New("cursor outside bucket range")

// ChatHistoryService serves directional, bucket-sized pages of channel
// history. It never mutates the log; deleted messages stay in pages as
// tombstones so ids remain contiguous for clients.
type ChatHistoryService interface {
	Messages(ctx context.Context, channelID string, cursor dto.PageCursor) (dto.ChatPage, error)
}

type chatHistoryService struct {
	repo   repository.ChannelRepository
	cache  *BucketCache
	logger zerolog.Logger
}

// NewChatHistoryService constructs the history reader. The cache may be nil.
func NewChatHistoryService(repo repository.ChannelRepository, cache *BucketCache, logger zerolog.Logger) ChatHistoryService {
	return &chatHistoryService{
		repo:   repo,
		cache:  cache,
		logger: logger.With().Str("component", "chat_history_service").Logger(),
	}
}

func (s *chatHistoryService) Messages(ctx context.Context, channelID string, cursor dto.PageCursor) (dto.ChatPage, error) {
	channel, err := channelByID(ctx, s.repo, channelID)
	if err != nil {
		return dto.ChatPage{}, err
	}

	bucketCount := len(channel.BucketIDs)

	index := cursor.Index
	if cursor.Direction == dto.PageInitial {
		if bucketCount == 0 {
			return dto.ChatPage{Messages: []dto.ChatInfo{}}, nil
		}
		index = bucketCount - 1
	}
	if index < 0 || index >= bucketCount {
		return dto.ChatPage{}, ErrInvalidCursor
	}

	bucket, err := loadBucket(ctx, s.repo, s.cache, channel.BucketIDs[index])
	if err != nil {
		return dto.ChatPage{}, err
	}

	page := dto.ChatPage{Messages: make([]dto.ChatInfo, 0, len(bucket.Chat))}
	for _, message := range bucket.Chat {
		page.Messages = append(page.Messages, dto.NewChatInfo(message, channelID, channel.CommunityID))
	}

	switch cursor.Direction {
	case dto.PageInitial, dto.PagePrevious:
		if previous := index - 1; previous >= 0 {
			page.PreviousCursor = &previous
		}
	case dto.PageNext:
		if next := index + 1; next < bucketCount {
			page.NextCursor = &next
		}
	}

	return page, nil
}

// loadBucket reads a bucket through the cache, falling back to storage and
// populating the cache on a miss.
func loadBucket(ctx context.Context, repo repository.ChannelRepository, cache *BucketCache, bucketID string) (models.ChatBucket, error) {
	if bucket, ok := cache.Get(ctx, bucketID); ok {
		return bucket, nil
	}

	bucket, err := repo.GetBucket(ctx, bucketID)
	if err != nil {
		return models.ChatBucket{}, err
	}

	cache.Set(ctx, bucket)
	return bucket, nil
}
