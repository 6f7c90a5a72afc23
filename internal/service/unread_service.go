package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
	"github.com/boostcampwm-2022/web24-Asniti/internal/repository"
)

// NoUnreadChat is returned when the user has read every message in the
// channel.
const NoUnreadChat int64 = -1

// UnreadService resolves the first unread message id for a user in a channel
// from the user's last-read timestamp, without scanning the whole history.
type UnreadService interface {
	UnreadPoint(ctx context.Context, channelID, userID string) (int64, error)
}

type unreadService struct {
	repo    repository.ChannelRepository
	cursors repository.ReadCursorRepository
	cache   *BucketCache
	logger  zerolog.Logger
}

// NewUnreadService constructs the unread resolver. The cache may be nil.
func NewUnreadService(repo repository.ChannelRepository, cursors repository.ReadCursorRepository, cache *BucketCache, logger zerolog.Logger) UnreadService {
	return &unreadService{
		repo:    repo,
		cursors: cursors,
		cache:   cache,
		logger:  logger.With().Str("component", "unread_service").Logger(),
	}
}

func (s *unreadService) UnreadPoint(ctx context.Context, channelID, userID string) (int64, error) {
	channel, err := channelByID(ctx, s.repo, channelID)
	if err != nil {
		return 0, err
	}
	if len(channel.BucketIDs) == 0 {
		return NoUnreadChat, nil
	}

	lastRead, err := s.cursors.LastRead(ctx, userID, channelID)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, err
		}
		// No cursor recorded yet: the zero timestamp makes every message
		// unread.
		lastRead = time.Time{}
	}

	index, bucket, err := s.locateBucket(ctx, channel, lastRead)
	if err != nil {
		return 0, err
	}

	offset := firstUnreadOffset(bucket.Chat, lastRead)
	if offset == len(bucket.Chat) {
		// Every message in the located bucket is read. A newer bucket, if one
		// exists, starts strictly after lastRead's bucket, so its first
		// message is the boundary.
		if index+1 < len(channel.BucketIDs) {
			return int64(index+1) * models.BucketCapacity, nil
		}
		return NoUnreadChat, nil
	}

	return bucket.Chat[offset].ID, nil
}

// locateBucket scans the bucket sequence newest to oldest for the first
// bucket whose oldest message predates lastRead: the newest bucket known to
// contain something the user already read. When lastRead predates the whole
// history it falls back to the oldest bucket.
func (s *unreadService) locateBucket(ctx context.Context, channel models.Channel, lastRead time.Time) (int, models.ChatBucket, error) {
	for i := len(channel.BucketIDs) - 1; i >= 0; i-- {
		bucket, err := loadBucket(ctx, s.repo, s.cache, channel.BucketIDs[i])
		if err != nil {
			return 0, models.ChatBucket{}, err
		}
		if bucket.FirstChatTime.Before(lastRead) {
			return i, bucket, nil
		}
	}

	bucket, err := loadBucket(ctx, s.repo, s.cache, channel.BucketIDs[0])
	if err != nil {
		return 0, models.ChatBucket{}, err
	}
	return 0, bucket, nil
}

// firstUnreadOffset binary-searches messages sorted by non-decreasing
// createdAt for the first one created strictly after lastRead. A message
// whose timestamp equals lastRead is the one the cursor points at and counts
// as read. Returns len(chat) when everything is read.
func firstUnreadOffset(chat []models.ChatMessage, lastRead time.Time) int {
	low, high := 0, len(chat)-1
	for low <= high {
		mid := (low + high) / 2
		if chat[mid].CreatedAt.After(lastRead) {
			high = mid - 1
		} else {
			low = mid + 1
		}
	}
	return low
}
