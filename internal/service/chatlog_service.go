package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
	"github.com/boostcampwm-2022/web24-Asniti/internal/repository"
)

var (
	// ErrChannelNotFound indicates the target channel does not exist.
	ErrChannelNotFound = errors.New("channel does not exist")
	// ErrMessageNotFound indicates the chat id resolves outside the channel history.
	ErrMessageNotFound = errors.New("message does not exist in channel")
	// ErrForbidden indicates the caller is not the sender of the message.
	ErrForbidden = errors.New("only the sender may mutate a message")
	// ErrMessageDeleted indicates an edit was attempted on a tombstoned message.
	ErrMessageDeleted = errors.New("message has been deleted")
)

// ChatLogService owns all writes to a channel's bucketed chat log. Global
// message ids decompose as bucketIndex*models.BucketCapacity + offset, so a
// new bucket is opened exactly when the running count crosses a capacity
// boundary.
type ChatLogService interface {
	Append(ctx context.Context, channelID, senderID, chatType, content string) (dto.ChatInfo, error)
	Edit(ctx context.Context, channelID string, chatID int64, senderID, content string) (dto.ChatInfo, error)
	Remove(ctx context.Context, channelID string, chatID int64, senderID string) (dto.ChatInfo, error)
}

type chatLogService struct {
	repo   repository.ChannelRepository
	cache  *BucketCache
	logger zerolog.Logger
	tracer trace.Tracer
	now    func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewChatLogService constructs the chat log writer. The cache may be nil.
func NewChatLogService(repo repository.ChannelRepository, cache *BucketCache, logger zerolog.Logger) ChatLogService {
	return &chatLogService{
		repo:   repo,
		cache:  cache,
		logger: logger.With().Str("component", "chatlog_service").Logger(),
		tracer: otel.Tracer("github.com/boostcampwm-2022/web24-Asniti/internal/service/chatlog"),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
	}
}

// channelLock serializes mutations per channel. Two concurrent appends to the
// same channel would otherwise read the same tail length and assign the same
// global id; mutations to different channels never contend.
func (s *chatLogService) channelLock(channelID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[channelID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[channelID] = lock
	}
	return lock
}

func (s *chatLogService) Append(ctx context.Context, channelID, senderID, chatType, content string) (dto.ChatInfo, error) {
	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := s.tracer.Start(ctx, "chatlog.append", trace.WithAttributes(
		attribute.String("chat.channel_id", channelID),
		attribute.String("chat.sender_id", senderID),
	))
	defer span.End()

	channel, err := channelByID(ctx, s.repo, channelID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatInfo{}, err
	}

	var tail models.ChatBucket
	chatNum := int64(0)
	if len(channel.BucketIDs) > 0 {
		tail, err = s.repo.GetBucket(ctx, channel.BucketIDs[len(channel.BucketIDs)-1])
		if err != nil {
			span.RecordError(err)
			return dto.ChatInfo{}, err
		}
		chatNum = int64(len(channel.BucketIDs)-1)*models.BucketCapacity + int64(len(tail.Chat))
	}

	now := s.now().UTC()
	if chatType == "" {
		chatType = models.ChatTypeText
	}

	message := models.ChatMessage{
		ID:        chatNum,
		Type:      chatType,
		Content:   content,
		SenderID:  senderID,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if chatNum%models.BucketCapacity == 0 {
		// Tail full (or channel empty): open a fresh bucket and append its id
		// to the channel's bucket sequence.
		bucket := models.ChatBucket{
			ID:            uuid.NewString(),
			ChannelID:     channelID,
			Chat:          datatypes.JSONSlice[models.ChatMessage]{message},
			FirstChatTime: now,
			LastChatTime:  now,
		}
		if err := s.repo.CreateBucket(ctx, &bucket); err != nil {
			span.RecordError(err)
			return dto.ChatInfo{}, err
		}

		channel.BucketIDs = append(channel.BucketIDs, bucket.ID)
		if err := s.repo.SaveChannel(ctx, &channel); err != nil {
			span.RecordError(err)
			return dto.ChatInfo{}, err
		}
	} else {
		tail.Chat = append(tail.Chat, message)
		tail.LastChatTime = now
		if err := s.repo.SaveBucket(ctx, &tail); err != nil {
			span.RecordError(err)
			return dto.ChatInfo{}, err
		}
		s.cache.Invalidate(ctx, tail.ID)
	}

	s.logger.Debug().
		Str("channel_id", channelID).
		Int64("chat_id", chatNum).
		Msg("chat appended")

	return dto.NewChatInfo(message, channelID, channel.CommunityID), nil
}

func (s *chatLogService) Edit(ctx context.Context, channelID string, chatID int64, senderID, content string) (dto.ChatInfo, error) {
	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := s.tracer.Start(ctx, "chatlog.edit", trace.WithAttributes(
		attribute.String("chat.channel_id", channelID),
		attribute.Int64("chat.id", chatID),
	))
	defer span.End()

	channel, bucket, offset, err := s.resolve(ctx, channelID, chatID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatInfo{}, err
	}

	message := bucket.Chat[offset]
	if message.SenderID != senderID {
		return dto.ChatInfo{}, ErrForbidden
	}
	if message.Deleted() {
		return dto.ChatInfo{}, ErrMessageDeleted
	}

	message.Content = content
	message.UpdatedAt = s.now().UTC()
	bucket.Chat[offset] = message

	if err := s.repo.SaveBucket(ctx, &bucket); err != nil {
		span.RecordError(err)
		return dto.ChatInfo{}, err
	}
	s.cache.Invalidate(ctx, bucket.ID)

	return dto.NewChatInfo(message, channelID, channel.CommunityID), nil
}

func (s *chatLogService) Remove(ctx context.Context, channelID string, chatID int64, senderID string) (dto.ChatInfo, error) {
	lock := s.channelLock(channelID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := s.tracer.Start(ctx, "chatlog.remove", trace.WithAttributes(
		attribute.String("chat.channel_id", channelID),
		attribute.Int64("chat.id", chatID),
	))
	defer span.End()

	channel, bucket, offset, err := s.resolve(ctx, channelID, chatID)
	if err != nil {
		span.RecordError(err)
		return dto.ChatInfo{}, err
	}

	message := bucket.Chat[offset]
	if message.SenderID != senderID {
		return dto.ChatInfo{}, ErrForbidden
	}
	if message.Deleted() {
		// Repeat deletion is a no-op: the tombstone is terminal.
		return dto.NewChatInfo(message, channelID, channel.CommunityID), nil
	}

	deletedAt := s.now().UTC()
	message.DeletedAt = &deletedAt
	bucket.Chat[offset] = message

	if err := s.repo.SaveBucket(ctx, &bucket); err != nil {
		span.RecordError(err)
		return dto.ChatInfo{}, err
	}
	s.cache.Invalidate(ctx, bucket.ID)

	return dto.NewChatInfo(message, channelID, channel.CommunityID), nil
}

// resolve maps a global chat id onto its bucket and offset, loading the
// bucket from storage.
func (s *chatLogService) resolve(ctx context.Context, channelID string, chatID int64) (models.Channel, models.ChatBucket, int, error) {
	channel, err := channelByID(ctx, s.repo, channelID)
	if err != nil {
		return models.Channel{}, models.ChatBucket{}, 0, err
	}

	if chatID < 0 {
		return models.Channel{}, models.ChatBucket{}, 0, ErrMessageNotFound
	}

	bucketIndex := int(chatID / models.BucketCapacity)
	offset := int(chatID % models.BucketCapacity)
	if bucketIndex >= len(channel.BucketIDs) {
		return models.Channel{}, models.ChatBucket{}, 0, ErrMessageNotFound
	}

	bucket, err := s.repo.GetBucket(ctx, channel.BucketIDs[bucketIndex])
	if err != nil {
		return models.Channel{}, models.ChatBucket{}, 0, err
	}
	if offset >= len(bucket.Chat) {
		return models.Channel{}, models.ChatBucket{}, 0, ErrMessageNotFound
	}

	return channel, bucket, offset, nil
}

// channelByID loads a channel, mapping a missing row to ErrChannelNotFound.
func channelByID(ctx context.Context, repo repository.ChannelRepository, channelID string) (models.Channel, error) {
	channel, err := repo.GetChannel(ctx, channelID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Channel{}, ErrChannelNotFound
		}
		return models.Channel{}, err
	}
	return channel, nil
}
