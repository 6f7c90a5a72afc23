package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

// ChannelRepository persists channels and their chat buckets. Callers are
// responsible for serializing writes to the same channel; the repository only
// does plain load/save operations so a bucket row stays independently
// loadable and cacheable.
type ChannelRepository interface {
	CreateChannel(ctx context.Context, channel *models.Channel) error
	GetChannel(ctx context.Context, id string) (models.Channel, error)
	SaveChannel(ctx context.Context, channel *models.Channel) error
	GetBucket(ctx context.Context, id string) (models.ChatBucket, error)
	CreateBucket(ctx context.Context, bucket *models.ChatBucket) error
	SaveBucket(ctx context.Context, bucket *models.ChatBucket) error
}

type channelRepository struct {
	db *gorm.DB
}

// NewChannelRepository constructs a channel repository backed by GORM.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepository{db: db}
}

func (r *channelRepository) CreateChannel(ctx context.Context, channel *models.Channel) error {
	return r.db.WithContext(ctx).Create(channel).Error
}

func (r *channelRepository) GetChannel(ctx context.Context, id string) (models.Channel, error) {
	var channel models.Channel
	if err := r.db.WithContext(ctx).First(&channel, "id = ?", id).Error; err != nil {
		return models.Channel{}, err
	}
	return channel, nil
}

func (r *channelRepository) SaveChannel(ctx context.Context, channel *models.Channel) error {
	return r.db.WithContext(ctx).Save(channel).Error
}

func (r *channelRepository) GetBucket(ctx context.Context, id string) (models.ChatBucket, error) {
	var bucket models.ChatBucket
	if err := r.db.WithContext(ctx).First(&bucket, "id = ?", id).Error; err != nil {
		return models.ChatBucket{}, err
	}
	return bucket, nil
}

func (r *channelRepository) CreateBucket(ctx context.Context, bucket *models.ChatBucket) error {
	return r.db.WithContext(ctx).Create(bucket).Error
}

func (r *channelRepository) SaveBucket(ctx context.Context, bucket *models.ChatBucket) error {
	return r.db.WithContext(ctx).Save(bucket).Error
}
