package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

// AttachmentRepository records uploaded image assets.
type AttachmentRepository interface {
	Create(ctx context.Context, attachment *models.Attachment) error
	ListByChannel(ctx context.Context, channelID string, limit int) ([]models.Attachment, error)
}

type attachmentRepository struct {
	db *gorm.DB
}

// NewAttachmentRepository constructs an attachment repository backed by GORM.
func NewAttachmentRepository(db *gorm.DB) AttachmentRepository {
	return &attachmentRepository{db: db}
}

func (r *attachmentRepository) Create(ctx context.Context, attachment *models.Attachment) error {
	return r.db.WithContext(ctx).Create(attachment).Error
}

func (r *attachmentRepository) ListByChannel(ctx context.Context, channelID string, limit int) ([]models.Attachment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	var attachments []models.Attachment
	err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at DESC").
		Limit(limit).
		Find(&attachments).Error
	if err != nil {
		return nil, err
	}
	return attachments, nil
}
