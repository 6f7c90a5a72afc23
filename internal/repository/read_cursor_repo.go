package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

// ReadCursorRepository exposes the per-user last-read timestamps maintained by
// the user-profile service. The chat core never writes these.
type ReadCursorRepository interface {
	LastRead(ctx context.Context, userID, channelID string) (time.Time, error)
}

type readCursorRepository struct {
	db *gorm.DB
}

// NewReadCursorRepository constructs a read-only cursor repository.
func NewReadCursorRepository(db *gorm.DB) ReadCursorRepository {
	return &readCursorRepository{db: db}
}

func (r *readCursorRepository) LastRead(ctx context.Context, userID, channelID string) (time.Time, error) {
	var cursor models.ChannelReadCursor
	err := r.db.WithContext(ctx).
		First(&cursor, "user_id = ? AND channel_id = ?", userID, channelID).Error
	if err != nil {
		return time.Time{}, err
	}
	return cursor.LastReadAt, nil
}
