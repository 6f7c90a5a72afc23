package models

import (
	"time"

	"gorm.io/datatypes"
)

// BucketCapacity is the fixed number of messages a chat bucket holds. It is a
// wire/format constant: global message ids decompose as
// bucketIndex*BucketCapacity + offset, so writer and reader must agree on it.
const BucketCapacity = 100

// Message types accepted on the chat log.
const (
	ChatTypeText   = "text"
	ChatTypeImage  = "image"
	ChatTypeSystem = "system"
)

// Channel is the owner of a bucketed chat log. BucketIDs is append-only and
// ordered oldest first; position in the slice is the bucket index.
type Channel struct {
	ID          string                      `gorm:"primaryKey;size:64" json:"id"`
	CommunityID string                      `gorm:"size:64;index" json:"community_id"`
	BucketIDs   datatypes.JSONSlice[string] `gorm:"type:json" json:"bucket_ids"`
	CreatedAt   time.Time                   `json:"created_at"`
	UpdatedAt   time.Time                   `json:"updated_at"`
}

// ChatBucket stores up to BucketCapacity messages as a single independently
// loadable row. Once full it is never appended to again.
type ChatBucket struct {
	ID            string                           `gorm:"primaryKey;size:64" json:"id"`
	ChannelID     string                           `gorm:"size:64;index" json:"channel_id"`
	Chat          datatypes.JSONSlice[ChatMessage] `gorm:"type:json" json:"chat"`
	FirstChatTime time.Time                        `json:"first_chat_time"`
	LastChatTime  time.Time                        `json:"last_chat_time"`
	CreatedAt     time.Time                        `json:"created_at"`
	UpdatedAt     time.Time                        `json:"updated_at"`
}

// ChatMessage is one entry of a bucket's chat array. It is embedded in the
// bucket JSON payload rather than being its own table row, so the bucket stays
// the unit of storage and caching.
type ChatMessage struct {
	ID        int64      `json:"id"`
	Type      string     `json:"type"`
	Content   string     `json:"content"`
	SenderID  string     `json:"senderId"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}

// Deleted reports whether the message has been tombstoned. Tombstones remain
// in the bucket so ids stay contiguous.
func (m ChatMessage) Deleted() bool {
	return m.DeletedAt != nil
}

// ChannelReadCursor marks the boundary between read and unread messages for a
// user in a channel. The user-profile service owns writes; this core only
// reads it.
type ChannelReadCursor struct {
	UserID     string    `gorm:"primaryKey;size:64" json:"user_id"`
	ChannelID  string    `gorm:"primaryKey;size:64" json:"channel_id"`
	LastReadAt time.Time `json:"last_read_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
