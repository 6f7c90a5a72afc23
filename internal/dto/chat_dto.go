package dto

import (
	"time"

	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
)

// Mutation kinds carried on the realtime channel.
const (
	ChatMutationNew    = "new"
	ChatMutationEdit   = "modify"
	ChatMutationRemove = "delete"
)

// Socket frame operations.
const (
	SocketOpJoin  = "join"
	SocketOpLeave = "leave"
	SocketOpChat  = "chat"
)

// SocketFrame is the envelope for every client-to-server websocket message.
// Join/leave frames carry channel ids, chat frames carry a mutation.
type SocketFrame struct {
	Op       string               `json:"op" validate:"required,oneof=join leave chat"`
	Channels []string             `json:"channels,omitempty" validate:"omitempty,dive,min=1,max=64"`
	Chat     *ChatMutationRequest `json:"chat,omitempty"`
}

// ChatMutationRequest asks the server to create, edit or soft-delete a
// message. Nonce is echoed back on the acknowledgement so the origin client
// can reconcile its optimistic record.
type ChatMutationRequest struct {
	ChatType  string `json:"chatType" validate:"required,oneof=new modify delete"`
	ChannelID string `json:"channelId" validate:"required,min=1,max=64"`
	Content   string `json:"content,omitempty" validate:"omitempty,max=4000"`
	Type      string `json:"type,omitempty" validate:"omitempty,oneof=text image system"`
	ChatID    *int64 `json:"chatId,omitempty" validate:"omitempty,min=0"`
	Nonce     string `json:"nonce,omitempty" validate:"omitempty,max=64"`
}

// ChatInfo is the canonical message record as seen on the wire, carrying the
// channel and community it belongs to.
type ChatInfo struct {
	ID          int64      `json:"id"`
	Type        string     `json:"type"`
	Content     string     `json:"content"`
	SenderID    string     `json:"senderId"`
	ChannelID   string     `json:"channelId"`
	CommunityID string     `json:"communityId"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// ChatAck is sent to the mutation origin and, on success, broadcast to the
// rest of the room. A failed mutation never broadcasts.
type ChatAck struct {
	Written  bool      `json:"written"`
	ChatType string    `json:"chatType,omitempty"`
	ChatInfo *ChatInfo `json:"chatInfo,omitempty"`
	Nonce    string    `json:"nonce,omitempty"`
}

// NewChatInfo builds the wire record from a stored message.
func NewChatInfo(message models.ChatMessage, channelID, communityID string) ChatInfo {
	return ChatInfo{
		ID:          message.ID,
		Type:        message.Type,
		Content:     message.Content,
		SenderID:    message.SenderID,
		ChannelID:   channelID,
		CommunityID: communityID,
		CreatedAt:   message.CreatedAt,
		UpdatedAt:   message.UpdatedAt,
		DeletedAt:   message.DeletedAt,
	}
}

// Page directions for history requests.
const (
	PageInitial  = "initial"
	PagePrevious = "previous"
	PageNext     = "next"
)

// PageCursor selects which bucket of history to load. Index is ignored for
// the initial direction.
type PageCursor struct {
	Direction string `json:"direction" validate:"required,oneof=initial previous next"`
	Index     int    `json:"index" validate:"min=0"`
}

// ChatPage is one bucket worth of history plus the cursors to continue in
// either direction. A missing cursor means that edge of history was reached.
type ChatPage struct {
	Messages       []ChatInfo `json:"messages"`
	PreviousCursor *int       `json:"previousCursor,omitempty"`
	NextCursor     *int       `json:"nextCursor,omitempty"`
}

// UnreadPointResponse carries the id of the first unread message, or the
// no-unread sentinel.
type UnreadPointResponse struct {
	UnreadChatID int64 `json:"unreadChatId"`
}

// AttachmentResponse describes a stored image attachment.
type AttachmentResponse struct {
	URL       string `json:"url"`
	FileName  string `json:"file_name"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
}

// NewAttachmentResponse converts an attachment model into its DTO.
func NewAttachmentResponse(model models.Attachment) AttachmentResponse {
	return AttachmentResponse{
		URL:       model.URL,
		FileName:  model.FileName,
		MimeType:  model.MimeType,
		SizeBytes: model.SizeBytes,
		Checksum:  model.Checksum,
	}
}
