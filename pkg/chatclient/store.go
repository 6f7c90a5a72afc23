package chatclient

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
)

// DeliveryState is the lifecycle of an optimistically rendered mutation.
type DeliveryState int

const (
	// DeliveryPending marks a locally applied mutation awaiting the server ack.
	DeliveryPending DeliveryState = iota
	// DeliveryWritten marks a record confirmed by the server.
	DeliveryWritten
	// DeliveryFailed marks a mutation the server rejected.
	DeliveryFailed
)

// ErrUnknownMessage indicates the store holds no record for the chat id.
var ErrUnknownMessage = errors.New("message not present in local store")

// Message is the client's view of one chat record, the canonical fields plus
// the delivery state driving the UI (pending spinner, failure affordances).
type Message struct {
	Nonce     string
	ChatID    int64
	Type      string
	Content   string
	SenderID  string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
	State     DeliveryState
}

// pendingOp remembers what to restore when the server rejects a mutation.
type pendingOp struct {
	kind        string
	chatID      int64
	prevContent string
	prevDeleted *time.Time
}

// Store holds the optimistic message state for one channel. Mutations are
// applied locally before the server responds; acknowledgements and broadcasts
// reconcile the local state with server truth.
type Store struct {
	mu        sync.Mutex
	channelID string
	userID    string
	written   map[int64]*Message
	staged    map[string]*Message
	ops       map[string]pendingOp
}

// NewStore creates an empty optimistic store for a channel.
func NewStore(channelID, userID string) *Store {
	return &Store{
		channelID: channelID,
		userID:    userID,
		written:   make(map[int64]*Message),
		staged:    make(map[string]*Message),
		ops:       make(map[string]pendingOp),
	}
}

// StageNew renders a new message locally and returns the mutation request to
// send. The message has no server id yet; the nonce ties the eventual ack
// back to it.
func (s *Store) StageNew(msgType, content string) dto.ChatMutationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := uuid.NewString()
	now := time.Now()
	s.staged[nonce] = &Message{
		Nonce:     nonce,
		ChatID:    -1,
		Type:      msgType,
		Content:   content,
		SenderID:  s.userID,
		CreatedAt: now,
		UpdatedAt: now,
		State:     DeliveryPending,
	}
	s.ops[nonce] = pendingOp{kind: dto.ChatMutationNew}

	return dto.ChatMutationRequest{
		ChatType:  dto.ChatMutationNew,
		ChannelID: s.channelID,
		Type:      msgType,
		Content:   content,
		Nonce:     nonce,
	}
}

// StageEdit applies an edit locally, remembering the prior content so a
// rejection can revert it.
func (s *Store) StageEdit(chatID int64, content string) (dto.ChatMutationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.written[chatID]
	if !ok {
		return dto.ChatMutationRequest{}, ErrUnknownMessage
	}

	nonce := uuid.NewString()
	s.ops[nonce] = pendingOp{kind: dto.ChatMutationEdit, chatID: chatID, prevContent: message.Content}

	message.Content = content
	message.UpdatedAt = time.Now()
	message.State = DeliveryPending

	return dto.ChatMutationRequest{
		ChatType:  dto.ChatMutationEdit,
		ChannelID: s.channelID,
		ChatID:    &chatID,
		Content:   content,
		Nonce:     nonce,
	}, nil
}

// StageRemove tombstones a message locally, remembering the prior state.
func (s *Store) StageRemove(chatID int64) (dto.ChatMutationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	message, ok := s.written[chatID]
	if !ok {
		return dto.ChatMutationRequest{}, ErrUnknownMessage
	}

	nonce := uuid.NewString()
	s.ops[nonce] = pendingOp{kind: dto.ChatMutationRemove, chatID: chatID, prevDeleted: message.DeletedAt}

	now := time.Now()
	message.DeletedAt = &now
	message.State = DeliveryPending

	return dto.ChatMutationRequest{
		ChatType:  dto.ChatMutationRemove,
		ChannelID: s.channelID,
		ChatID:    &chatID,
		Nonce:     nonce,
	}, nil
}

// Resolve reconciles a server acknowledgement with the staged mutation it
// answers. A written ack replaces optimistic state with the canonical record;
// a failed ack marks a NEW as discardable and reverts an EDIT/REMOVE.
func (s *Store) Resolve(ack dto.ChatAck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.ops[ack.Nonce]
	if !ok {
		return
	}
	delete(s.ops, ack.Nonce)

	switch op.kind {
	case dto.ChatMutationNew:
		staged, ok := s.staged[ack.Nonce]
		if !ok {
			return
		}
		if !ack.Written || ack.ChatInfo == nil {
			staged.State = DeliveryFailed
			return
		}
		delete(s.staged, ack.Nonce)
		s.written[ack.ChatInfo.ID] = canonical(*ack.ChatInfo)
	case dto.ChatMutationEdit:
		message, ok := s.written[op.chatID]
		if !ok {
			return
		}
		if !ack.Written || ack.ChatInfo == nil {
			message.Content = op.prevContent
			message.State = DeliveryFailed
			return
		}
		s.written[ack.ChatInfo.ID] = canonical(*ack.ChatInfo)
	case dto.ChatMutationRemove:
		message, ok := s.written[op.chatID]
		if !ok {
			return
		}
		if !ack.Written || ack.ChatInfo == nil {
			message.DeletedAt = op.prevDeleted
			message.State = DeliveryFailed
			return
		}
		s.written[ack.ChatInfo.ID] = canonical(*ack.ChatInfo)
	}
}

// ApplyBroadcast upserts a record another member mutated. Broadcasts are
// authoritative and always overwrite local state for that id.
func (s *Store) ApplyBroadcast(info dto.ChatInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.written[info.ID] = canonical(info)
}

// Discard drops a failed NEW message; the user chose not to retry it.
func (s *Store) Discard(nonce string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if staged, ok := s.staged[nonce]; ok && staged.State == DeliveryFailed {
		delete(s.staged, nonce)
	}
}

// Reconcile replaces confirmed state with a freshly fetched history page,
// typically after a reconnect while acks were lost. Staged NEW messages stay
// pending for the user to retry or discard; in-flight edits and removes are
// superseded by server truth.
func (s *Store) Reconcile(messages []dto.ChatInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, info := range messages {
		s.written[info.ID] = canonical(info)
	}
	for nonce, op := range s.ops {
		if op.kind != dto.ChatMutationNew {
			delete(s.ops, nonce)
		}
	}
}

// Messages returns the channel view: confirmed records in id order followed
// by staged messages in creation order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Message, 0, len(s.written)+len(s.staged))
	for _, message := range s.written {
		out = append(out, *message)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })

	staged := make([]Message, 0, len(s.staged))
	for _, message := range s.staged {
		staged = append(staged, *message)
	}
	sort.Slice(staged, func(i, j int) bool { return staged[i].CreatedAt.Before(staged[j].CreatedAt) })

	return append(out, staged...)
}

func canonical(info dto.ChatInfo) *Message {
	return &Message{
		ChatID:    info.ID,
		Type:      info.Type,
		Content:   info.Content,
		SenderID:  info.SenderID,
		CreatedAt: info.CreatedAt,
		UpdatedAt: info.UpdatedAt,
		DeletedAt: info.DeletedAt,
		State:     DeliveryWritten,
	}
}
