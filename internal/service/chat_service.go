package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
	"github.com/boostcampwm-2022/web24-Asniti/internal/observability"
)

const (
	chatSendBufferSize = 32
	chatPingInterval   = 30 * time.Second
)

// socketFrameSchema rejects malformed frames before they reach struct
// decoding. Field-level constraints stay in validator tags.
const socketFrameSchema = `{
  "type": "object",
  "required": ["op"],
  "properties": {
    "op": {"enum": ["join", "leave", "chat"]},
    "channels": {"type": "array", "items": {"type": "string"}},
    "chat": {
      "type": "object",
      "required": ["chatType", "channelId"],
      "properties": {
        "chatType": {"enum": ["new", "modify", "delete"]},
        "channelId": {"type": "string"},
        "content": {"type": "string"},
        "type": {"enum": ["text", "image", "system"]},
        "chatId": {"type": "integer", "minimum": 0},
        "nonce": {"type": "string"}
      }
    }
  }
}`

// ChatConnectionOptions wraps metadata extracted during the HTTP upgrade.
type ChatConnectionOptions struct {
	UserID        string
	Channels      []string
	CorrelationID string
	Context       context.Context
}

// ChatService is the realtime mutation channel: it validates create/edit/
// delete requests from live connections, applies them to the chat log,
// acknowledges the origin and fans the canonical record out to the rest of
// the channel room (and to peer nodes via Redis/NATS).
type ChatService interface {
	ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions)
	Start(ctx context.Context)
}

type chatService struct {
	log         ChatLogService
	redis       *redis.Client
	redisStream string
	nats        *nats.Conn
	natsSubject string
	validator   *validator.Validate
	logger      zerolog.Logger
	tracer      trace.Tracer
	sanitizer   *bluemonday.Policy
	frameSchema *jsonschema.Schema
	hub         *chatHub
	nodeID      string
}

// chatHub tracks which live connections are joined to which channel room.
// Join/leave are external events the hub only reacts to.
type chatHub struct {
	mu    sync.RWMutex
	rooms map[string]map[*chatClient]struct{}
	log   zerolog.Logger
}

type chatClient struct {
	conn     *websocket.Conn
	send     chan dto.ChatAck
	options  ChatConnectionOptions
	service  *chatService
	closed   chan struct{}
	once     sync.Once
	baseCtx  context.Context
	mu       sync.Mutex
	channels map[string]struct{}
}

// chatFanoutEvent crosses node boundaries via Redis pub/sub and NATS.
type chatFanoutEvent struct {
	Source    string      `json:"source"`
	ChannelID string      `json:"channel_id"`
	Ack       dto.ChatAck `json:"ack"`
	SentAt    time.Time   `json:"sent_at"`
}

// NewChatService creates the realtime chat service.
func NewChatService(log ChatLogService, redisClient *redis.Client, channelBase string, natsConn *nats.Conn, validate *validator.Validate, logger zerolog.Logger) ChatService {
	sanitizer := bluemonday.UGCPolicy()
	sanitizer.AllowElements("br")

	hub := &chatHub{
		rooms: make(map[string]map[*chatClient]struct{}),
		log:   logger.With().Str("component", "chat_hub").Logger(),
	}

	streamChannel := ""
	natsSubject := ""
	if channelBase != "" {
		streamChannel = channelBase + ":chat"
		natsSubject = strings.ReplaceAll(channelBase, ":", ".") + ".chat"
	}

	return &chatService{
		log:         log,
		redis:       redisClient,
		redisStream: streamChannel,
		nats:        natsConn,
		natsSubject: natsSubject,
		validator:   validate,
		logger:      logger.With().Str("component", "chat_service").Logger(),
		tracer:      otel.Tracer("github.com/boostcampwm-2022/web24-Asniti/internal/service/chat"),
		sanitizer:   sanitizer,
		frameSchema: jsonschema.MustCompileString("socket_frame.json", socketFrameSchema),
		hub:         hub,
		nodeID:      uuid.NewString(),
	}
}

func (s *chatService) Start(ctx context.Context) {
	if s.redis != nil && s.redisStream != "" {
		go s.consumeRedis(ctx)
	}
	if s.nats != nil && s.natsSubject != "" {
		go s.consumeNATS(ctx)
	}
}

func (s *chatService) ServeConnection(conn *websocket.Conn, opts ChatConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &chatClient{
		conn:     conn,
		send:     make(chan dto.ChatAck, chatSendBufferSize),
		options:  opts,
		service:  s,
		closed:   make(chan struct{}),
		baseCtx:  baseCtx,
		channels: make(map[string]struct{}),
	}

	observability.ChatConnections().Inc()
	defer observability.ChatConnections().Dec()

	for _, channelID := range opts.Channels {
		s.hub.join(client, channelID)
	}

	go client.writer()
	client.reader()
}

// processMutation applies one mutation to the chat log and returns the ack
// for the origin. Failures produce {written:false} and never broadcast.
func (s *chatService) processMutation(ctx context.Context, client *chatClient, request dto.ChatMutationRequest) dto.ChatAck {
	ack := dto.ChatAck{ChatType: request.ChatType, Nonce: request.Nonce}

	if err := s.validator.Struct(request); err != nil {
		observability.ChatMutations().WithLabelValues(request.ChatType, "rejected").Inc()
		s.logger.Warn().Err(err).Str("channel_id", request.ChannelID).Msg("invalid chat mutation payload")
		return ack
	}

	ctx, span := s.tracer.Start(ctx, "chat.mutation", trace.WithAttributes(
		attribute.String("chat.mutation", request.ChatType),
		attribute.String("chat.channel_id", request.ChannelID),
		attribute.String("chat.sender_id", client.options.UserID),
	))
	defer span.End()

	var (
		info dto.ChatInfo
		err  error
	)

	switch request.ChatType {
	case dto.ChatMutationNew:
		content := strings.TrimSpace(s.sanitizer.Sanitize(request.Content))
		if content == "" {
			err = errors.New("message content empty after sanitization")
			break
		}
		info, err = s.log.Append(ctx, request.ChannelID, client.options.UserID, request.Type, content)
	case dto.ChatMutationEdit:
		if request.ChatID == nil {
			err = errors.New("chatId required for modify")
			break
		}
		content := strings.TrimSpace(s.sanitizer.Sanitize(request.Content))
		if content == "" {
			err = errors.New("message content empty after sanitization")
			break
		}
		info, err = s.log.Edit(ctx, request.ChannelID, *request.ChatID, client.options.UserID, content)
	case dto.ChatMutationRemove:
		if request.ChatID == nil {
			err = errors.New("chatId required for delete")
			break
		}
		info, err = s.log.Remove(ctx, request.ChannelID, *request.ChatID, client.options.UserID)
	}

	if err != nil {
		span.RecordError(err)
		observability.ChatMutations().WithLabelValues(request.ChatType, "failed").Inc()
		s.logger.Warn().Err(err).
			Str("channel_id", request.ChannelID).
			Str("sender_id", client.options.UserID).
			Str("mutation", request.ChatType).
			Msg("chat mutation rejected")
		return ack
	}

	ack.Written = true
	ack.ChatInfo = &info
	observability.ChatMutations().WithLabelValues(request.ChatType, "written").Inc()

	// The broadcast copy carries no nonce: only the origin reconciles by it.
	broadcast := dto.ChatAck{Written: true, ChatType: request.ChatType, ChatInfo: &info}
	s.hub.broadcast(request.ChannelID, broadcast, client)
	if err := s.publish(ctx, request.ChannelID, broadcast); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish chat fanout event")
	}

	return ack
}

func (s *chatService) publish(ctx context.Context, channelID string, ack dto.ChatAck) error {
	event := chatFanoutEvent{
		Source:    s.nodeID,
		ChannelID: channelID,
		Ack:       ack,
		SentAt:    time.Now().UTC(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if s.redis != nil && s.redisStream != "" {
		if err := s.redis.Publish(ctx, s.redisStream, payload).Err(); err != nil {
			return err
		}
	}

	if s.nats != nil && s.natsSubject != "" {
		if err := s.nats.Publish(s.natsSubject, payload); err != nil {
			return err
		}
	}

	return nil
}

func (s *chatService) consumeRedis(ctx context.Context) {
	pubsub := s.redis.Subscribe(ctx, s.redisStream)
	defer func() {
		_ = pubsub.Close()
	}()
	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Error().Err(err).Msg("chat redis subscription closed")
			return
		}
		s.handleFanout([]byte(msg.Payload))
	}
}

func (s *chatService) consumeNATS(ctx context.Context) {
	sub, err := s.nats.QueueSubscribe(s.natsSubject, "asniti-chat", func(msg *nats.Msg) {
		s.handleFanout(msg.Data)
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to subscribe to nats chat subject")
		return
	}
	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			s.logger.Warn().Err(err).Msg("failed to drain chat nats subscription")
		}
	}()
}

func (s *chatService) handleFanout(data []byte) {
	var event chatFanoutEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Warn().Err(err).Msg("invalid chat fanout event")
		return
	}

	if event.Source == s.nodeID {
		return
	}

	s.hub.broadcast(event.ChannelID, event.Ack, nil)
}

func (h *chatHub) join(client *chatClient, channelID string) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return
	}

	h.mu.Lock()
	if _, exists := h.rooms[channelID]; !exists {
		h.rooms[channelID] = make(map[*chatClient]struct{})
	}
	h.rooms[channelID][client] = struct{}{}
	h.mu.Unlock()

	client.mu.Lock()
	client.channels[channelID] = struct{}{}
	client.mu.Unlock()

	h.log.Debug().Str("channel_id", channelID).Str("user_id", client.options.UserID).Msg("client joined channel room")
}

func (h *chatHub) leave(client *chatClient, channelID string) {
	h.mu.Lock()
	if clients, ok := h.rooms[channelID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.rooms, channelID)
		}
	}
	h.mu.Unlock()

	client.mu.Lock()
	delete(client.channels, channelID)
	client.mu.Unlock()

	h.log.Debug().Str("channel_id", channelID).Str("user_id", client.options.UserID).Msg("client left channel room")
}

func (h *chatHub) unregister(client *chatClient) {
	client.mu.Lock()
	channels := make([]string, 0, len(client.channels))
	for channelID := range client.channels {
		channels = append(channels, channelID)
	}
	client.mu.Unlock()

	for _, channelID := range channels {
		h.leave(client, channelID)
	}
}

// broadcast delivers the ack to every room member except origin. A nil origin
// reaches all local members (used for cross-node fanout).
func (h *chatHub) broadcast(channelID string, ack dto.ChatAck, origin *chatClient) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.rooms[channelID] {
		if client == origin {
			continue
		}
		select {
		case client.send <- ack:
		default:
			h.log.Warn().Str("channel_id", channelID).Str("user_id", client.options.UserID).Msg("dropping chat broadcast for slow client")
		}
	}
}

func (c *chatClient) reader() {
	defer c.close()

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.service.logger.Debug().Err(err).Msg("chat read loop ended")
			return
		}

		frame, err := c.service.decodeFrame(raw)
		if err != nil {
			c.service.logger.Warn().Err(err).Str("user_id", c.options.UserID).Msg("rejecting malformed socket frame")
			continue
		}

		switch frame.Op {
		case dto.SocketOpJoin:
			for _, channelID := range frame.Channels {
				c.service.hub.join(c, channelID)
			}
		case dto.SocketOpLeave:
			for _, channelID := range frame.Channels {
				c.service.hub.leave(c, channelID)
			}
		case dto.SocketOpChat:
			if frame.Chat == nil {
				continue
			}
			ack := c.service.processMutation(c.baseCtx, c, *frame.Chat)

			select {
			case <-c.closed:
				return
			default:
			}

			select {
			case c.send <- ack:
			default:
				c.service.logger.Warn().Msg("sender queue full, dropping ack message")
			}
		}
	}
}

// decodeFrame checks the raw payload against the frame schema, then decodes
// and validates the struct.
func (s *chatService) decodeFrame(raw []byte) (dto.SocketFrame, error) {
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return dto.SocketFrame{}, err
	}
	if err := s.frameSchema.Validate(generic); err != nil {
		return dto.SocketFrame{}, err
	}

	var frame dto.SocketFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return dto.SocketFrame{}, err
	}
	if err := s.validator.Struct(frame); err != nil {
		return dto.SocketFrame{}, err
	}
	return frame, nil
}

func (c *chatClient) writer() {
	defer c.close()

	for {
		select {
		case ack, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(ack); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat write loop terminated")
				return
			}
		case <-time.After(chatPingInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("chat ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *chatClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.hub.unregister(c)
		_ = c.conn.Close()
	})
}
