package handler

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
	"github.com/boostcampwm-2022/web24-Asniti/internal/middleware"
	"github.com/boostcampwm-2022/web24-Asniti/internal/service"
	"github.com/boostcampwm-2022/web24-Asniti/internal/utils"
)

// ChatHandler wires the chat endpoints: history paging, unread resolution and
// the websocket upgrade for the realtime mutation channel.
type ChatHandler struct {
	chat    service.ChatService
	history service.ChatHistoryService
	unread  service.UnreadService
	logger  zerolog.Logger
}

// NewChatHandler creates a chat handler instance.
func NewChatHandler(chat service.ChatService, history service.ChatHistoryService, unread service.UnreadService, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:    chat,
		history: history,
		unread:  unread,
		logger:  logger.With().Str("component", "chat_handler").Logger(),
	}
}

// Register binds chat routes under the provided router groups.
func (h *ChatHandler) Register(channels fiber.Router, realtime fiber.Router) {
	channels.Get("/:channelId/messages", h.messages)
	channels.Get("/:channelId/unread", h.unreadPoint)

	realtime.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			ctx := c.UserContext()
			if ctx == nil {
				ctx = context.Background()
			}
			ctx = middleware.ContextWithCorrelation(ctx, middleware.GetCorrelationID(c))
			c.Locals("request_ctx", ctx)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	realtime.Get("/ws", websocket.New(h.handleConnection))
}

func (h *ChatHandler) handleConnection(conn *websocket.Conn) {
	userID := localString(conn.Locals("user_id"))
	if userID == "" {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(fiber.StatusUnauthorized, "user id missing"))
		_ = conn.Close()
		return
	}

	var channels []string
	if raw := strings.TrimSpace(conn.Query("channels")); raw != "" {
		for _, channelID := range strings.Split(raw, ",") {
			if channelID = strings.TrimSpace(channelID); channelID != "" {
				channels = append(channels, channelID)
			}
		}
	}

	baseCtx, _ := conn.Locals("request_ctx").(context.Context)
	opts := service.ChatConnectionOptions{
		UserID:        userID,
		Channels:      channels,
		CorrelationID: localString(conn.Locals("correlation_id")),
		Context:       baseCtx,
	}

	h.logger.Info().Str("user_id", userID).Strs("channels", channels).Msg("chat websocket connected")
	h.chat.ServeConnection(conn, opts)
	h.logger.Info().Str("user_id", userID).Msg("chat websocket disconnected")
}

func (h *ChatHandler) messages(c *fiber.Ctx) error {
	channelID := c.Params("channelId")

	cursor, err := parsePageCursor(c)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	page, err := h.history.Messages(ctx, channelID, cursor)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrChannelNotFound):
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		case errors.Is(err, service.ErrInvalidCursor):
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		default:
			return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	return utils.SendSuccess(c, "chat history", page)
}

func (h *ChatHandler) unreadPoint(c *fiber.Ctx) error {
	channelID := c.Params("channelId")
	userID := localString(c.Locals("user_id"))
	if userID == "" {
		return utils.SendError(c, fiber.StatusUnauthorized, "user id missing")
	}

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	unreadChatID, err := h.unread.UnreadPoint(ctx, channelID, userID)
	if err != nil {
		if errors.Is(err, service.ErrChannelNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		}
		return utils.SendError(c, fiber.StatusInternalServerError, err.Error())
	}

	return utils.SendSuccess(c, "unread point", dto.UnreadPointResponse{UnreadChatID: unreadChatID})
}

// parsePageCursor maps the query string onto a page cursor: a `previous` or
// `next` bucket index, or the initial page when neither is present.
func parsePageCursor(c *fiber.Ctx) (dto.PageCursor, error) {
	if raw := c.Query("previous"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			return dto.PageCursor{}, errors.New("invalid previous cursor")
		}
		return dto.PageCursor{Direction: dto.PagePrevious, Index: index}, nil
	}
	if raw := c.Query("next"); raw != "" {
		index, err := strconv.Atoi(raw)
		if err != nil {
			return dto.PageCursor{}, errors.New("invalid next cursor")
		}
		return dto.PageCursor{Direction: dto.PageNext, Index: index}, nil
	}
	return dto.PageCursor{Direction: dto.PageInitial}, nil
}

func localString(value interface{}) string {
	if value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}
