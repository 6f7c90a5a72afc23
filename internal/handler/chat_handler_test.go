package handler_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
	"github.com/boostcampwm-2022/web24-Asniti/internal/handler"
	"github.com/boostcampwm-2022/web24-Asniti/internal/service"
)

type mockChatService struct{}

func (m *mockChatService) ServeConnection(_ *websocket.Conn, _ service.ChatConnectionOptions) {}

func (m *mockChatService) Start(_ context.Context) {}

type mockHistoryService struct {
	lastChannel string
	lastCursor  dto.PageCursor
	page        dto.ChatPage
	err         error
}

func (m *mockHistoryService) Messages(_ context.Context, channelID string, cursor dto.PageCursor) (dto.ChatPage, error) {
	m.lastChannel = channelID
	m.lastCursor = cursor
	if m.err != nil {
		return dto.ChatPage{}, m.err
	}
	return m.page, nil
}

type mockUnreadService struct {
	lastUser string
	unread   int64
	err      error
}

func (m *mockUnreadService) UnreadPoint(_ context.Context, _ string, userID string) (int64, error) {
	m.lastUser = userID
	if m.err != nil {
		return 0, m.err
	}
	return m.unread, nil
}

func newChatTestApp(history *mockHistoryService, unread *mockUnreadService, userID string) *fiber.App {
	logger := zerolog.New(io.Discard)
	app := fiber.New()
	if userID != "" {
		app.Use(func(c *fiber.Ctx) error {
			c.Locals("user_id", userID)
			return c.Next()
		})
	}

	h := handler.NewChatHandler(&mockChatService{}, history, unread, logger)
	h.Register(app.Group("/api/v1/channels"), app.Group("/api/v1/chat"))
	return app
}

func TestChatHandler_MessagesInitial(t *testing.T) {
	previous := 1
	history := &mockHistoryService{page: dto.ChatPage{
		Messages:       []dto.ChatInfo{{ID: 200, Type: "text", Content: "hello", SenderID: "user-1", ChannelID: "general"}},
		PreviousCursor: &previous,
	}}
	app := newChatTestApp(history, &mockUnreadService{}, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/messages", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool         `json:"success"`
		Data    dto.ChatPage `json:"data"`
	}
	decodeResponse(t, resp, &body)

	require.True(t, body.Success)
	require.Len(t, body.Data.Messages, 1)
	require.Equal(t, int64(200), body.Data.Messages[0].ID)
	require.NotNil(t, body.Data.PreviousCursor)
	require.Equal(t, 1, *body.Data.PreviousCursor)

	require.Equal(t, "general", history.lastChannel)
	require.Equal(t, dto.PageInitial, history.lastCursor.Direction)
}

func TestChatHandler_MessagesCursorDirections(t *testing.T) {
	history := &mockHistoryService{page: dto.ChatPage{Messages: []dto.ChatInfo{}}}
	app := newChatTestApp(history, &mockUnreadService{}, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/messages?previous=2", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, dto.PagePrevious, history.lastCursor.Direction)
	require.Equal(t, 2, history.lastCursor.Index)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/messages?next=4", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, dto.PageNext, history.lastCursor.Direction)
	require.Equal(t, 4, history.lastCursor.Index)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/messages?previous=oops", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestChatHandler_MessagesErrorMapping(t *testing.T) {
	history := &mockHistoryService{err: service.ErrChannelNotFound}
	app := newChatTestApp(history, &mockUnreadService{}, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/missing/messages", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	history.err = service.ErrInvalidCursor
	req = httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/messages?next=99", nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestChatHandler_UnreadPoint(t *testing.T) {
	unread := &mockUnreadService{unread: 121}
	app := newChatTestApp(&mockHistoryService{}, unread, "user-7")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/unread", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Success bool                    `json:"success"`
		Data    dto.UnreadPointResponse `json:"data"`
	}
	decodeResponse(t, resp, &body)

	require.True(t, body.Success)
	require.Equal(t, int64(121), body.Data.UnreadChatID)
	require.Equal(t, "user-7", unread.lastUser)
}

func TestChatHandler_UnreadPointRequiresUser(t *testing.T) {
	app := newChatTestApp(&mockHistoryService{}, &mockUnreadService{}, "")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/channels/general/unread", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestChatHandler_WebsocketUpgradeRequired(t *testing.T) {
	app := newChatTestApp(&mockHistoryService{}, &mockUnreadService{}, "user-1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/chat/ws", nil)
	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUpgradeRequired, resp.StatusCode)
}

func decodeResponse(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
}
