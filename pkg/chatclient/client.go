package chatclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/dto"
)

const (
	writeTimeout    = 10 * time.Second
	handshakeWindow = 15 * time.Second
)

// Client is a realtime chat connection with per-channel optimistic stores.
// Mutations are staged locally before the server confirms them; the read
// loop feeds acknowledgements and broadcasts back into the stores.
type Client struct {
	conn   *websocket.Conn
	userID string
	logger zerolog.Logger

	mu      sync.Mutex
	stores  map[string]*Store
	closed  bool
	done    chan struct{}
	onError func(error)
}

// Options configures a realtime chat connection.
type Options struct {
	// URL is the websocket endpoint, e.g. wss://host/api/v1/chat/ws.
	URL string
	// Token is the bearer token presented during the handshake.
	Token string
	// UserID identifies the local user; staged messages carry it as sender.
	UserID string
	// Channels to join immediately after connecting.
	Channels []string
	// OnError receives read-loop failures, nil to ignore.
	OnError func(error)
	Logger  zerolog.Logger
}

// Dial connects to the chat endpoint, joins the requested channels and
// starts the read loop.
func Dial(opts Options) (*Client, error) {
	header := http.Header{}
	if opts.Token != "" {
		header.Set("Authorization", "Bearer "+opts.Token)
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeWindow}
	conn, _, err := dialer.Dial(opts.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial chat endpoint: %w", err)
	}

	c := &Client{
		conn:    conn,
		userID:  opts.UserID,
		logger:  opts.Logger.With().Str("component", "chat_client").Logger(),
		stores:  make(map[string]*Store),
		done:    make(chan struct{}),
		onError: opts.OnError,
	}

	if len(opts.Channels) > 0 {
		if err := c.Join(opts.Channels...); err != nil {
			conn.Close()
			return nil, err
		}
	}

	go c.readLoop()

	return c, nil
}

// Store returns the optimistic store for a channel, creating it on first use.
func (c *Client) Store(channelID string) *Store {
	c.mu.Lock()
	defer c.mu.Unlock()

	store, ok := c.stores[channelID]
	if !ok {
		store = NewStore(channelID, c.userID)
		c.stores[channelID] = store
	}

	return store
}

// Join subscribes the connection to the given channels.
func (c *Client) Join(channels ...string) error {
	return c.writeFrame(dto.SocketFrame{Op: dto.SocketOpJoin, Channels: channels})
}

// Leave unsubscribes the connection from the given channels.
func (c *Client) Leave(channels ...string) error {
	return c.writeFrame(dto.SocketFrame{Op: dto.SocketOpLeave, Channels: channels})
}

// SendNew stages a new message and submits it. The staged record is visible
// in the store immediately, in pending state until the ack arrives.
func (c *Client) SendNew(channelID, msgType, content string) (string, error) {
	req := c.Store(channelID).StageNew(msgType, content)
	if err := c.writeFrame(dto.SocketFrame{Op: dto.SocketOpChat, Chat: &req}); err != nil {
		return "", err
	}

	return req.Nonce, nil
}

// SendEdit stages an edit of an existing message and submits it.
func (c *Client) SendEdit(channelID string, chatID int64, content string) (string, error) {
	req, err := c.Store(channelID).StageEdit(chatID, content)
	if err != nil {
		return "", err
	}
	if err := c.writeFrame(dto.SocketFrame{Op: dto.SocketOpChat, Chat: &req}); err != nil {
		return "", err
	}

	return req.Nonce, nil
}

// SendRemove stages a delete of an existing message and submits it.
func (c *Client) SendRemove(channelID string, chatID int64) (string, error) {
	req, err := c.Store(channelID).StageRemove(chatID)
	if err != nil {
		return "", err
	}
	if err := c.writeFrame(dto.SocketFrame{Op: dto.SocketOpChat, Chat: &req}); err != nil {
		return "", err
	}

	return req.Nonce, nil
}

// Close tears down the connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	return c.conn.Close()
}

// Done is closed when the read loop exits.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writeFrame(frame dto.SocketFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return websocket.ErrCloseSent
	}

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("failed to write chat frame: %w", err)
	}

	return nil
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closed := c.closed
			c.mu.Unlock()
			if !closed && c.onError != nil {
				c.onError(err)
			}
			return
		}

		var ack dto.ChatAck
		if err := json.Unmarshal(payload, &ack); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed server payload")
			continue
		}
		if ack.ChatInfo == nil && ack.Nonce == "" {
			continue
		}

		c.dispatch(ack)
	}
}

// dispatch routes a server payload. Frames carrying a nonce answer one of
// this client's own mutations; frames without a nonce are broadcasts from
// other members of the room.
func (c *Client) dispatch(ack dto.ChatAck) {
	var channelID string
	if ack.ChatInfo != nil {
		channelID = ack.ChatInfo.ChannelID
	}

	if ack.Nonce != "" {
		if channelID != "" {
			c.Store(channelID).Resolve(ack)
			return
		}
		// A failed ack has no ChatInfo, so try every store holding the nonce.
		c.mu.Lock()
		stores := make([]*Store, 0, len(c.stores))
		for _, store := range c.stores {
			stores = append(stores, store)
		}
		c.mu.Unlock()
		for _, store := range stores {
			store.Resolve(ack)
		}
		return
	}

	if channelID != "" {
		c.Store(channelID).ApplyBroadcast(*ack.ChatInfo)
	}
}
