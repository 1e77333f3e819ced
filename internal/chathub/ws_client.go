package chathub

import (
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/config"
	"coursechat/backend/internal/models"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// WebSocketClient implements Client over a gorilla/websocket connection.
type WebSocketClient struct {
	ConnID   string
	Identity auth.Identity
	Conn     *websocket.Conn
	Hub      *ManagerService
	Send     chan models.OutboundEvent

	logger    *slog.Logger
	closeOnce sync.Once
}

// NewWebSocketClient wraps an upgraded connection for an authenticated user.
func NewWebSocketClient(conn *websocket.Conn, hub *ManagerService, identity auth.Identity, logger *slog.Logger) *WebSocketClient {
	id := uuid.NewString()
	return &WebSocketClient{
		ConnID:   id,
		Identity: identity,
		Conn:     conn,
		Hub:      hub,
		Send:     make(chan models.OutboundEvent, config.SendBufferSize),
		logger:   logger.With(slog.String("conn_id", id), slog.String("user_id", identity.UserID)),
	}
}

func (c *WebSocketClient) GetConnectionID() string                     { return c.ConnID }
func (c *WebSocketClient) GetIdentity() auth.Identity                  { return c.Identity }
func (c *WebSocketClient) GetSendChannel() chan<- models.OutboundEvent { return c.Send }

// Run starts the pumps. The read pump owns unregistration.
func (c *WebSocketClient) Run() {
	go c.writePump()
	go c.readPump()
}

// Close closes the send channel, which makes the write pump send a close
// frame and exit.
func (c *WebSocketClient) Close() {
	c.closeOnce.Do(func() { close(c.Send) })
}
