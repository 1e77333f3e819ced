package handler

import (
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chathub"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Any origin is accepted; the socket is authenticated by token.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWebSocket authenticates the request and upgrades it. The credential
// is a bearer token in the Authorization header or the token query
// parameter. Invalid credentials are refused before the upgrade.
func (h *Handler) ServeWebSocket(c *gin.Context) {
	identity, err := h.Resolver.Resolve(auth.CredentialFromRequest(c.Request))
	if err != nil {
		h.logger.Info("websocket connection refused", "remote", c.ClientIP(), "error", err)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response.
		h.logger.Warn("websocket upgrade failed", "user_id", identity.UserID, "error", err)
		return
	}

	client := chathub.NewWebSocketClient(conn, h.Hub, identity, h.logger)
	if err := h.Hub.Register(c.Request.Context(), client); err != nil {
		h.logger.Warn("could not register connection", "user_id", identity.UserID, "error", err)
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "server unavailable"))
		conn.Close()
		return
	}

	client.Run()
}
