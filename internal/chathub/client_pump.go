package chathub

import (
	"context"
	"coursechat/backend/internal/config"
	"time"

	"github.com/gorilla/websocket"
)

// readPump feeds frames from the socket to the hub until the connection
// fails or closes, then unregisters the client.
func (c *WebSocketClient) readPump() {
	defer func() {
		if err := c.Hub.Unregister(context.Background(), c); err != nil {
			c.logger.Debug("unregister after read pump exit", "error", err)
		}
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		msgType, frame, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn("websocket read failed", "error", err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		// Errors were already reported to the client as error events.
		_ = c.Hub.HandleInbound(context.Background(), c, frame)
	}
}

// writePump writes queued events as JSON text frames and keeps the
// connection alive with pings.
func (c *WebSocketClient) writePump() {
	ticker := time.NewTicker(config.PingPeriod)

	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case event, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if !ok {
				// hub closed the channel
				c.Conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteJSON(event); err != nil {
				c.logger.Warn("websocket write failed", "event", event.Event, "error", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
