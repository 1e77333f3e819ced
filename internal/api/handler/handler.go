// Package handler exposes the chat hub over HTTP: the WebSocket endpoint and
// the REST fallbacks that share its persistence path.
package handler

import (
	"context"
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chathub"
	"coursechat/backend/internal/membership"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Authorizer decides whether an identity may read or write a room.
type Authorizer interface {
	AuthorizeJoin(ctx context.Context, subject membership.Subject, kind models.RoomKind, scopeID string) membership.Decision
}

// Settings are the handler's tunables.
type Settings struct {
	// DevTokens enables POST /auth/token. Never enable it in production.
	DevTokens bool
	TokenTTL  time.Duration
}

// Handler holds the shared hub, store and identity resolver.
type Handler struct {
	Hub       *chathub.ManagerService
	Storage   storage.Storage
	Authority Authorizer
	Resolver  *auth.Resolver

	settings Settings
	logger   *slog.Logger
}

func NewHandler(hub *chathub.ManagerService, s storage.Storage, authority Authorizer, resolver *auth.Resolver, settings Settings, logger *slog.Logger) *Handler {
	return &Handler{
		Hub:       hub,
		Storage:   s,
		Authority: authority,
		Resolver:  resolver,
		settings:  settings,
		logger:    logger.With(slog.String("component", "http")),
	}
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(h.logger))

	r.GET("/healthz", h.Health)
	r.GET("/ws", h.ServeWebSocket)
	if h.settings.DevTokens {
		h.logger.Warn("development token endpoint is enabled")
		r.POST("/auth/token", h.IssueToken)
	}

	rooms := r.Group("/rooms", h.RequireIdentity())
	rooms.POST("", h.CreateRoom)
	rooms.GET("/lookup", h.LookupRoom)
	rooms.GET("/:roomId/messages", h.GetMessages)
	rooms.POST("/:roomId/messages", h.PostMessage)

	return r
}

// Health reports liveness and the number of open connections.
func (h *Handler) Health(c *gin.Context) {
	n, err := h.Hub.ConnectionCount(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": n})
}
