package handler

import (
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/chathub"
	"coursechat/backend/internal/membership"
	"coursechat/backend/internal/models"
	"coursechat/backend/internal/storage"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

type createRoomRequest struct {
	Kind    string `json:"kind" binding:"required"`
	ScopeID string `json:"scopeId" binding:"required"`
}

type postMessageRequest struct {
	Content string `json:"content"`
}

// CreateRoom returns the room for (kind, scopeId), creating it if needed.
// Only instructors and admins may create rooms.
func (h *Handler) CreateRoom(c *gin.Context) {
	identity := identityFrom(c)
	if identity.Role != auth.RoleInstructor && identity.Role != auth.RoleAdmin {
		c.JSON(http.StatusForbidden, gin.H{"error": "only instructors and admins can create rooms"})
		return
	}

	var req createRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind and scopeId are required"})
		return
	}
	kind, err := models.ParseRoomKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.Storage.GetOrCreateRoom(c.Request.Context(), kind, req.ScopeID)
	if err != nil {
		h.internalError(c, "create room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// LookupRoom finds a room by kind and scope id.
func (h *Handler) LookupRoom(c *gin.Context) {
	kind, err := models.ParseRoomKind(c.Query("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	scopeID := c.Query("scopeId")
	if scopeID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scopeId is required"})
		return
	}

	room, err := h.Storage.FindRoom(c.Request.Context(), kind, scopeID)
	if errors.Is(err, storage.ErrRoomNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}
	if err != nil {
		h.internalError(c, "lookup room", err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// GetMessages returns a room's history in ascending sentAt order. An unknown
// room has an empty history.
func (h *Handler) GetMessages(c *gin.Context) {
	room, ok := h.authorizedRoom(c)
	if !ok {
		return
	}
	if room == nil {
		c.JSON(http.StatusOK, []models.MessageEvent{})
		return
	}

	msgs, err := h.Storage.ListByRoom(c.Request.Context(), room.ID)
	if err != nil {
		h.internalError(c, "list messages", err)
		return
	}

	out := make([]models.MessageEvent, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, models.NewMessageEvent(room.ScopeID, msg))
	}
	c.JSON(http.StatusOK, out)
}

// PostMessage persists a message and broadcasts it to the room's live
// subscribers, exactly like a socket post.
func (h *Handler) PostMessage(c *gin.Context) {
	room, ok := h.authorizedRoom(c)
	if !ok {
		return
	}
	if room == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	var req postMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	msg, err := h.Hub.PostMessageToRoom(c.Request.Context(), room, identityFrom(c).UserID, req.Content)
	if errors.Is(err, chathub.ErrInvalidContent) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.internalError(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, models.NewMessageEvent(room.ScopeID, *msg))
}

// authorizedRoom loads the :roomId room and checks the caller's enrollment.
// It returns (nil, true) for an unknown room and writes the response itself
// when it returns false.
func (h *Handler) authorizedRoom(c *gin.Context) (*models.ChatRoom, bool) {
	ctx := c.Request.Context()

	room, err := h.Storage.GetRoomByID(ctx, c.Param("roomId"))
	if errors.Is(err, storage.ErrRoomNotFound) {
		return nil, true
	}
	if err != nil {
		h.internalError(c, "get room", err)
		return nil, false
	}

	// The REST path never honours test access.
	decision := h.Authority.AuthorizeJoin(ctx, membership.Subject{Identity: identityFrom(c)}, room.Kind, room.ScopeID)
	if !decision.Allowed {
		c.JSON(http.StatusForbidden, gin.H{"error": "you are not a member of this room"})
		return nil, false
	}
	return room, true
}

func (h *Handler) internalError(c *gin.Context, op string, err error) {
	h.logger.Error(op+" failed", "path", c.FullPath(), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
