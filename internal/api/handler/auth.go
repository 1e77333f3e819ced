package handler

import (
	"coursechat/backend/internal/auth"
	"coursechat/backend/internal/config"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const identityKey = "identity"

type tokenRequest struct {
	UserID string    `json:"userId"`
	Role   auth.Role `json:"role"`
}

// IssueToken mints a token for local development and test harnesses. An
// empty userId gets a fresh random id; an empty role means student.
func (h *Handler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	if strings.TrimSpace(req.UserID) == "" {
		req.UserID = uuid.NewString()
	}
	if req.Role == "" {
		req.Role = auth.RoleStudent
	}
	if !req.Role.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown role"})
		return
	}

	ttl := h.settings.TokenTTL
	if ttl <= 0 {
		ttl = config.DefaultTokenTTL
	}
	token, err := h.Resolver.Issue(req.UserID, req.Role, ttl)
	if err != nil {
		h.logger.Error("failed to issue token", "user_id", req.UserID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": token, "userId": req.UserID, "role": req.Role})
}

// RequireIdentity rejects requests without a valid bearer token and stores
// the resolved identity in the gin context.
func (h *Handler) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, err := h.Resolver.Resolve(auth.CredentialFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token or expired"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	identity, _ := v.(auth.Identity)
	return identity
}
