package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"
	"chat-relay/internal/telemetry"
)

// AuthService checks credentials and creates accounts.
type AuthService interface {
	Login(ctx context.Context, username, password string) (models.Identity, error)
	Register(ctx context.Context, username, password, fullName string) (models.Identity, error)
}

// AuthHandler exposes the login/register endpoints.
type AuthHandler struct {
	service AuthService
	emitter *telemetry.AuditEmitter
}

// NewAuthHandler builds an AuthHandler.
func NewAuthHandler(service AuthService, emitter *telemetry.AuditEmitter) *AuthHandler {
	return &AuthHandler{service: service, emitter: emitter}
}

// Login checks a username/password pair. Error bodies match what the frontend
// displays verbatim.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.service.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUnknownAccount):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Account does not exist"})
		case errors.Is(err, auth.ErrBadPassword):
			h.emitter.Emit(c.Request.Context(), "WARN", "failed login attempt", requestIDFromContext(c), &req.Username)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect password"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"username": identity.Username,
		"fullName": identity.FullName,
	})
}

// Register creates a new account.
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
		FullName string `json:"fullName" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.service.Register(c.Request.Context(), req.Username, req.Password, req.FullName)
	if err != nil {
		if errors.Is(err, auth.ErrUsernameTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	h.emitter.Emit(c.Request.Context(), "INFO", "account registered", requestIDFromContext(c), &identity.Username)
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"username":  identity.Username,
		"fullName":  identity.FullName,
		"avatarUrl": identity.AvatarURL,
	})
}
