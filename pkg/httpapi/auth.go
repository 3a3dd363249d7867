package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mahaj/dupahar-chat/pkg/auth"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

type UserStore interface {
	EnsureUser(ctx context.Context, username string) (*model.User, error)
}

type AuthHandler struct {
	users  UserStore
	issuer *auth.Issuer
	logger *slog.Logger
}

func NewAuthHandler(users UserStore, issuer *auth.Issuer, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{users: users, issuer: issuer, logger: logger}
}

type LoginRequest struct {
	Username string `json:"username"`
}

// Login handles POST /login. Credentials live outside this service, so a
// username is enough to get a token.
func (h *AuthHandler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	user, err := h.users.EnsureUser(c.Request.Context(), req.Username)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	token, err := h.issuer.GenerateToken(user.ID, user.Username)
	if err != nil {
		fail(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": true, "token": token, "user": user})
}
