package httpapi

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/mahaj/dupahar-chat/pkg/conversations"
)

type ConversationStore interface {
	List(ctx context.Context, userID string) ([]conversations.Conversation, error)
	ResetUnread(ctx context.Context, userID, other string) error
}

type ConversationHandler struct {
	store  ConversationStore
	logger *slog.Logger
}

func NewConversationHandler(store ConversationStore, logger *slog.Logger) *ConversationHandler {
	return &ConversationHandler{store: store, logger: logger}
}

type ReadRequest struct {
	OtherUserID string `json:"other_user_id"`
}

// List handles GET /api/conversations
func (h *ConversationHandler) List(c *gin.Context) {
	self, allowed := actingUser(c, "")
	if !allowed {
		return
	}
	convs, err := h.store.List(c.Request.Context(), self)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "", convs)
}

// MarkRead handles POST /api/conversations/read
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	var req ReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.OtherUserID == "" {
		badRequest(c, "other_user_id is required")
		return
	}
	self, allowed := actingUser(c, "")
	if !allowed {
		return
	}
	if err := h.store.ResetUnread(c.Request.Context(), self, req.OtherUserID); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "Unread count reset", nil)
}

// OnlineSource answers bulk presence queries.
type OnlineSource interface {
	Members(ctx context.Context) ([]string, error)
}

type PresenceHandler struct {
	source OnlineSource
	logger *slog.Logger
}

func NewPresenceHandler(source OnlineSource, logger *slog.Logger) *PresenceHandler {
	return &PresenceHandler{source: source, logger: logger}
}

// List handles GET /api/presence
func (h *PresenceHandler) List(c *gin.Context) {
	users, err := h.source.Members(c.Request.Context())
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "", gin.H{"users": users})
}
