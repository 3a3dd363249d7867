package httpapi

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

type MessageStore interface {
	CreateMessage(ctx context.Context, from, to string, body model.Body) (*model.Message, error)
	Conversation(ctx context.Context, a, b string) ([]model.Message, error)
	EditMessage(ctx context.Context, id int64, userID, text string) (*model.Message, error)
	DeleteMessage(ctx context.Context, id int64, userID string) (*model.Message, bool, error)
	ClearConversation(ctx context.Context, a, b string) (int64, error)
}

type MessageHandler struct {
	store   MessageStore
	journal events.Publisher
	logger  *slog.Logger
}

func NewMessageHandler(store MessageStore, journal events.Publisher, logger *slog.Logger) *MessageHandler {
	if journal == nil {
		journal = events.Nop{}
	}
	return &MessageHandler{store: store, journal: journal, logger: logger}
}

// Register mounts the handlers under rg.
func (h *MessageHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/addmsg", h.AddMessage)
	rg.POST("/getmsg", h.GetMessages)
	rg.PUT("/editmsg/:msgId", h.EditMessage)
	rg.DELETE("/deletemsg/:msgId", h.DeleteMessage)
	rg.POST("/clearchat", h.ClearChat)
}

type AddMessageRequest struct {
	From    string     `json:"from"`
	To      string     `json:"to"`
	Message model.Body `json:"message"`
}

type PeerRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type EditMessageRequest struct {
	Text string `json:"text"`
}

// ProjectedMessage is a message as seen by one side of the conversation.
type ProjectedMessage struct {
	ID        int64      `json:"id,string"`
	FromSelf  bool       `json:"fromSelf"`
	Message   model.Body `json:"message"`
	IsEdited  bool       `json:"isEdited"`
	IsDeleted bool       `json:"isDeleted"`
	IsRead    bool       `json:"isRead"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

// AddMessage handles POST /api/messages/addmsg
func (h *MessageHandler) AddMessage(c *gin.Context) {
	var req AddMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	from, allowed := actingUser(c, req.From)
	if !allowed {
		return
	}

	msg, err := h.store.CreateMessage(c.Request.Context(), from, req.To, req.Message)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.publish(c.Request.Context(), events.Event{
		Kind: events.KindMessageCreated, MessageID: msg.ID, From: msg.SenderID, To: msg.RecipientID, Timestamp: msg.CreatedAt,
	})
	created(c, "Message added successfully.", msg)
}

// GetMessages handles POST /api/messages/getmsg
func (h *MessageHandler) GetMessages(c *gin.Context) {
	var req PeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	self, allowed := actingUser(c, req.From)
	if !allowed {
		return
	}
	if req.To == "" {
		badRequest(c, "to is required")
		return
	}

	msgs, err := h.store.Conversation(c.Request.Context(), self, req.To)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	out := make([]ProjectedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, ProjectedMessage{
			ID:        m.ID,
			FromSelf:  m.SenderID == self,
			Message:   m.Body,
			IsEdited:  m.IsEdited,
			IsDeleted: m.IsDeleted,
			IsRead:    m.IsRead,
			CreatedAt: m.CreatedAt,
			EditedAt:  m.EditedAt,
		})
	}
	ok(c, "", out)
}

// EditMessage handles PUT /api/messages/editmsg/:msgId
func (h *MessageHandler) EditMessage(c *gin.Context) {
	id, valid := messageID(c)
	if !valid {
		return
	}
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	self, allowed := actingUser(c, "")
	if !allowed {
		return
	}

	msg, err := h.store.EditMessage(c.Request.Context(), id, self, req.Text)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.publish(c.Request.Context(), events.Event{
		Kind: events.KindMessageEdited, MessageID: msg.ID, From: msg.SenderID, To: msg.RecipientID, Timestamp: time.Now().UTC(),
	})
	ok(c, "Message edited successfully", msg)
}

// DeleteMessage handles DELETE /api/messages/deletemsg/:msgId
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	id, valid := messageID(c)
	if !valid {
		return
	}
	self, allowed := actingUser(c, "")
	if !allowed {
		return
	}

	msg, deleted, err := h.store.DeleteMessage(c.Request.Context(), id, self)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	if !deleted {
		ok(c, "Message already deleted", msg)
		return
	}
	h.publish(c.Request.Context(), events.Event{
		Kind: events.KindMessageDeleted, MessageID: msg.ID, From: msg.SenderID, To: msg.RecipientID, Timestamp: time.Now().UTC(),
	})
	ok(c, "Message deleted successfully", msg)
}

// ClearChat handles POST /api/messages/clearchat. The client calls it
// after the peer accepted the clear-chat request.
func (h *MessageHandler) ClearChat(c *gin.Context) {
	var req PeerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	self, allowed := actingUser(c, req.From)
	if !allowed {
		return
	}
	if req.To == "" {
		badRequest(c, "to is required")
		return
	}

	n, err := h.store.ClearConversation(c.Request.Context(), self, req.To)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	h.publish(c.Request.Context(), events.Event{
		Kind: events.KindConversationCleared, From: self, To: req.To, Timestamp: time.Now().UTC(),
	})
	ok(c, "Chat cleared successfully", gin.H{"deleted": n})
}

func (h *MessageHandler) publish(ctx context.Context, ev events.Event) {
	if err := h.journal.Publish(ctx, ev); err != nil {
		h.logger.Warn("failed to journal", "kind", ev.Kind, "error", err)
	}
}

func messageID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("msgId"), 10, 64)
	if err != nil {
		badRequest(c, "Invalid message id")
		return 0, false
	}
	return id, true
}
