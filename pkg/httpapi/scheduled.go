package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/scheduler"
)

type Scheduler interface {
	Schedule(ctx context.Context, req scheduler.ScheduleRequest) (*model.ScheduledMessage, error)
	Pending(ctx context.Context, userID string) ([]model.ScheduledMessage, error)
	Cancel(ctx context.Context, id, userID string) error
	Reschedule(ctx context.Context, id, userID string, at time.Time) (*model.ScheduledMessage, error)
	SendNow(ctx context.Context, id string) (*model.ScheduledMessage, error)
}

type ScheduleHandler struct {
	engine Scheduler
	logger *slog.Logger
}

func NewScheduleHandler(engine Scheduler, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{engine: engine, logger: logger}
}

// Register mounts the handlers under rg.
func (h *ScheduleHandler) Register(rg *gin.RouterGroup) {
	rg.POST("/schedule", h.Schedule)
	rg.GET("/scheduled/:userId", h.List)
	rg.PUT("/reschedule/:msgId", h.Reschedule)
	rg.POST("/cancel/:msgId", h.Cancel)
	rg.POST("/send/:msgId", h.SendNow)
}

type ScheduleRequest struct {
	From          string    `json:"from"`
	To            string    `json:"to"`
	Message       string    `json:"message"`
	ScheduledTime time.Time `json:"scheduledTime"`
}

type RescheduleRequest struct {
	UserID           string    `json:"userId"`
	NewScheduledTime time.Time `json:"newScheduledTime"`
}

type CancelRequest struct {
	UserID string `json:"userId"`
}

// Schedule handles POST /api/scheduled/schedule
func (h *ScheduleHandler) Schedule(c *gin.Context) {
	var req ScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	from, allowed := actingUser(c, req.From)
	if !allowed {
		return
	}

	sm, err := h.engine.Schedule(c.Request.Context(), scheduler.ScheduleRequest{
		From: from, To: req.To, Text: req.Message, At: req.ScheduledTime,
	})
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	created(c, "Message scheduled successfully", sm)
}

// List handles GET /api/scheduled/scheduled/:userId
func (h *ScheduleHandler) List(c *gin.Context) {
	self, allowed := actingUser(c, c.Param("userId"))
	if !allowed {
		return
	}
	pending, err := h.engine.Pending(c.Request.Context(), self)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "", pending)
}

// Reschedule handles PUT /api/scheduled/reschedule/:msgId
func (h *ScheduleHandler) Reschedule(c *gin.Context) {
	var req RescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}
	self, allowed := actingUser(c, req.UserID)
	if !allowed {
		return
	}

	sm, err := h.engine.Reschedule(c.Request.Context(), c.Param("msgId"), self, req.NewScheduledTime)
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "Message rescheduled successfully", sm)
}

// Cancel handles POST /api/scheduled/cancel/:msgId
func (h *ScheduleHandler) Cancel(c *gin.Context) {
	var req CancelRequest
	// an empty body means the token user
	_ = c.ShouldBindJSON(&req)
	self, allowed := actingUser(c, req.UserID)
	if !allowed {
		return
	}

	if err := h.engine.Cancel(c.Request.Context(), c.Param("msgId"), self); err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "Scheduled message cancelled", nil)
}

// SendNow handles POST /api/scheduled/send/:msgId
func (h *ScheduleHandler) SendNow(c *gin.Context) {
	if _, allowed := actingUser(c, ""); !allowed {
		return
	}
	sm, err := h.engine.SendNow(c.Request.Context(), c.Param("msgId"))
	if err != nil {
		fail(c, h.logger, err)
		return
	}
	ok(c, "Scheduled message sent", sm)
}
