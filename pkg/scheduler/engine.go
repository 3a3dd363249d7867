// Package scheduler delivers scheduled messages when they fall due.
//
// A cron job sweeps the store on a fixed interval. Each due message is
// promoted to a real Message in one store transaction that first claims
// the row with a conditional pending->sent update, so overlapping sweeps
// and manual sends cannot deliver the same message twice. The recipient is
// then notified if online.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/events"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/robfig/cron/v3"
)

const (
	// MinLead is how far in the future a message must be scheduled.
	MinLead = time.Second
	// MaxLead caps how far ahead a message may be scheduled.
	MaxLead = 365 * 24 * time.Hour

	fallbackLabel = "Scheduled Message"
)

type Store interface {
	CreateScheduled(ctx context.Context, sm *model.ScheduledMessage) error
	GetScheduled(ctx context.Context, id string) (*model.ScheduledMessage, error)
	PendingBySender(ctx context.Context, userID string) ([]model.ScheduledMessage, error)
	DueScheduled(ctx context.Context, now time.Time, limit int, skip ...string) ([]model.ScheduledMessage, error)
	CancelScheduled(ctx context.Context, id, userID string) error
	RescheduleScheduled(ctx context.Context, id, userID string, at time.Time) (*model.ScheduledMessage, error)
	PromoteScheduled(ctx context.Context, id string) (*model.Message, *model.ScheduledMessage, error)
	DisplayName(ctx context.Context, userID string) (string, error)
}

// Notifier pushes an event to a user's live connection, if any.
type Notifier interface {
	Push(userID string, event model.EventName, payload any) bool
}

type Options struct {
	Interval  time.Duration
	BatchSize int
}

type Engine struct {
	store    Store
	notifier Notifier
	journal  events.Publisher
	logger   *slog.Logger
	interval time.Duration
	batch    int
	now      func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func New(store Store, notifier Notifier, journal events.Publisher, logger *slog.Logger, opts Options) *Engine {
	if journal == nil {
		journal = events.Nop{}
	}
	if opts.Interval < time.Second {
		opts.Interval = time.Minute
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Engine{
		store:    store,
		notifier: notifier,
		journal:  journal,
		logger:   logger.With("component", "scheduler"),
		interval: opts.Interval,
		batch:    opts.BatchSize,
		now:      time.Now,
	}
}

// Start runs the sweep every interval until Stop. A tick that finds the
// previous sweep still running is skipped.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return errors.New("scheduler: already started")
	}

	log := cronLogger{e.logger}
	c := cron.New(
		cron.WithLogger(log),
		cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
	)
	e.ctx, e.cancel = context.WithCancel(context.Background())
	c.Schedule(cron.Every(e.interval), cron.FuncJob(e.tick))
	c.Start()

	e.cron = c
	e.running = true
	e.logger.Info("scheduler started", "interval", e.interval, "batch_size", e.batch)
	return nil
}

// Stop halts the timer and waits for an in-flight sweep, or for ctx.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	done := e.cron.Stop()
	cancel := e.cancel
	e.running = false
	e.mu.Unlock()

	select {
	case <-done.Done():
		cancel()
		e.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
}

func (e *Engine) tick() {
	e.mu.Lock()
	ctx := e.ctx
	e.mu.Unlock()

	n, err := e.Sweep(ctx)
	if err != nil {
		e.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		e.logger.Info("sweep delivered scheduled messages", "count", n)
	}
}

// Sweep promotes every due message once and reports how many it promoted.
// A message that fails stays pending for the next sweep. Failed rows are
// skipped for the rest of the sweep, so a full batch of them cannot hold
// back the messages due after them.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	now := e.now()
	var (
		delivered int
		failed    []string
	)
	for ctx.Err() == nil {
		due, err := e.store.DueScheduled(ctx, now, e.batch, failed...)
		if err != nil {
			return delivered, fmt.Errorf("scheduler: load due messages: %w", err)
		}

		for i := range due {
			if ctx.Err() != nil {
				break
			}
			sm := &due[i]
			_, err := e.deliver(ctx, sm.ID)
			switch {
			case err == nil:
				delivered++
			case errors.Is(err, model.ErrNotPending):
				e.logger.Debug("already handled", "scheduled_id", sm.ID)
			default:
				failed = append(failed, sm.ID)
				e.logger.Error("failed to deliver scheduled message", "scheduled_id", sm.ID, "error", err)
			}
		}
		if len(due) < e.batch {
			break
		}
	}
	if len(failed) > 0 {
		e.logger.Warn("scheduled messages left pending after sweep", "count", len(failed))
	}
	return delivered, nil
}

// SendNow delivers a pending message immediately through the same path as
// the sweep.
func (e *Engine) SendNow(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	return e.deliver(ctx, id)
}

func (e *Engine) deliver(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	msg, sm, err := e.store.PromoteScheduled(ctx, id)
	if err != nil {
		return nil, err
	}

	pushed := e.notifier.Push(sm.ToUserID, model.EventReceive, model.ReceivePayload{
		From:       sm.FromUserID,
		Msg:        msg.Body.Text,
		SenderName: e.label(ctx, sm.FromUserID),
		ID:         strconv.FormatInt(msg.ID, 10),
	})

	ev := events.Event{
		Kind:      events.KindMessageCreated,
		MessageID: msg.ID,
		From:      msg.SenderID,
		To:        msg.RecipientID,
		Scheduled: true,
		Timestamp: msg.CreatedAt,
	}
	if err := e.journal.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to journal scheduled message", "scheduled_id", id, "error", err)
	}

	e.logger.Info("scheduled message sent", "scheduled_id", id, "message_id", msg.ID, "to", sm.ToUserID, "pushed", pushed)
	return sm, nil
}

func (e *Engine) label(ctx context.Context, userID string) string {
	name, err := e.store.DisplayName(ctx, userID)
	if err != nil || name == "" {
		return fallbackLabel
	}
	return name + " (Scheduled)"
}

type ScheduleRequest struct {
	From string
	To   string
	Text string
	At   time.Time
}

// Schedule validates and stores a new pending message.
func (e *Engine) Schedule(ctx context.Context, req ScheduleRequest) (*model.ScheduledMessage, error) {
	if req.From == "" || req.To == "" {
		return nil, model.Invalid("from and to are required")
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, model.Invalid("message is required")
	}
	if err := e.checkTime(req.At); err != nil {
		return nil, err
	}

	sm := &model.ScheduledMessage{
		FromUserID:    req.From,
		ToUserID:      req.To,
		Text:          req.Text,
		ScheduledTime: req.At,
	}
	if err := e.store.CreateScheduled(ctx, sm); err != nil {
		return nil, err
	}
	e.logger.Info("message scheduled", "scheduled_id", sm.ID, "from", sm.FromUserID, "to", sm.ToUserID, "at", sm.ScheduledTime)
	return sm, nil
}

func (e *Engine) Pending(ctx context.Context, userID string) ([]model.ScheduledMessage, error) {
	return e.store.PendingBySender(ctx, userID)
}

// Cancel is only allowed for the sender while the message is pending.
func (e *Engine) Cancel(ctx context.Context, id, userID string) error {
	if err := e.store.CancelScheduled(ctx, id, userID); err != nil {
		return err
	}
	e.logger.Info("scheduled message cancelled", "scheduled_id", id, "user_id", userID)
	return nil
}

// Reschedule moves a pending message, with the same time window as Schedule.
func (e *Engine) Reschedule(ctx context.Context, id, userID string, at time.Time) (*model.ScheduledMessage, error) {
	if err := e.checkTime(at); err != nil {
		return nil, err
	}
	return e.store.RescheduleScheduled(ctx, id, userID, at)
}

func (e *Engine) checkTime(at time.Time) error {
	if at.IsZero() {
		return model.Invalid("scheduledTime is required")
	}
	now := e.now()
	if !at.After(now.Add(MinLead)) {
		return model.Invalid("Scheduled time must be at least 1 second in the future")
	}
	if at.After(now.Add(MaxLead)) {
		return model.Invalid("Cannot schedule messages more than 1 year in the future")
	}
	return nil
}

// Get loads one scheduled message.
func (e *Engine) Get(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	return e.store.GetScheduled(ctx, id)
}
