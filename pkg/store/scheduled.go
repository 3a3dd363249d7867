package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mahaj/dupahar-chat/pkg/model"
	"gorm.io/gorm"
)

// CreateScheduled stores a new pending scheduled message. Time validation
// is the caller's job.
func (s *Store) CreateScheduled(ctx context.Context, sm *model.ScheduledMessage) error {
	if sm.ID == "" {
		sm.ID = uuid.NewString()
	}
	sm.Text = strings.TrimSpace(sm.Text)
	sm.Status = model.StatusPending
	sm.ScheduledTime = sm.ScheduledTime.UTC()
	sm.SentAt = nil
	sm.MessageID = nil
	if err := s.db.WithContext(ctx).Create(sm).Error; err != nil {
		return fmt.Errorf("store: create scheduled message: %w", err)
	}
	return nil
}

// GetScheduled loads one scheduled message.
func (s *Store) GetScheduled(ctx context.Context, id string) (*model.ScheduledMessage, error) {
	var sm model.ScheduledMessage
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sm).Error; err != nil {
		if notFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("store: get scheduled message %s: %w", id, err)
	}
	return &sm, nil
}

// PendingBySender lists userID's pending messages, soonest first.
func (s *Store) PendingBySender(ctx context.Context, userID string) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	err := s.db.WithContext(ctx).
		Where("from_user_id = ? AND status = ?", userID, model.StatusPending).
		Order("scheduled_time ASC").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("store: pending scheduled messages for %s: %w", userID, err)
	}
	return out, nil
}

// DueScheduled returns up to limit pending messages whose time is at or
// before now, oldest first. Ids in skip are left out.
func (s *Store) DueScheduled(ctx context.Context, now time.Time, limit int, skip ...string) ([]model.ScheduledMessage, error) {
	var out []model.ScheduledMessage
	q := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_time <= ?", model.StatusPending, now.UTC())
	if len(skip) > 0 {
		q = q.Where("id NOT IN ?", skip)
	}
	q = q.Order("scheduled_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: due scheduled messages: %w", err)
	}
	return out, nil
}

// CancelScheduled moves a pending message owned by userID to cancelled.
// A message the sweep already sent reports ErrNotPending.
func (s *Store) CancelScheduled(ctx context.Context, id, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ScheduledMessage{}).
			Where("id = ? AND from_user_id = ? AND status = ?", id, userID, model.StatusPending).
			Update("status", model.StatusCancelled)
		if res.Error != nil {
			return fmt.Errorf("store: cancel scheduled message %s: %w", id, res.Error)
		}
		if res.RowsAffected == 1 {
			return nil
		}
		if _, err := classify(tx, id, userID); err != nil {
			return err
		}
		return model.ErrNotPending
	})
}

// RescheduleScheduled moves the delivery time of a pending message owned by
// userID.
func (s *Store) RescheduleScheduled(ctx context.Context, id, userID string, at time.Time) (*model.ScheduledMessage, error) {
	var sm *model.ScheduledMessage
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.ScheduledMessage{}).
			Where("id = ? AND from_user_id = ? AND status = ?", id, userID, model.StatusPending).
			Update("scheduled_time", at.UTC())
		if res.Error != nil {
			return fmt.Errorf("store: reschedule message %s: %w", id, res.Error)
		}
		current, err := classify(tx, id, userID)
		if err != nil {
			return err
		}
		// mysql counts changed rows only, so a no-op move matches nothing
		if res.RowsAffected == 1 || sameInstant(current.ScheduledTime, at) {
			sm = current
			return nil
		}
		return model.ErrNotPending
	})
	if err != nil {
		return nil, err
	}
	return sm, nil
}

// PromoteScheduled turns a pending scheduled message into a real Message.
// It loads the row, then claims it with a conditional pending->sent update
// and inserts the Message in the same transaction. The insert only happens
// when the update affected the row, so two sweeps (or a sweep and a manual
// send) cannot both create a Message.
func (s *Store) PromoteScheduled(ctx context.Context, id string) (*model.Message, *model.ScheduledMessage, error) {
	var (
		msg model.Message
		sm  model.ScheduledMessage
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&sm).Error; err != nil {
			if notFound(err) {
				return model.ErrNotFound
			}
			return fmt.Errorf("store: load scheduled message %s: %w", id, err)
		}
		if sm.Status != model.StatusPending {
			return model.ErrNotPending
		}

		now := s.now()
		msgID := s.ids.Generate()
		res := tx.Model(&model.ScheduledMessage{}).
			Where("id = ? AND status = ?", id, model.StatusPending).
			Updates(map[string]any{
				"status":     model.StatusSent,
				"sent_at":    now,
				"message_id": msgID,
			})
		if res.Error != nil {
			return fmt.Errorf("store: mark scheduled message %s sent: %w", id, res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrNotPending
		}

		msg = model.Message{
			ID:          msgID,
			SenderID:    sm.FromUserID,
			RecipientID: sm.ToUserID,
			Body:        model.Body{Text: sm.Text},
			CreatedAt:   now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("store: create message for scheduled %s: %w", id, err)
		}

		sm.Status = model.StatusSent
		sm.SentAt = &now
		sm.MessageID = &msgID
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &msg, &sm, nil
}

// sameInstant compares at the millisecond precision the drivers store.
func sameInstant(a, b time.Time) bool {
	d := a.Sub(b)
	return d > -time.Millisecond && d < time.Millisecond
}

// classify explains why a conditional update on id matched nothing.
func classify(tx *gorm.DB, id, userID string) (*model.ScheduledMessage, error) {
	var sm model.ScheduledMessage
	if err := tx.Where("id = ?", id).First(&sm).Error; err != nil {
		if notFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("store: load scheduled message %s: %w", id, err)
	}
	if sm.FromUserID != userID {
		return &sm, model.ErrForbidden
	}
	if sm.Status != model.StatusPending {
		return &sm, model.ErrNotPending
	}
	return &sm, nil
}
