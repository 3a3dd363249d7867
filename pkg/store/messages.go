package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"gorm.io/gorm"
)

// CreateMessage persists a direct message from one user to another.
func (s *Store) CreateMessage(ctx context.Context, from, to string, body model.Body) (*model.Message, error) {
	if from == "" {
		return nil, model.Invalid("from is required")
	}
	if to == "" {
		return nil, model.Invalid("to is required")
	}
	body.Text = strings.TrimSpace(body.Text)
	if body.Text == "" && body.FileURL == "" {
		return nil, model.Invalid("message text or file is required")
	}

	msg := model.Message{
		ID:          s.ids.Generate(),
		SenderID:    from,
		RecipientID: to,
		Body:        body,
		CreatedAt:   s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&msg).Error; err != nil {
		return nil, fmt.Errorf("store: create message: %w", err)
	}
	return &msg, nil
}

// GetMessage loads one message.
func (s *Store) GetMessage(ctx context.Context, id int64) (*model.Message, error) {
	var msg model.Message
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&msg).Error; err != nil {
		if notFound(err) {
			return nil, model.ErrNotFound
		}
		return nil, fmt.Errorf("store: get message %d: %w", id, err)
	}
	return &msg, nil
}

// Conversation returns every message between a and b, oldest first.
func (s *Store) Conversation(ctx context.Context, a, b string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", a, b, b, a).
		Order("id ASC").Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("store: conversation %s/%s: %w", a, b, err)
	}
	return msgs, nil
}

// EditMessage replaces the text of a message. Only the sender may edit,
// and deleted messages stay deleted.
func (s *Store) EditMessage(ctx context.Context, id int64, userID, text string) (*model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, model.Invalid("text is required")
	}

	var msg model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&model.Message{}).
			Where("id = ? AND sender_id = ? AND is_deleted = ?", id, userID, false).
			Updates(map[string]any{"text": text, "is_edited": true, "edited_at": now})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", id).First(&msg).Error; err != nil {
			if notFound(err) {
				return model.ErrNotFound
			}
			return err
		}
		if res.RowsAffected == 0 {
			if msg.SenderID != userID {
				return model.ErrForbidden
			}
			return model.ErrMessageDeleted
		}
		return nil
	})
	if err != nil {
		return nil, wrapMessageErr("edit", id, err)
	}
	return &msg, nil
}

// DeleteMessage tombstones a message in place: the row, its id and its
// position in the conversation are kept. Deleting a tombstone again returns
// it unchanged with deleted set to false.
func (s *Store) DeleteMessage(ctx context.Context, id int64, userID string) (*model.Message, bool, error) {
	var (
		m       model.Message
		deleted bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now()
		res := tx.Model(&model.Message{}).
			Where("id = ? AND sender_id = ? AND is_deleted = ?", id, userID, false).
			Updates(map[string]any{
				"text":       model.DeletedText,
				"file_url":   "",
				"is_deleted": true,
				"deleted_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if err := tx.Where("id = ?", id).First(&m).Error; err != nil {
			if notFound(err) {
				return model.ErrNotFound
			}
			return err
		}
		if m.SenderID != userID {
			return model.ErrForbidden
		}
		deleted = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return nil, false, wrapMessageErr("delete", id, err)
	}
	return &m, deleted, nil
}

// MarkRead flips isRead on every unread message sender sent to reader.
// isRead never goes back to false.
func (s *Store) MarkRead(ctx context.Context, senderID, readerID string) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Message{}).
		Where("sender_id = ? AND recipient_id = ? AND is_read = ?", senderID, readerID, false).
		Update("is_read", true)
	if res.Error != nil {
		return 0, fmt.Errorf("store: mark read %s->%s: %w", senderID, readerID, res.Error)
	}
	return res.RowsAffected, nil
}

// ClearConversation removes the whole history between a and b.
func (s *Store) ClearConversation(ctx context.Context, a, b string) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("(sender_id = ? AND recipient_id = ?) OR (sender_id = ? AND recipient_id = ?)", a, b, b, a).
		Delete(&model.Message{})
	if res.Error != nil {
		return 0, fmt.Errorf("store: clear conversation %s/%s: %w", a, b, res.Error)
	}
	return res.RowsAffected, nil
}

func wrapMessageErr(op string, id int64, err error) error {
	switch err {
	case model.ErrNotFound, model.ErrForbidden, model.ErrMessageDeleted:
		return err
	}
	return fmt.Errorf("store: %s message %d: %w", op, id, err)
}
