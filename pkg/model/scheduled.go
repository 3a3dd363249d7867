package model

import "time"

// ScheduleStatus is the lifecycle state of a ScheduledMessage. The only
// legal transitions are pending->sent and pending->cancelled.
type ScheduleStatus string

const (
	StatusPending   ScheduleStatus = "pending"
	StatusSent      ScheduleStatus = "sent"
	StatusCancelled ScheduleStatus = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s ScheduleStatus) Terminal() bool {
	return s == StatusSent || s == StatusCancelled
}

// CanTransition reports whether moving from s to next is legal.
func (s ScheduleStatus) CanTransition(next ScheduleStatus) bool {
	return s == StatusPending && (next == StatusSent || next == StatusCancelled)
}

// ScheduledMessage is a text message waiting for its delivery time.
type ScheduledMessage struct {
	ID            string         `json:"id" gorm:"primaryKey;size:36"`
	FromUserID    string         `json:"from" gorm:"size:64;not null;index"`
	ToUserID      string         `json:"to" gorm:"size:64;not null"`
	Text          string         `json:"message" gorm:"type:text;not null"`
	ScheduledTime time.Time      `json:"scheduledTime" gorm:"not null;index:idx_due,priority:2"`
	Status        ScheduleStatus `json:"status" gorm:"size:16;not null;default:pending;index:idx_due,priority:1"`
	SentAt        *time.Time     `json:"sentAt,omitempty"`
	MessageID     *int64         `json:"messageId,string,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}
