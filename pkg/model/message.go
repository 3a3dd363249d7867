package model

import "time"

// DeletedText replaces the body of a deleted message.
const DeletedText = "This message was deleted"

// Body is the content of a direct message. Either field may be empty.
type Body struct {
	Text    string `json:"text,omitempty" gorm:"column:text;type:text"`
	FileURL string `json:"fileUrl,omitempty" gorm:"column:file_url;size:512"`
}

// Message is a persisted direct message between two users.
type Message struct {
	ID          int64      `json:"id,string" gorm:"primaryKey;autoIncrement:false"`
	SenderID    string     `json:"senderId" gorm:"size:64;not null;index:idx_pair,priority:1"`
	RecipientID string     `json:"recipientId" gorm:"size:64;not null;index:idx_pair,priority:2"`
	Body        Body       `json:"message" gorm:"embedded"`
	IsEdited    bool       `json:"isEdited" gorm:"default:false"`
	IsDeleted   bool       `json:"isDeleted" gorm:"default:false"`
	IsRead      bool       `json:"isRead" gorm:"default:false;index"`
	CreatedAt   time.Time  `json:"createdAt"`
	EditedAt    *time.Time `json:"editedAt,omitempty"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// User is the minimal account record the delivery core needs: an id and a
// display name for sender labels.
type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:64"`
	Username  string    `json:"username" gorm:"size:64;not null;uniqueIndex"`
	CreatedAt time.Time `json:"createdAt"`
}
