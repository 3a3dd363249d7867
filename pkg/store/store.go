// Package store persists users, direct messages and scheduled messages
// with gorm. Every status transition is decided by a conditional UPDATE and
// its RowsAffected, never by an earlier read, so concurrent writers race on
// the row itself.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/mahaj/dupahar-chat/pkg/model"
	"github.com/mahaj/dupahar-chat/pkg/snowflake"
	"gorm.io/gorm"
)

type Store struct {
	db  *gorm.DB
	ids *snowflake.Node
	now func() time.Time
}

// New wraps db. ids assigns message ids.
func New(db *gorm.DB, ids *snowflake.Node) *Store {
	return &Store{
		db:  db,
		ids: ids,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates or updates the tables.
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&model.User{}, &model.Message{}, &model.ScheduledMessage{}); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func notFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
