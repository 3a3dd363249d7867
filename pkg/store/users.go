package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mahaj/dupahar-chat/pkg/model"
)

// EnsureUser returns the user named username, creating it on first use.
func (s *Store) EnsureUser(ctx context.Context, username string) (*model.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, model.Invalid("username is required")
	}

	var user model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err == nil {
		return &user, nil
	}
	if !notFound(err) {
		return nil, fmt.Errorf("store: find user %s: %w", username, err)
	}

	user = model.User{ID: uuid.NewString(), Username: username, CreatedAt: s.now()}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		// lost a race against another login for the same name
		var existing model.User
		if findErr := s.db.WithContext(ctx).Where("username = ?", username).First(&existing).Error; findErr == nil {
			return &existing, nil
		}
		return nil, fmt.Errorf("store: create user %s: %w", username, err)
	}
	return &user, nil
}

// DisplayName returns the username for userID.
func (s *Store) DisplayName(ctx context.Context, userID string) (string, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Select("username").Where("id = ?", userID).First(&user).Error; err != nil {
		if notFound(err) {
			return "", model.ErrNotFound
		}
		return "", fmt.Errorf("store: user %s: %w", userID, err)
	}
	return user.Username, nil
}
