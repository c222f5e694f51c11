// Package users is the user directory: it resolves user IDs to full
// records for the auth pipeline and the account handlers.
package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/beacond-dev/beacond/internal/models"
)

// Service looks up and manages user accounts
type Service struct {
	db  *gorm.DB
	log zerolog.Logger
}

// NewService creates a user directory service
func NewService(db *gorm.DB, log zerolog.Logger) *Service {
	return &Service{db: db, log: log}
}

// GetUser resolves a user by ID. A missing user is (nil, nil); errors are
// reserved for database failures.
func (s *Service) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user %s: %w", id, err)
	}

	return &user, nil
}

// GetUserByUsername resolves a user by username for login
func (s *Service) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by username: %w", err)
	}

	return &user, nil
}

// Create inserts a new user with a pre-hashed password
func (s *Service) Create(ctx context.Context, username, passwordHash, role string) (*models.User, error) {
	user := &models.User{
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
	}

	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info().Str("user_id", user.ID).Str("username", username).Msg("User created")
	return user, nil
}
