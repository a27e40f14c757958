// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides user lookups for templates and
// push-token resolution.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// GetUser fetches a user by ID.
func GetUser(ctx context.Context, db *gorm.DB, id string) (*domain.User, error) {
	var u domain.User
	if err := db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// GetPushTarget resolves the push token and provider for a user. A nil token
// means the user has no registered device; callers treat that as
// "unreachable by push", not an error.
func GetPushTarget(ctx context.Context, db *gorm.DB, userID string) (token *string, provider string, err error) {
	u, err := GetUser(ctx, db, userID)
	if err != nil {
		return nil, "", err
	}
	provider = u.PushProvider
	if provider == "" {
		provider = domain.PushProviderExpo
	}
	return u.PushToken, provider, nil
}

// SetPushToken stores (or clears, with nil) a user's push token and
// provider. Token registration belongs to the account routes of the main
// app; this process only reads tokens, so outside tests nothing here calls
// it.
func SetPushToken(ctx context.Context, db *gorm.DB, userID string, token *string, provider string) error {
	return db.WithContext(ctx).
		Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"push_token": token, "push_provider": provider}).Error
}
