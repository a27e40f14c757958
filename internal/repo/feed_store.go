// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file adapts the notification feed functions into the
// store shape the bus consumes (methods instead of free functions), carrying
// the configured per-user capacity.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// FeedStore is the gorm-backed bounded feed. It satisfies bus.Store.
type FeedStore struct {
	db       *gorm.DB
	capacity int
}

// NewFeedStore wraps db with the given per-user capacity (entries beyond it
// are evicted oldest-first on append). Capacity below 1 is coerced to 1.
func NewFeedStore(db *gorm.DB, capacity int) *FeedStore {
	if capacity < 1 {
		capacity = 1
	}
	return &FeedStore{db: db, capacity: capacity}
}

// Append proxies AppendNotification with the store capacity.
func (s *FeedStore) Append(ctx context.Context, n *domain.Notification) error {
	return AppendNotification(ctx, s.db, n, s.capacity)
}

// List proxies ListNotifications.
func (s *FeedStore) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	return ListNotifications(ctx, s.db, userID, limit)
}

// MarkRead proxies MarkNotificationRead.
func (s *FeedStore) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	return MarkNotificationRead(ctx, s.db, userID, id)
}

// MarkAllRead proxies MarkAllNotificationsRead.
func (s *FeedStore) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return MarkAllNotificationsRead(ctx, s.db, userID)
}

// Clear proxies ClearNotifications.
func (s *FeedStore) Clear(ctx context.Context, userID string) error {
	return ClearNotifications(ctx, s.db, userID)
}
