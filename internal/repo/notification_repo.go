// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the bounded per-user notification feed:
// append with capacity eviction, newest-first listing, and read-state
// updates. The feed is intentionally not a system of record; once a user's
// list exceeds its capacity the oldest entries are dropped.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// AppendNotification inserts n and evicts the oldest entries beyond capacity
// for the same user, in one transaction. Re-inserting an existing ID is a
// no-op success so re-publication of the same logical event stays idempotent.
func AppendNotification(ctx context.Context, db *gorm.DB, n *domain.Notification, capacity int) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", n.ID).Limit(1).Find(&domain.Notification{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil // already published
		}
		if err := tx.Create(n).Error; err != nil {
			return err
		}
		// Evict oldest beyond capacity. Subquery keeps the newest `capacity`
		// rows; insertion order ties broken by id for determinism.
		return tx.Exec(`
			DELETE FROM notifications
			WHERE user_id = ? AND id NOT IN (
				SELECT id FROM notifications
				WHERE user_id = ?
				ORDER BY created_at DESC, id DESC
				LIMIT ?
			)`, n.UserID, n.UserID, capacity).Error
	})
}

// ListNotifications returns up to limit entries for userID, newest first.
func ListNotifications(ctx context.Context, db *gorm.DB, userID string, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	q := db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// CountUnread returns the number of unread entries for userID.
func CountUnread(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&total).Error
	return total, err
}

// MarkNotificationRead flips the read flag on one entry. Returns true when a
// row actually changed; marking an already-read (or unknown) id reports
// false with no error, so callers can treat repeats as no-op successes.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, userID, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND id = ? AND read = ?", userID, id, false).
		Update("read", true)
	return res.RowsAffected > 0, res.Error
}

// MarkAllNotificationsRead flips the read flag on every unread entry for
// userID and returns how many changed.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true)
	return res.RowsAffected, res.Error
}

// ClearNotifications removes the entire feed for userID. Clearing an empty
// feed is a no-op success.
func ClearNotifications(ctx context.Context, db *gorm.DB, userID string) error {
	return db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&domain.Notification{}).Error
}
