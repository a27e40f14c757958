// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the lesson-request queries used by the
// delivery fallback poller.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// CreateLessonRequest inserts a new pending request row. The notified flag
// starts false; either the change-capture path or the fallback poller picks
// the record up from there. Called by the booking routes, which live in a
// separate service; in this process only tests create requests.
func CreateLessonRequest(db *gorm.DB, studentID, teacherID, subject, message, mode string) (*domain.LessonRequest, error) {
	r := &domain.LessonRequest{
		ID:        uuid.NewString(),
		StudentID: studentID,
		TeacherID: teacherID,
		Subject:   subject,
		Message:   message,
		Mode:      mode,
		Status:    domain.RequestStatusPending,
		CreatedAt: time.Now().UTC(),
	}
	return r, db.Create(r).Error
}

// ListPendingUnnotified returns requests still in the initial state whose
// notified flag is false, oldest first, capped at limit.
func ListPendingUnnotified(ctx context.Context, db *gorm.DB, limit int) ([]domain.LessonRequest, error) {
	var out []domain.LessonRequest
	q := db.WithContext(ctx).
		Where("status = ? AND notified = ?", domain.RequestStatusPending, false).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// MarkRequestNotified sets notified=true for id. The WHERE clause on the
// current flag value makes the transition one-way: a second call reports
// false and changes nothing.
func MarkRequestNotified(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	res := db.WithContext(ctx).
		Model(&domain.LessonRequest{}).
		Where("id = ? AND notified = ?", id, false).
		Update("notified", true)
	return res.RowsAffected > 0, res.Error
}

// UpdateRequestStatus transitions a request to newStatus. Delivery for the
// transition rides the change-capture path; there is no notified flag per
// transition. Like CreateLessonRequest, the production writer is the
// booking service, not this process.
func UpdateRequestStatus(ctx context.Context, db *gorm.DB, id, newStatus string) error {
	return db.WithContext(ctx).
		Model(&domain.LessonRequest{}).
		Where("id = ?", id).
		Update("status", newStatus).Error
}
