// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides chat-message persistence. Messages are
// written by the route layer around relay fan-out; the relay itself only
// updates read-state when a mark_read event arrives.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// CreateMessage inserts a new chat message row. The chat routes own message
// creation; the relay only fans out and updates read-state, so in this
// process the writer is exercised by tests.
func CreateMessage(db *gorm.DB, conversationID, senderID, receiverID, content, messageType string) (*domain.Message, error) {
	if messageType == "" {
		messageType = "text"
	}
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		ReceiverID:     receiverID,
		Content:        content,
		MessageType:    messageType,
		CreatedAt:      time.Now().UTC(),
	}
	return m, db.Create(m).Error
}

// GetMessage fetches a message by ID.
func GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	var m domain.Message
	if err := db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkMessageRead stamps read_at on a message addressed to userID and
// returns the read timestamp. Only the receiver can mark a message read;
// re-marking keeps the original timestamp and reports false.
func MarkMessageRead(ctx context.Context, db *gorm.DB, messageID, userID string) (time.Time, bool, error) {
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("id = ? AND receiver_id = ? AND read_at IS NULL", messageID, userID).
		Update("read_at", now)
	if res.Error != nil {
		return time.Time{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		// Already read (or not addressed to this user): surface the stored
		// timestamp when one exists.
		var m domain.Message
		if err := db.WithContext(ctx).Where("id = ?", messageID).First(&m).Error; err != nil {
			return time.Time{}, false, err
		}
		if m.ReadAt != nil {
			return *m.ReadAt, false, nil
		}
		return time.Time{}, false, nil
	}
	return now, true, nil
}
