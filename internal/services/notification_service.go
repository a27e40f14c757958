// Package services – NotificationService
//
// This file implements NotificationService, the application-level component
// the HTTP layer talks to for the per-user notification feed. It validates
// inputs and delegates to the bus, which owns both the bounded persistent
// list and live fan-out.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include the user identifier and, where applicable, the notification id.
package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lessonlink/go-notify-backend/internal/bus"
	"github.com/lessonlink/go-notify-backend/internal/domain"
)

const defaultListLimit = 50

// NotificationService exposes the feed read/write surface over the bus.
type NotificationService struct {
	Bus *bus.Bus
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(b *bus.Bus) *NotificationService {
	return &NotificationService{Bus: b}
}

// List returns the most recent limit entries for userID, newest first.
// Non-positive limits fall back to a sane default.
func (s *NotificationService) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if userID == "" {
		return nil, ErrMissingUser
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	return s.Bus.List(ctx, userID, limit)
}

// MarkRead flips the read flag on one entry. The returned bool reports
// whether anything changed (false for repeats and unknown ids).
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("notification.id", id),
		),
	)
	defer span.End()

	if userID == "" {
		return false, ErrMissingUser
	}
	if id == "" {
		return false, ErrMissingNotification
	}
	return s.Bus.MarkRead(ctx, userID, id)
}

// MarkAllRead flips the read flag on every unread entry for userID and
// returns how many changed.
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkAllRead",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return 0, ErrMissingUser
	}
	return s.Bus.MarkAllRead(ctx, userID)
}

// Clear removes the entire feed for userID.
func (s *NotificationService) Clear(ctx context.Context, userID string) error {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "Clear",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if userID == "" {
		return ErrMissingUser
	}
	return s.Bus.Clear(ctx, userID)
}

// Subscribe attaches fn as userID's live subscriber (replacing any previous
// one) and returns the matching detach func. The detach is scoped to this
// attachment: once a newer Subscribe for the same user replaces it, calling
// cancel is a no-op, so a reconnecting SSE stream cleaning up its old
// handler cannot detach the live one.
func (s *NotificationService) Subscribe(userID string, fn bus.SubscriberFunc) (cancel func(), err error) {
	if userID == "" {
		return nil, ErrMissingUser
	}
	sub := s.Bus.Subscribe(userID, fn)
	return func() { s.Bus.Unsubscribe(sub) }, nil
}
