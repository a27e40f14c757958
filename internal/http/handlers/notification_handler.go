// Notification feed HTTP handlers.
//
// This file exposes the per-user feed surface:
//   - GET    /notifications            (most recent entries, newest first)
//   - POST   /notifications/:id/read   (mark one entry read)
//   - POST   /notifications/read-all   (mark every entry read)
//   - DELETE /notifications            (clear the feed)
//   - GET    /notifications/stream     (SSE: live publishes as they happen)
//
// Handlers are transport-thin: resolve the caller identity from the
// X-User-ID header, validate inputs, delegate to NotificationService. The
// stream handler is the bus's one live subscriber per user; opening a second
// stream replaces the first (bus semantics), which matches the client
// contract of one feed connection per session.
package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/lessonlink/go-notify-backend/internal/domain"
	"github.com/lessonlink/go-notify-backend/internal/http/middleware"
	"github.com/lessonlink/go-notify-backend/internal/services"
)

// streamBuffer is the per-stream queue between bus fan-out and the SSE
// writer. Entries beyond it are dropped for the live path only; they are
// already persisted and show up on the next list call.
const streamBuffer = 16

// ListNotificationsResponse is the JSON envelope for a feed page.
type ListNotificationsResponse struct {
	Notifications []domain.Notification `json:"notifications"`
}

// MarkReadResponse reports whether a mark-read call changed anything.
// Repeats return updated=false with status 200 (idempotent no-op success).
type MarkReadResponse struct {
	Updated bool `json:"updated"`
}

// MarkAllReadResponse reports how many entries a read-all call flipped.
type MarkAllReadResponse struct {
	Updated int64 `json:"updated"`
}

// Handler bundles the dependencies of all notification endpoints.
type Handler struct {
	Notifications *services.NotificationService
}

// New constructs a Handler.
func New(ns *services.NotificationService) *Handler {
	return &Handler{Notifications: ns}
}

// atoiDefault parses a query value, falling back to def when the value is
// absent or not an integer. Garbage limits are a client bug, not a 400.
func atoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

// currentUser resolves the caller identity or fails the request with 401.
func currentUser(c *gin.Context) (string, bool) {
	if uid := middleware.UserID(c); uid != "" {
		return uid, true
	}
	fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "missing X-User-ID header")
	return "", false
}

// ListNotifications returns the most recent entries, newest first. The
// `limit` query parameter is clamped to [1, 100].
func (h *Handler) ListNotifications(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}

	limit := atoiDefault(c.Query("limit"), 50)
	if limit < 1 {
		limit = 1
	}
	if limit > 100 {
		limit = 100
	}

	items, err := h.Notifications.List(c.Request.Context(), userID, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, "could not list notifications")
		return
	}
	if items == nil {
		items = []domain.Notification{}
	}
	ok(c, http.StatusOK, ListNotificationsResponse{Notifications: items})
}

// MarkNotificationRead marks one entry read. Unknown ids and repeats are
// no-op successes with updated=false.
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	id := c.Param("id")
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "notification id is required")
		return
	}

	updated, err := h.Notifications.MarkRead(c.Request.Context(), userID, id)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not mark notification read")
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Updated: updated})
}

// MarkAllNotificationsRead marks every unread entry read.
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}

	n, err := h.Notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, "could not mark notifications read")
		return
	}
	ok(c, http.StatusOK, MarkAllReadResponse{Updated: n})
}

// ClearNotifications removes the caller's entire feed.
func (h *Handler) ClearNotifications(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}

	if err := h.Notifications.Clear(c.Request.Context(), userID); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeClearFailed, "could not clear notifications")
		return
	}
	noContent(c)
}

// StreamNotifications holds the connection open and writes one SSE event per
// publish. The first event is a connection acknowledgement so clients can
// distinguish "connected, quiet" from "not connected".
func (h *Handler) StreamNotifications(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}

	ch := make(chan domain.Notification, streamBuffer)
	cancel, err := h.Notifications.Subscribe(userID, func(n domain.Notification) {
		select {
		case ch <- n:
		default:
			// Slow consumer: drop the live copy, the feed has it.
		}
	})
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeStreamFailed, "could not open stream")
		return
	}
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("connected", gin.H{"status": "ok"})
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case n := <-ch:
			c.SSEvent("notification", n)
			return true
		}
	})
}
