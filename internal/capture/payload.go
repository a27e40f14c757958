// Package capture bridges database-emitted change events onto the
// notification bus. This file defines the wire payloads carried on the two
// NOTIFY channels and the status -> template mapping.
package capture

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// notificationNS namespaces the deterministic notification IDs derived from
// (request id, kind), so re-delivery of the same change event republishes
// under the same ID and stays idempotent at the feed level.
var notificationNS = uuid.MustParse("9f2c1e34-7a5b-4d28-b1c6-0d3e8a5f4712")

// requestEvent is the JSON payload both channels carry. The trigger includes
// denormalized actor names/avatars so the bridge never has to join back into
// the business schema. Status fields are only present on the transition
// channel.
type requestEvent struct {
	ID            string `json:"id"`
	StudentID     string `json:"student_id"`
	StudentName   string `json:"student_name"`
	StudentAvatar string `json:"student_avatar,omitempty"`
	TeacherID     string `json:"teacher_id"`
	TeacherName   string `json:"teacher_name"`
	TeacherAvatar string `json:"teacher_avatar,omitempty"`
	Subject       string `json:"subject"`
	Message       string `json:"message,omitempty"`
	Response      string `json:"response,omitempty"`
	Mode          string `json:"mode,omitempty"`
	CreatedAt     string `json:"created_at,omitempty"`
	OldStatus     string `json:"old_status,omitempty"`
	NewStatus     string `json:"new_status,omitempty"`
}

func (e *requestEvent) validate() error {
	if e.ID == "" {
		return fmt.Errorf("capture: event without request id")
	}
	return nil
}

// data renders the structured payload clients receive alongside the rendered
// title/body.
func (e *requestEvent) data(counterpartID, counterpartName, counterpartAvatar string) string {
	raw, _ := json.Marshal(map[string]string{
		"request_id":         e.ID,
		"counterpart_id":     counterpartID,
		"counterpart_name":   counterpartName,
		"counterpart_avatar": counterpartAvatar,
		"subject":            e.Subject,
		"mode":               e.Mode,
	})
	return string(raw)
}

// creationNotification renders the teacher-side "new request" publish.
func creationNotification(e *requestEvent) domain.Notification {
	return domain.Notification{
		ID:     uuid.NewSHA1(notificationNS, []byte(e.ID+":created")).String(),
		UserID: e.TeacherID,
		Type:   domain.NotificationNewRequest,
		Title:  "New Lesson Request",
		Body:   fmt.Sprintf("%s wants to book a %s lesson", e.StudentName, e.Subject),
		Data:   e.data(e.StudentID, e.StudentName, e.StudentAvatar),
	}
}

// statusNotification renders the student-side publish for a status
// transition. Unknown statuses fall back to the generic template instead of
// failing; the trigger may learn new states before this service does.
func statusNotification(e *requestEvent) domain.Notification {
	var typ, title, body string
	switch e.NewStatus {
	case domain.RequestStatusAccepted:
		typ = domain.NotificationRequestAccepted
		title = "Request Accepted"
		body = fmt.Sprintf("%s accepted your %s lesson request", e.TeacherName, e.Subject)
	case domain.RequestStatusRejected:
		typ = domain.NotificationRequestRejected
		title = "Request Declined"
		body = fmt.Sprintf("%s declined your %s lesson request", e.TeacherName, e.Subject)
	case domain.RequestStatusCancelled:
		typ = domain.NotificationRequestCancelled
		title = "Request Cancelled"
		body = fmt.Sprintf("Your %s lesson with %s was cancelled", e.Subject, e.TeacherName)
	case domain.RequestStatusCompleted:
		typ = domain.NotificationRequestCompleted
		title = "Lesson Completed"
		body = fmt.Sprintf("Your %s lesson with %s is complete", e.Subject, e.TeacherName)
	default:
		typ = domain.NotificationGeneric
		title = "Request Updated"
		body = fmt.Sprintf("Your %s lesson request with %s was updated", e.Subject, e.TeacherName)
	}
	return domain.Notification{
		ID:     uuid.NewSHA1(notificationNS, []byte(e.ID+":"+e.NewStatus)).String(),
		UserID: e.StudentID,
		Type:   typ,
		Title:  title,
		Body:   body,
		Data:   e.data(e.TeacherID, e.TeacherName, e.TeacherAvatar),
	}
}
