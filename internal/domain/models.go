// Package domain defines the persistence models for the notification
// subsystem: per-user notifications, lesson requests (the durable records the
// fallback poller sweeps), users (push-token owners), and chat messages.
// These types are mapped with GORM and form the core data layer of the
// delivery service.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// Notification types. The bridge and relay publish with one of these; clients
// branch on the value to render the entry.
const (
	NotificationNewRequest       = "new-request"
	NotificationRequestAccepted  = "request-accepted"
	NotificationRequestRejected  = "request-rejected"
	NotificationRequestCancelled = "request-cancelled"
	NotificationRequestCompleted = "request-completed"
	NotificationGeneric          = "generic"
)

// Lesson request statuses. "pending" is the initial state the fallback poller
// looks for; the rest arrive via status-transition change events.
const (
	RequestStatusPending   = "pending"
	RequestStatusAccepted  = "accepted"
	RequestStatusRejected  = "rejected"
	RequestStatusCancelled = "cancelled"
	RequestStatusCompleted = "completed"
)

// Push providers accepted by the external send capability.
const (
	PushProviderExpo = "expo"
	PushProviderFCM  = "fcm"
)

// Notification is one entry in a user's bounded feed. The feed is not a
// system of record: each user keeps at most the most recent N entries
// (capacity enforced by the repo layer), oldest evicted first.
//
// Fields:
//   - ID: unique per logical event + kind, so re-publication of the same
//     event is idempotent at the feed level.
//   - UserID: the recipient; indexed, every feed query is scoped to it.
//   - Type: one of the Notification* constants above.
//   - Title / Body: rendered template text.
//   - Data: event-specific JSON payload (request id, counterpart id/name,
//     subject, …) stored as an opaque string.
//   - Read: flipped by mark-read / mark-all-read; default false.
type Notification struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_feed,priority:1"`
	Type      string    `json:"type"       gorm:"type:varchar(32);not null"`
	Title     string    `json:"title"      gorm:"type:varchar(255);not null"`
	Body      string    `json:"body"       gorm:"type:text;not null"`
	Data      string    `json:"data,omitempty" gorm:"type:text"`
	Read      bool      `json:"read"       gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_feed,priority:2"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// LessonRequest is the durable business record behind creation events. Only
// two columns matter to this subsystem: Status and Notified. Once Notified is
// true the fallback poller must never push for that record again; the flag
// transitions false -> true exactly once. Status transitions are delivered by
// the change-capture path only (there is no per-transition notified flag;
// a known asymmetry inherited from the schema).
type LessonRequest struct {
	ID        string         `json:"id"         gorm:"type:char(36);primaryKey"`
	StudentID string         `json:"student_id" gorm:"type:varchar(64);not null;index"`
	TeacherID string         `json:"teacher_id" gorm:"type:varchar(64);not null;index"`
	Subject   string         `json:"subject"    gorm:"type:varchar(128);not null"`
	Message   string         `json:"message"    gorm:"type:text"`
	Mode      string         `json:"mode"       gorm:"type:varchar(32)"` // online | in-person
	Status    string         `json:"status"     gorm:"type:varchar(16);not null;default:'pending';index:idx_req_sweep,priority:1"`
	Notified  bool           `json:"notified"   gorm:"not null;default:false;index:idx_req_sweep,priority:2"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-"          gorm:"index"`
}

// TableName returns the database table name for LessonRequest.
func (LessonRequest) TableName() string { return "lesson_requests" }

// User carries only the fields the delivery paths need: a display identity
// for templates and the push token the fallback poller resolves. Accounts and
// credentials live elsewhere.
type User struct {
	ID           string         `json:"id"     gorm:"type:varchar(64);primaryKey"`
	Name         string         `json:"name"   gorm:"type:varchar(128);not null"`
	Avatar       string         `json:"avatar" gorm:"type:varchar(512)"`
	PushToken    *string        `json:"-"      gorm:"type:varchar(512)"`
	PushProvider string         `json:"-"      gorm:"type:varchar(16);default:'expo'"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-"      gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Message is a direct chat message between two users. The relay does not
// persist messages on send (the route layer does, before invoking fan-out);
// the relay only updates read-state here when a mark_read event arrives.
type Message struct {
	ID             string     `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID string     `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	SenderID       string     `json:"sender_id"       gorm:"type:varchar(64);not null;index"`
	ReceiverID     string     `json:"receiver_id"     gorm:"type:varchar(64);not null;index"`
	Content        string     `json:"content"         gorm:"type:text;not null"`
	MessageType    string     `json:"message_type"    gorm:"type:varchar(16);not null;default:'text'"`
	ReadAt         *time.Time `json:"read_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"      gorm:"index:idx_conv_msgs,priority:2"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
