// Package relay implements the live socket channel: per-connection protocol
// handling, presence registration, and fan-out of chat events to routing
// groups (all live connections of one user). This file defines the wire
// envelope and event payloads.
//
// Every frame is {"event": <name>, "data": <object>}. Field names are
// camelCase on the wire to match the client SDK.
package relay

import (
	"encoding/json"
	"time"
)

// Client -> server events.
const (
	EventRegister    = "register"
	EventSendMessage = "send_message"
	EventTyping      = "typing"
	EventStopTyping  = "stop_typing"
	EventMarkRead    = "mark_read"
)

// Server -> client events.
const (
	EventReceiveMessage      = "receive_message"
	EventMessageSent         = "message_sent"
	EventMessageRead         = "message_read"
	EventUserStatus          = "user_status"
	EventConversationUpdated = "conversation_updated"
	EventError               = "error"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RegisterPayload binds the connection to a user identity.
type RegisterPayload struct {
	UserID string `json:"userId"`
}

// SendMessagePayload carries an outgoing chat message. The relay assigns the
// timestamp; persistence is the route layer's job, fan-out is ours.
type SendMessagePayload struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	ReceiverID     string `json:"receiverId"`
	Content        string `json:"content"`
	MessageType    string `json:"messageType,omitempty"`
}

// MessagePayload is the delivered form of a chat message (receive_message to
// the receiver's group, message_sent back to the sending connection).
type MessagePayload struct {
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	ReceiverID     string    `json:"receiverId"`
	Content        string    `json:"content"`
	MessageType    string    `json:"messageType"`
	Timestamp      time.Time `json:"timestamp"`
}

// TypingPayload is forwarded as-is to the receiver's group. No state is
// kept; dropping one under load is fine.
type TypingPayload struct {
	SenderID   string `json:"senderId"`
	ReceiverID string `json:"receiverId"`
}

// MarkReadPayload asks the relay to persist read-state for a message and
// notify its sender.
type MarkReadPayload struct {
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
}

// MessageReadPayload notifies the original sender that a message was read.
type MessageReadPayload struct {
	MessageID string    `json:"messageId"`
	ReadAt    time.Time `json:"readAt"`
}

// UserStatusPayload broadcasts a presence transition to all connections.
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// ConversationUpdatedPayload lets clients reorder conversation lists without
// refetching.
type ConversationUpdatedPayload struct {
	ConversationID string    `json:"conversationId"`
	LastMessage    string    `json:"lastMessage"`
	Timestamp      time.Time `json:"timestamp"`
}

// ErrorPayload surfaces a relay-level failure to one connection.
type ErrorPayload struct {
	Message string `json:"message"`
}
