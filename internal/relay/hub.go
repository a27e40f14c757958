// Package relay implements the live socket channel. This file is the hub:
// it owns the session set, dispatches inbound envelopes, and fans events out
// to routing groups via the presence registry. The hub never persists chat
// messages; the route layer does that around fan-out. The only write the
// hub performs is message read-state, through the MessageStore collaborator.
//
// Ordering: each session's outbound queue is FIFO, so events targeted at one
// routing group arrive in emission order per connection. Nothing is promised
// across senders or across the relay vs. bus paths.
package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/presence"
	"github.com/lessonlink/go-notify-backend/internal/repo"
)

var relayEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "relay_events_total",
		Help: "Inbound relay events, by event name and outcome.",
	},
	[]string{"event", "outcome"},
)

func init() {
	prometheus.MustRegister(relayEvents)
}

// Session is one live connection as the hub sees it. Send must not block the
// caller (the websocket client buffers and drops the connection when the
// buffer is exhausted).
type Session interface {
	ID() string
	Send(event string, data any)
}

// MessageStore persists read-state for mark_read. Returns the message's
// sender (so the hub can notify their group) and the effective read time.
type MessageStore interface {
	MarkRead(ctx context.Context, messageID, userID string) (senderID string, readAt time.Time, err error)
}

// GormMessageStore adapts the repo layer to MessageStore.
type GormMessageStore struct{ DB *gorm.DB }

// MarkRead looks the message up and stamps read_at. Re-marking an already
// read message keeps the original timestamp (idempotent from the client's
// point of view).
func (s GormMessageStore) MarkRead(ctx context.Context, messageID, userID string) (string, time.Time, error) {
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		return "", time.Time{}, err
	}
	readAt, _, err := repo.MarkMessageRead(ctx, s.DB, messageID, userID)
	if err != nil {
		return "", time.Time{}, err
	}
	return m.SenderID, readAt, nil
}

// Hub routes relay traffic. Construct with NewHub; safe for concurrent use.
type Hub struct {
	registry *presence.Registry
	store    MessageStore
	log      zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]Session // connID -> session
}

// NewHub builds a Hub with its own presence registry. Presence transitions
// are broadcast to every connected session as user_status events.
func NewHub(store MessageStore, log zerolog.Logger) *Hub {
	h := &Hub{
		store:    store,
		log:      log.With().Str("component", "relay").Logger(),
		sessions: make(map[string]Session),
	}
	h.registry = presence.NewRegistry(h.broadcastStatus)
	return h
}

// Registry exposes the hub's presence registry (read-side consumers only).
func (h *Hub) Registry() *presence.Registry { return h.registry }

// Attach adds a freshly connected session. The session is not routable until
// it registers a user identity.
func (h *Hub) Attach(s Session) {
	h.mu.Lock()
	h.sessions[s.ID()] = s
	h.mu.Unlock()
	h.log.Debug().Str("conn_id", s.ID()).Msg("session attached")
}

// Detach removes a session on disconnect and unregisters it from presence.
// The registry broadcasts offline only when this was the user's last
// connection.
func (h *Hub) Detach(s Session) {
	h.mu.Lock()
	delete(h.sessions, s.ID())
	h.mu.Unlock()
	h.registry.Unregister(s.ID())
	h.log.Debug().Str("conn_id", s.ID()).Msg("session detached")
}

// Dispatch handles one inbound envelope from s. Unknown events and bad
// payloads are answered with an error event on the same connection; they
// never tear the connection down.
func (h *Hub) Dispatch(ctx context.Context, s Session, env Envelope) {
	switch env.Event {
	case EventRegister:
		handle(h, s, env, func(p RegisterPayload) { h.register(s, p) })
	case EventSendMessage:
		handle(h, s, env, func(p SendMessagePayload) { h.sendMessage(s, p) })
	case EventTyping:
		handle(h, s, env, func(p TypingPayload) { h.forward(EventTyping, p) })
	case EventStopTyping:
		handle(h, s, env, func(p TypingPayload) { h.forward(EventStopTyping, p) })
	case EventMarkRead:
		handle(h, s, env, func(p MarkReadPayload) { h.markRead(ctx, s, p) })
	default:
		relayEvents.WithLabelValues(env.Event, "unknown").Inc()
		s.Send(EventError, ErrorPayload{Message: "unknown event: " + env.Event})
	}
}

// handle decodes env.Data into P and runs fn, reporting malformed payloads
// back to the sender.
func handle[P any](h *Hub, s Session, env Envelope, fn func(P)) {
	var p P
	if err := json.Unmarshal(env.Data, &p); err != nil {
		relayEvents.WithLabelValues(env.Event, "malformed").Inc()
		h.log.Warn().Err(err).Str("event", env.Event).Msg("malformed payload")
		s.Send(EventError, ErrorPayload{Message: "malformed " + env.Event + " payload"})
		return
	}
	relayEvents.WithLabelValues(env.Event, "ok").Inc()
	fn(p)
}

// register binds the connection to a user identity; the presence hook
// broadcasts the online transition when this is the user's first connection.
func (h *Hub) register(s Session, p RegisterPayload) {
	if p.UserID == "" {
		s.Send(EventError, ErrorPayload{Message: "register requires userId"})
		return
	}
	h.registry.Register(p.UserID, s.ID())
	h.log.Info().Str("conn_id", s.ID()).Str("user_id", p.UserID).Msg("registered")
}

// sendMessage stamps the envelope and fans it out: receive_message to the
// receiver's group, message_sent echoed to the sending connection, and
// conversation_updated to both groups so clients can reorder lists.
func (h *Hub) sendMessage(s Session, p SendMessagePayload) {
	if p.MessageType == "" {
		p.MessageType = "text"
	}
	msg := MessagePayload{
		ConversationID: p.ConversationID,
		SenderID:       p.SenderID,
		ReceiverID:     p.ReceiverID,
		Content:        p.Content,
		MessageType:    p.MessageType,
		Timestamp:      time.Now().UTC(),
	}

	h.emitToUser(p.ReceiverID, EventReceiveMessage, msg)
	s.Send(EventMessageSent, msg)

	upd := ConversationUpdatedPayload{
		ConversationID: p.ConversationID,
		LastMessage:    p.Content,
		Timestamp:      msg.Timestamp,
	}
	h.emitToUser(p.SenderID, EventConversationUpdated, upd)
	h.emitToUser(p.ReceiverID, EventConversationUpdated, upd)
}

// forward relays a typing indicator to the receiver's group. Fire and
// forget: no state, safe to drop.
func (h *Hub) forward(event string, p TypingPayload) {
	h.emitToUser(p.ReceiverID, event, p)
}

// markRead persists read-state and notifies the original sender's group. A
// store failure is logged and surfaced to the requesting connection only;
// the connection stays up.
func (h *Hub) markRead(ctx context.Context, s Session, p MarkReadPayload) {
	senderID, readAt, err := h.store.MarkRead(ctx, p.MessageID, p.UserID)
	if err != nil {
		h.log.Error().Err(err).
			Str("message_id", p.MessageID).
			Str("user_id", p.UserID).
			Msg("mark read failed")
		s.Send(EventError, ErrorPayload{Message: "could not mark message read"})
		return
	}
	h.emitToUser(senderID, EventMessageRead, MessageReadPayload{
		MessageID: p.MessageID,
		ReadAt:    readAt,
	})
}

// emitToUser sends an event to every live connection in userID's routing
// group. Unknown users simply have an empty group.
func (h *Hub) emitToUser(userID, event string, data any) {
	for _, connID := range h.registry.ConnectionsFor(userID) {
		h.mu.RLock()
		s := h.sessions[connID]
		h.mu.RUnlock()
		if s != nil {
			s.Send(event, data)
		}
	}
}

// broadcastStatus pushes a presence transition to every connected session.
// Best effort: late joiners never see past transitions.
func (h *Hub) broadcastStatus(userID, status string) {
	p := UserStatusPayload{UserID: userID, Status: status}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		s.Send(EventUserStatus, p)
	}
}
