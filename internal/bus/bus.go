// Package bus implements the per-user notification fabric: every publish is
// appended to a bounded persistent feed and fanned out to the user's live
// subscriber, if one is attached. Persistence happens regardless of
// subscriber presence; fan-out is fire-and-forget. Socket relay, feed, and
// push fallback are independent delivery paths; the bus makes no ordering
// promise across them.
package bus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lessonlink/go-notify-backend/internal/domain"
)

var (
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_publishes_total",
			Help: "Notifications published to the bus, by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	fanouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bus_fanouts_total",
			Help: "Publishes delivered to a live subscriber.",
		},
	)
)

func init() {
	prometheus.MustRegister(publishes, fanouts)
}

// Store is the persistence half of the bus: the bounded per-user feed.
// Implemented by repo.FeedStore in production and by fakes in tests.
type Store interface {
	Append(ctx context.Context, n *domain.Notification) error
	List(ctx context.Context, userID string, limit int) ([]domain.Notification, error)
	MarkRead(ctx context.Context, userID, id string) (bool, error)
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Clear(ctx context.Context, userID string) error
}

// SubscriberFunc receives each notification published for the subscribed
// user while the subscription is active.
type SubscriberFunc func(domain.Notification)

// Subscription identifies one live attachment. Unsubscribe accepts the
// token so a detach from a replaced subscription cannot tear down its
// successor.
type Subscription struct {
	userID string
	fn     SubscriberFunc
}

// Bus couples the persistent feed with live per-user fan-out. Safe for
// concurrent use. At most one logical subscription per user per process;
// re-subscribing replaces the previous callback.
type Bus struct {
	store Store
	log   zerolog.Logger

	mu   sync.RWMutex
	subs map[string]*Subscription
}

// New constructs a Bus over store.
func New(store Store, log zerolog.Logger) *Bus {
	return &Bus{
		store: store,
		log:   log.With().Str("component", "bus").Logger(),
		subs:  make(map[string]*Subscription),
	}
}

// Publish appends n to the recipient's feed, then fans out to a live
// subscriber when one is attached. A missing ID or timestamp is filled in
// here so callers can publish sparse notifications. Persistence failure is
// returned to the caller (the feed is the durable path); fan-out never
// blocks and never fails the publish.
func (b *Bus) Publish(ctx context.Context, n domain.Notification) error {
	if n.UserID == "" {
		return fmt.Errorf("bus: publish without recipient")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == "" {
		n.Type = domain.NotificationGeneric
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if err := b.store.Append(ctx, &n); err != nil {
		publishes.WithLabelValues(n.Type, "error").Inc()
		return fmt.Errorf("bus: persist notification: %w", err)
	}
	publishes.WithLabelValues(n.Type, "ok").Inc()

	b.mu.RLock()
	sub := b.subs[n.UserID]
	b.mu.RUnlock()
	var fn SubscriberFunc
	if sub != nil {
		fn = sub.fn
	}
	if fn != nil {
		// Subscriber callbacks run off the publisher's goroutine so a slow
		// consumer cannot stall the bridge or the relay.
		go fn(n)
		fanouts.Inc()
	}

	b.log.Debug().
		Str("user_id", n.UserID).
		Str("notification_id", n.ID).
		Str("type", n.Type).
		Bool("live", fn != nil).
		Msg("published")
	return nil
}

// Subscribe attaches fn as userID's live subscriber, replacing any previous
// one, and returns the subscription token. Publishes between Unsubscribe and
// the next Subscribe are only persisted, never replayed live; clients catch
// up via List.
func (b *Bus) Subscribe(userID string, fn SubscriberFunc) *Subscription {
	if userID == "" || fn == nil {
		return nil
	}
	sub := &Subscription{userID: userID, fn: fn}
	b.mu.Lock()
	b.subs[userID] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe detaches sub. It is a no-op when sub is nil or has already
// been replaced by a newer subscription for the same user, so a stale
// detach (a reconnecting stream cleaning up after its successor attached)
// cannot silence the live one.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	if b.subs[sub.userID] == sub {
		delete(b.subs, sub.userID)
	}
	b.mu.Unlock()
}

// List returns the most recent limit entries for userID, newest first.
func (b *Bus) List(ctx context.Context, userID string, limit int) ([]domain.Notification, error) {
	out, err := b.store.List(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("bus: list notifications: %w", err)
	}
	return out, nil
}

// MarkRead flips the read flag on one entry. The first call for an unread
// entry reports true; repeats (and unknown ids) report false with no error.
func (b *Bus) MarkRead(ctx context.Context, userID, id string) (bool, error) {
	ok, err := b.store.MarkRead(ctx, userID, id)
	if err != nil {
		return false, fmt.Errorf("bus: mark read: %w", err)
	}
	return ok, nil
}

// MarkAllRead flips the read flag on every unread entry for userID.
func (b *Bus) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := b.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("bus: mark all read: %w", err)
	}
	return n, nil
}

// Clear removes userID's entire feed.
func (b *Bus) Clear(ctx context.Context, userID string) error {
	if err := b.store.Clear(ctx, userID); err != nil {
		return fmt.Errorf("bus: clear feed: %w", err)
	}
	return nil
}
