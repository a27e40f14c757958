// Package capture bridges database-emitted change events onto the
// notification bus. This file implements the listener itself: a supervised
// loop over a Postgres LISTEN connection (lib/pq) with an explicit
// state machine,
//
//	Disconnected -> Connecting -> Listening -> (event) Listening
//	                                        -> (transport error) Disconnected
//
// and two retry classes: a short delay when an established connection drops
// and a longer one when the connect attempt itself fails. Retries are
// unbounded; the bridge never takes the hosting process down. Malformed
// payloads are logged and skipped per event without tearing the listener
// down; the contract is "valid JSON in, bus publish out".
package capture

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/lessonlink/go-notify-backend/internal/config"
	"github.com/lessonlink/go-notify-backend/internal/domain"
)

// Bridge states, exposed for inspection and tests.
const (
	StateDisconnected int32 = iota
	StateConnecting
	StateListening
)

// pingInterval is how often the listening loop verifies the connection when
// no notifications arrive.
const pingInterval = 90 * time.Second

var events = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "capture_events_total",
		Help: "Change events handled by the bridge, by channel and outcome.",
	},
	[]string{"channel", "outcome"},
)

func init() {
	prometheus.MustRegister(events)
}

// Publisher is the bus-facing half of the bridge.
type Publisher interface {
	Publish(ctx context.Context, n domain.Notification) error
}

// listener is the subset of *pq.Listener the loop needs; tests substitute a
// fake through the connect seam.
type listener interface {
	NotificationChannel() <-chan *pq.Notification
	Ping() error
	Close() error
}

// connectFunc establishes a listening connection subscribed to both
// channels. The error channel reports transport-level failures detected
// outside the notification stream.
type connectFunc func(ctx context.Context) (listener, <-chan error, error)

// Bridge turns row-level change events into bus publishes. Construct with
// New and drive with Run; the zero value is not usable.
type Bridge struct {
	cfg     config.CaptureConfig
	pub     Publisher
	log     zerolog.Logger
	connect connectFunc

	state    atomic.Int32
	attempts atomic.Int64 // consecutive failed connect attempts
}

// New constructs a Bridge publishing to pub, listening per cfg.
func New(cfg config.CaptureConfig, pub Publisher, log zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg: cfg,
		pub: pub,
		log: log.With().Str("component", "capture").Logger(),
	}
	b.connect = b.connectPQ
	return b
}

// State returns the current state (StateDisconnected, StateConnecting,
// StateListening).
func (b *Bridge) State() int32 { return b.state.Load() }

// Run drives the bridge until ctx is cancelled. It always returns ctx.Err().
func (b *Bridge) Run(ctx context.Context) error {
	for {
		b.state.Store(StateConnecting)
		l, errs, err := b.connect(ctx)
		if err != nil {
			n := b.attempts.Add(1)
			b.state.Store(StateDisconnected)
			b.log.Warn().Err(err).
				Int64("attempt", n).
				Dur("retry_in", b.cfg.ConnectDelay).
				Msg("connect failed")
			if !sleep(ctx, b.cfg.ConnectDelay) {
				return ctx.Err()
			}
			continue
		}
		b.attempts.Store(0)
		b.state.Store(StateListening)
		b.log.Info().
			Str("created_channel", b.cfg.CreatedChannel).
			Str("status_channel", b.cfg.StatusChannel).
			Msg("listening")

		err = b.listen(ctx, l, errs)
		_ = l.Close()
		if ctx.Err() != nil {
			b.state.Store(StateDisconnected)
			return ctx.Err()
		}
		b.state.Store(StateDisconnected)
		b.log.Warn().Err(err).
			Dur("retry_in", b.cfg.ReconnectDelay).
			Msg("connection lost")
		if !sleep(ctx, b.cfg.ReconnectDelay) {
			return ctx.Err()
		}
	}
}

// listen consumes notifications until the transport errors or ctx ends.
func (b *Bridge) listen(ctx context.Context, l listener, errs <-chan error) error {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errs:
			return err
		case <-ping.C:
			if err := l.Ping(); err != nil {
				return err
			}
		case n, ok := <-l.NotificationChannel():
			if !ok {
				return context.Canceled
			}
			if n == nil {
				// lib/pq emits nil after an internal reconnect; channel
				// subscriptions survive, nothing to do.
				continue
			}
			b.dispatch(ctx, n.Channel, n.Extra)
		}
	}
}

// dispatch parses one event and publishes the matching notification.
func (b *Bridge) dispatch(ctx context.Context, channel, payload string) {
	var ev requestEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		events.WithLabelValues(channel, "malformed").Inc()
		b.log.Error().Err(err).Str("channel", channel).Msg("malformed payload")
		return
	}
	if err := ev.validate(); err != nil {
		events.WithLabelValues(channel, "malformed").Inc()
		b.log.Error().Err(err).Str("channel", channel).Msg("invalid payload")
		return
	}

	var n domain.Notification
	switch channel {
	case b.cfg.CreatedChannel:
		n = creationNotification(&ev)
	case b.cfg.StatusChannel:
		n = statusNotification(&ev)
	default:
		events.WithLabelValues(channel, "unknown_channel").Inc()
		b.log.Warn().Str("channel", channel).Msg("notification on unexpected channel")
		return
	}

	if err := b.pub.Publish(ctx, n); err != nil {
		events.WithLabelValues(channel, "publish_error").Inc()
		b.log.Error().Err(err).
			Str("channel", channel).
			Str("request_id", ev.ID).
			Msg("publish failed")
		return
	}
	events.WithLabelValues(channel, "ok").Inc()
	b.log.Debug().
		Str("channel", channel).
		Str("request_id", ev.ID).
		Str("user_id", n.UserID).
		Msg("event bridged")
}

// connectPQ is the production connect seam: a pq.Listener subscribed to both
// channels. The pq event callback feeds transport errors into errs so the
// supervised loop owns all retry decisions; pq's own reconnect window is
// pinned to the configured delay.
func (b *Bridge) connectPQ(ctx context.Context) (listener, <-chan error, error) {
	errs := make(chan error, 4)
	l := pq.NewListener(b.cfg.DSN, b.cfg.ReconnectDelay, b.cfg.ReconnectDelay,
		func(ev pq.ListenerEventType, err error) {
			if err == nil {
				return
			}
			select {
			case errs <- err:
			default:
			}
		})

	for _, ch := range []string{b.cfg.CreatedChannel, b.cfg.StatusChannel} {
		if err := l.Listen(ch); err != nil {
			_ = l.Close()
			return nil, nil, err
		}
	}
	return l, errs, nil
}

// sleep waits d or until ctx ends; reports whether the full delay elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
