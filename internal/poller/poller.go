// Package poller implements the delivery fallback sweep: a fixed-interval
// scan over pending, not-yet-notified lesson requests that pushes to the
// recipient's device token and flips the record's notified flag exactly
// once. It guarantees at-least-once delivery when the socket and bus paths
// cannot be assumed (client backgrounded, stream never opened).
//
// Concurrency: at most one sweep runs at a time. A tick that would overlap a
// sweep still in flight is skipped outright (no queueing), so a slow push
// endpoint cannot pile up cycles. The guard is an in-process atomic only;
// running multiple instances of this service against one database would
// double-send (known single-process assumption, left unfixed on purpose).
//
// Trade-off: the notified flag is set regardless of send outcome
// (deliver-or-drop). A failed push is logged and lost rather than retried,
// which avoids duplicate-notification storms at the cost of the occasional
// missed push.
package poller

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/lessonlink/go-notify-backend/internal/domain"
	"github.com/lessonlink/go-notify-backend/internal/push"
	"github.com/lessonlink/go-notify-backend/internal/repo"
)

// sweepBatch caps how many records one cycle examines.
const sweepBatch = 100

var (
	sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_sweeps_total",
			Help: "Fallback poller cycles, by outcome (run or skipped).",
		},
		[]string{"outcome"},
	)

	pushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_pushes_total",
			Help: "Fallback push attempts, by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(sweeps, pushes)
}

// Store is the persistence surface the poller needs. Implemented by
// GormStore in production and fakes in tests.
type Store interface {
	ListPendingUnnotified(ctx context.Context, limit int) ([]domain.LessonRequest, error)
	MarkNotified(ctx context.Context, id string) (bool, error)
	PushTarget(ctx context.Context, userID string) (token *string, provider string, err error)
	UserName(ctx context.Context, userID string) (string, error)
}

// GormStore adapts the repo layer to the Store interface.
type GormStore struct{ DB *gorm.DB }

func (s GormStore) ListPendingUnnotified(ctx context.Context, limit int) ([]domain.LessonRequest, error) {
	return repo.ListPendingUnnotified(ctx, s.DB, limit)
}

func (s GormStore) MarkNotified(ctx context.Context, id string) (bool, error) {
	return repo.MarkRequestNotified(ctx, s.DB, id)
}

func (s GormStore) PushTarget(ctx context.Context, userID string) (*string, string, error) {
	return repo.GetPushTarget(ctx, s.DB, userID)
}

func (s GormStore) UserName(ctx context.Context, userID string) (string, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	if err != nil {
		return "", err
	}
	return u.Name, nil
}

// Poller drives the fallback sweep. Construct with New, drive with Run.
type Poller struct {
	store       Store
	sender      push.Sender
	interval    time.Duration
	sendTimeout time.Duration
	log         zerolog.Logger

	polling atomic.Bool
}

// New constructs a Poller sweeping every interval, with sendTimeout bounding
// the work done for any single record.
func New(store Store, sender push.Sender, interval, sendTimeout time.Duration, log zerolog.Logger) *Poller {
	return &Poller{
		store:       store,
		sender:      sender,
		interval:    interval,
		sendTimeout: sendTimeout,
		log:         log.With().Str("component", "poller").Logger(),
	}
}

// Run sweeps immediately, then on every interval tick until ctx is
// cancelled. Cancellation is cooperative: it stops future cycles; a sweep
// already in flight finishes its records (each bounded by sendTimeout).
func (p *Poller) Run(ctx context.Context) error {
	// Sweeps run detached from ctx so cancellation never half-delivers a
	// record; per-record timeouts bound how long a sweep can outlive Run.
	go p.Trigger(context.WithoutCancel(ctx))

	t := time.NewTicker(p.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			go p.Trigger(context.WithoutCancel(ctx))
		}
	}
}

// Trigger runs one guarded sweep. If a sweep is already in flight the call
// is skipped entirely, performing zero record reads, and reports false.
func (p *Poller) Trigger(ctx context.Context) bool {
	if !p.polling.CompareAndSwap(false, true) {
		sweeps.WithLabelValues("skipped").Inc()
		p.log.Debug().Msg("sweep in flight, skipping cycle")
		return false
	}
	defer p.polling.Store(false)

	sweeps.WithLabelValues("run").Inc()
	p.sweep(ctx)
	return true
}

// sweep examines one batch of pending, unnotified records oldest-first.
// Per-record failures are logged and do not abort the remainder.
func (p *Poller) sweep(ctx context.Context) {
	records, err := p.store.ListPendingUnnotified(ctx, sweepBatch)
	if err != nil {
		p.log.Error().Err(err).Msg("sweep query failed")
		return
	}
	if len(records) == 0 {
		return
	}
	p.log.Debug().Int("records", len(records)).Msg("sweeping")
	for i := range records {
		if err := p.deliver(ctx, &records[i]); err != nil {
			p.log.Error().Err(err).
				Str("request_id", records[i].ID).
				Msg("record delivery failed")
		}
	}
}

// deliver handles one record: resolve the teacher's push token, send when a
// token exists, and mark the record notified either way. A store error
// before the mark leaves the flag untouched so the next sweep retries the
// record; everything after the send commits the flag regardless of outcome.
func (p *Poller) deliver(ctx context.Context, r *domain.LessonRequest) error {
	rctx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()

	token, provider, err := p.store.PushTarget(rctx, r.TeacherID)
	if err != nil {
		pushes.WithLabelValues("target_error").Inc()
		return fmt.Errorf("resolve push target for %s: %w", r.TeacherID, err)
	}

	if token == nil {
		pushes.WithLabelValues("no_token").Inc()
		p.log.Debug().
			Str("request_id", r.ID).
			Str("teacher_id", r.TeacherID).
			Msg("no push token, marking without delivery")
	} else {
		title, body := p.render(rctx, r)
		res, err := p.sender.Send(rctx, *token, provider, title, body, map[string]string{
			"request_id": r.ID,
			"type":       domain.NotificationNewRequest,
		})
		switch {
		case err != nil:
			pushes.WithLabelValues("send_error").Inc()
			p.log.Warn().Err(err).Str("request_id", r.ID).Msg("push send errored")
		case !res.Success:
			pushes.WithLabelValues("refused").Inc()
			p.log.Warn().Str("request_id", r.ID).Str("reason", res.Error).Msg("push refused")
		default:
			pushes.WithLabelValues("ok").Inc()
		}
	}

	ok, err := p.store.MarkNotified(rctx, r.ID)
	if err != nil {
		return fmt.Errorf("mark notified %s: %w", r.ID, err)
	}
	if !ok {
		// Someone else flipped the flag between the query and here; the
		// invariant (at most one false->true transition) held, nothing to do.
		p.log.Debug().Str("request_id", r.ID).Msg("already notified")
	}
	return nil
}

// render builds the fallback push text. The student's name is best effort;
// a lookup failure degrades to the generic template rather than skipping
// the record.
func (p *Poller) render(ctx context.Context, r *domain.LessonRequest) (title, body string) {
	title = "New Lesson Request"
	name, err := p.store.UserName(ctx, r.StudentID)
	if err != nil || name == "" {
		return title, fmt.Sprintf("You have a new %s lesson request", r.Subject)
	}
	return title, fmt.Sprintf("%s wants to book a %s lesson", name, r.Subject)
}
