package capture

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/lessonlink/go-notify-backend/internal/config"
	"github.com/lessonlink/go-notify-backend/internal/domain"
)

type fakeListener struct {
	ch      chan *pq.Notification
	pingErr error
	closed  atomic.Bool
}

func newFakeListener() *fakeListener {
	return &fakeListener{ch: make(chan *pq.Notification, 16)}
}

func (l *fakeListener) NotificationChannel() <-chan *pq.Notification { return l.ch }
func (l *fakeListener) Ping() error                                  { return l.pingErr }
func (l *fakeListener) Close() error                                 { l.closed.Store(true); return nil }

type fakePublisher struct {
	mu   sync.Mutex
	got  []domain.Notification
	err  error
	done chan struct{} // closed-ish: signalled per publish
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{done: make(chan struct{}, 16)}
}

func (p *fakePublisher) Publish(ctx context.Context, n domain.Notification) error {
	p.mu.Lock()
	p.got = append(p.got, n)
	p.mu.Unlock()
	p.done <- struct{}{}
	return p.err
}

func (p *fakePublisher) published() []domain.Notification {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.Notification(nil), p.got...)
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		Enabled:        true,
		DSN:            "postgres://ignored",
		CreatedChannel: "lesson_request_created",
		StatusChannel:  "lesson_request_status_changed",
		ReconnectDelay: 10 * time.Millisecond,
		ConnectDelay:   10 * time.Millisecond,
	}
}

func newTestBridge(pub Publisher, connect connectFunc) *Bridge {
	b := New(testCaptureConfig(), pub, zerolog.Nop())
	b.connect = connect
	return b
}

func waitPublish(t *testing.T, p *fakePublisher) {
	t.Helper()
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("no publish observed")
	}
}

func TestBridge_CreationEvent_PublishesToTeacher(t *testing.T) {
	pub := newFakePublisher()
	l := newFakeListener()
	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		return l, make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	l.ch <- &pq.Notification{
		Channel: "lesson_request_created",
		Extra:   `{"id":"req-1","student_id":"s1","student_name":"Alice","teacher_id":"t1","teacher_name":"Bob","subject":"math"}`,
	}
	waitPublish(t, pub)

	got := pub.published()
	if len(got) != 1 {
		t.Fatalf("expected exactly one publish, got %d", len(got))
	}
	if got[0].UserID != "t1" || got[0].Type != domain.NotificationNewRequest {
		t.Fatalf("unexpected notification: %+v", got[0])
	}
}

func TestBridge_StatusEvent_PublishesToStudent(t *testing.T) {
	pub := newFakePublisher()
	l := newFakeListener()
	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		return l, make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	l.ch <- &pq.Notification{
		Channel: "lesson_request_status_changed",
		Extra:   `{"id":"req-1","student_id":"s1","teacher_id":"t1","teacher_name":"Bob","subject":"math","old_status":"pending","new_status":"accepted"}`,
	}
	waitPublish(t, pub)

	got := pub.published()
	if got[0].UserID != "s1" || got[0].Type != domain.NotificationRequestAccepted {
		t.Fatalf("unexpected notification: %+v", got[0])
	}
}

func TestBridge_MalformedPayload_SkippedWithoutTeardown(t *testing.T) {
	pub := newFakePublisher()
	l := newFakeListener()
	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		return l, make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	l.ch <- &pq.Notification{Channel: "lesson_request_created", Extra: `{not json`}
	l.ch <- &pq.Notification{Channel: "lesson_request_created", Extra: `{"subject":"math"}`} // no id
	l.ch <- &pq.Notification{
		Channel: "lesson_request_created",
		Extra:   `{"id":"req-2","student_name":"Alice","teacher_id":"t1","subject":"math"}`,
	}
	waitPublish(t, pub)

	got := pub.published()
	if len(got) != 1 || got[0].UserID != "t1" {
		t.Fatalf("bad payloads must be skipped, valid one delivered: %+v", got)
	}
}

func TestBridge_UnknownChannel_Ignored(t *testing.T) {
	pub := newFakePublisher()
	l := newFakeListener()
	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		return l, make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	l.ch <- &pq.Notification{Channel: "something_else", Extra: `{"id":"req-1"}`}
	l.ch <- &pq.Notification{
		Channel: "lesson_request_created",
		Extra:   `{"id":"req-1","teacher_id":"t1","student_name":"A","subject":"math"}`,
	}
	waitPublish(t, pub)

	if got := pub.published(); len(got) != 1 {
		t.Fatalf("unexpected publishes: %+v", got)
	}
}

func TestBridge_NilNotification_Skipped(t *testing.T) {
	pub := newFakePublisher()
	l := newFakeListener()
	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		return l, make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	// lib/pq delivers nil after an internal reconnect.
	l.ch <- nil
	l.ch <- &pq.Notification{
		Channel: "lesson_request_created",
		Extra:   `{"id":"req-1","teacher_id":"t1","student_name":"A","subject":"math"}`,
	}
	waitPublish(t, pub)

	if got := pub.published(); len(got) != 1 {
		t.Fatalf("nil marker must be skipped: %+v", got)
	}
}

func TestBridge_TransportError_Reconnects(t *testing.T) {
	pub := newFakePublisher()
	var connects atomic.Int32
	errs := make(chan error, 1)

	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		connects.Add(1)
		return newFakeListener(), errs, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	waitFor(t, func() bool { return b.State() == StateListening })
	errs <- errors.New("connection reset")

	// The loop must come back to listening on a fresh connection.
	waitFor(t, func() bool { return connects.Load() >= 2 && b.State() == StateListening })
}

func TestBridge_ConnectFailure_RetriesUnbounded(t *testing.T) {
	pub := newFakePublisher()
	var connects atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)

	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		connects.Add(1)
		if fail.Load() {
			return nil, nil, errors.New("dial refused")
		}
		return newFakeListener(), make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = b.Run(ctx) }()

	waitFor(t, func() bool { return connects.Load() >= 3 })
	if b.State() == StateListening {
		t.Fatalf("must not report listening while connects fail")
	}

	fail.Store(false)
	waitFor(t, func() bool { return b.State() == StateListening })
}

func TestBridge_ContextCancel_StopsRun(t *testing.T) {
	pub := newFakePublisher()
	l := newFakeListener()
	b := newTestBridge(pub, func(ctx context.Context) (listener, <-chan error, error) {
		return l, make(chan error), nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	waitFor(t, func() bool { return b.State() == StateListening })
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop on cancel")
	}
	if !l.closed.Load() {
		t.Fatalf("listener must be closed on shutdown")
	}
	if b.State() != StateDisconnected {
		t.Fatalf("expected disconnected after stop, got %d", b.State())
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}
