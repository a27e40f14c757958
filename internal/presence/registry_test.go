package presence

import (
	"sort"
	"sync"
	"testing"
)

type statusRecorder struct {
	mu     sync.Mutex
	events []string // "userID:status"
}

func (r *statusRecorder) record(userID, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, userID+":"+status)
}

func (r *statusRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestRegister_FirstConnectionEmitsOnline(t *testing.T) {
	rec := &statusRecorder{}
	reg := NewRegistry(rec.record)

	reg.Register("u1", "c1")
	if !reg.IsOnline("u1") {
		t.Fatalf("expected u1 online")
	}

	got := rec.snapshot()
	if len(got) != 1 || got[0] != "u1:online" {
		t.Fatalf("expected single online event, got %v", got)
	}
}

func TestRegister_SecondConnectionNoEvent(t *testing.T) {
	rec := &statusRecorder{}
	reg := NewRegistry(rec.record)

	reg.Register("u1", "c1")
	reg.Register("u1", "c2")

	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("second connection must not re-emit online, got %v", got)
	}

	conns := reg.ConnectionsFor("u1")
	sort.Strings(conns)
	if len(conns) != 2 || conns[0] != "c1" || conns[1] != "c2" {
		t.Fatalf("unexpected connections: %v", conns)
	}
}

func TestRegister_Idempotent(t *testing.T) {
	rec := &statusRecorder{}
	reg := NewRegistry(rec.record)

	reg.Register("u1", "c1")
	reg.Register("u1", "c1")

	if got := rec.snapshot(); len(got) != 1 {
		t.Fatalf("re-registering the same connection must be silent, got %v", got)
	}
	if len(reg.ConnectionsFor("u1")) != 1 {
		t.Fatalf("duplicate connection entries")
	}
}

func TestRegister_IgnoresEmptyArgs(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("", "c1")
	reg.Register("u1", "")
	if reg.OnlineCount() != 0 {
		t.Fatalf("empty args must not register anything")
	}
}

func TestUnregister_LastConnectionEmitsOffline(t *testing.T) {
	rec := &statusRecorder{}
	reg := NewRegistry(rec.record)

	reg.Register("u1", "c1")
	reg.Register("u1", "c2")

	reg.Unregister("c1")
	if !reg.IsOnline("u1") {
		t.Fatalf("u1 still has a connection, must stay online")
	}

	reg.Unregister("c2")
	if reg.IsOnline("u1") {
		t.Fatalf("u1 must be offline after last connection drops")
	}

	got := rec.snapshot()
	if len(got) != 2 || got[1] != "u1:offline" {
		t.Fatalf("expected offline only after last drop, got %v", got)
	}
}

func TestUnregister_UnknownConnection_NoOp(t *testing.T) {
	rec := &statusRecorder{}
	reg := NewRegistry(rec.record)

	reg.Unregister("ghost")
	if got := rec.snapshot(); len(got) != 0 {
		t.Fatalf("unknown connection must not emit events, got %v", got)
	}
}

func TestUserFor_Binding(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("u1", "c1")

	if u, ok := reg.UserFor("c1"); !ok || u != "u1" {
		t.Fatalf("UserFor(c1) = %q, %v", u, ok)
	}
	if _, ok := reg.UserFor("c2"); ok {
		t.Fatalf("unbound connection must report false")
	}
}

func TestOnlineCount_DistinctUsers(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register("u1", "c1")
	reg.Register("u1", "c2")
	reg.Register("u2", "c3")

	if n := reg.OnlineCount(); n != 2 {
		t.Fatalf("expected 2 distinct users, got %d", n)
	}
}

// Online iff at least one registered connection, across an arbitrary
// register/unregister interleaving.
func TestRegistry_OnlineMatchesConnectionCount(t *testing.T) {
	reg := NewRegistry(nil)

	steps := []struct {
		register bool
		connID   string
	}{
		{true, "c1"}, {true, "c2"}, {false, "c1"},
		{true, "c3"}, {false, "c2"}, {false, "c3"},
		{true, "c4"}, {false, "c4"},
	}

	for i, s := range steps {
		if s.register {
			reg.Register("u1", s.connID)
		} else {
			reg.Unregister(s.connID)
		}
		want := len(reg.ConnectionsFor("u1")) > 0
		if got := reg.IsOnline("u1"); got != want {
			t.Fatalf("step %d: IsOnline=%v with %d connections", i, got, len(reg.ConnectionsFor("u1")))
		}
	}
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	reg := NewRegistry(func(string, string) {})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			for j := 0; j < 100; j++ {
				reg.Register("u1", id)
				reg.IsOnline("u1")
				reg.Unregister(id)
			}
		}(i)
	}
	wg.Wait()

	if reg.IsOnline("u1") {
		t.Fatalf("all connections unregistered, user must be offline")
	}
}
