// Package presence tracks which users are currently reachable over a live
// connection. The registry maps a user identity to the set of its active
// connection IDs (one user may hold several, phone and laptop at once) and
// is the relay's source of truth for routing. Entries are never persisted;
// a process restart starts from an empty registry.
//
// The registry is mutated from many connection goroutines, so all state sits
// behind a RWMutex rather than the single-threaded-event-loop assumption a
// node-style host could get away with.
package presence

import "sync"

// Status values broadcast when a user's reachability changes.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// StatusFunc observes user status transitions. Called outside the registry
// lock; best effort, not persisted, not replayed to late joiners.
type StatusFunc func(userID, status string)

// Registry is an in-memory user -> connection-set index.
// The zero value is not usable; construct with NewRegistry.
type Registry struct {
	mu      sync.RWMutex
	byUser  map[string]map[string]struct{} // userID -> connIDs
	byConn  map[string]string              // connID -> userID
	onEvent StatusFunc
}

// NewRegistry returns an empty registry. onEvent may be nil.
func NewRegistry(onEvent StatusFunc) *Registry {
	return &Registry{
		byUser:  make(map[string]map[string]struct{}),
		byConn:  make(map[string]string),
		onEvent: onEvent,
	}
}

// Register binds connID to userID. Registering the same connection twice is
// idempotent. The first connection for a user emits an "online" event.
func (r *Registry) Register(userID, connID string) {
	if userID == "" || connID == "" {
		return
	}

	r.mu.Lock()
	if prev, ok := r.byConn[connID]; ok && prev == userID {
		r.mu.Unlock()
		return
	}
	first := len(r.byUser[userID]) == 0
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]struct{})
	}
	r.byUser[userID][connID] = struct{}{}
	r.byConn[connID] = userID
	r.mu.Unlock()

	if first && r.onEvent != nil {
		r.onEvent(userID, StatusOnline)
	}
}

// Unregister removes connID. Unknown connections are already-absent no-ops.
// Removing the last connection for a user clears the entry and emits an
// "offline" event.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	userID, ok := r.byConn[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byConn, connID)
	delete(r.byUser[userID], connID)
	last := len(r.byUser[userID]) == 0
	if last {
		delete(r.byUser, userID)
	}
	r.mu.Unlock()

	if last && r.onEvent != nil {
		r.onEvent(userID, StatusOffline)
	}
}

// IsOnline reports whether userID has at least one registered connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID]) > 0
}

// ConnectionsFor returns a copy of the connection IDs registered for userID.
func (r *Registry) ConnectionsFor(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	return out
}

// UserFor returns the user bound to connID, if any.
func (r *Registry) UserFor(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byConn[connID]
	return u, ok
}

// OnlineCount returns the number of distinct online users.
func (r *Registry) OnlineCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
