// Package runtime owns the in-memory state of the realtime core: live
// sessions, presence, conversation rooms, and typing timers. Each shared
// map is guarded by a mutex owned by its component; all other code goes
// through the component's operations, never by direct mutation.
package runtime

import (
	"context"
	"sync"
	"time"

	"chat-core/contract"
	"chat-core/domain/event"
)

// Session tracks one live device connection of a user.
type Session struct {
	UserID       string
	ConnectionID string
	ConnectedAt  time.Time
	LastSeen     time.Time
	Sink         contract.EventSink
}

// SessionRegistry tracks live connections per user. A user may own several
// concurrent sessions (multi-device); presence transitions happen only on
// the 0->1 and 1->0 edges of that set.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session // userID -> connectionID -> session
}

func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{sessions: make(map[string]map[string]*Session)}
}

// Register adds a connection to the user's session set and reports whether
// this was the user's first connection (the online edge).
func (r *SessionRegistry) Register(userID, connectionID string, sink contract.EventSink) bool {
	now := time.Now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		set = make(map[string]*Session)
		r.sessions[userID] = set
	}
	set[connectionID] = &Session{
		UserID:       userID,
		ConnectionID: connectionID,
		ConnectedAt:  now,
		LastSeen:     now,
		Sink:         sink,
	}
	return len(set) == 1
}

// Unregister removes a connection and reports whether the user just went
// offline. Emptiness is checked at removal time, not cached: a second tab
// still connected during a close/open race must not produce a false
// offline edge.
func (r *SessionRegistry) Unregister(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.sessions[userID]
	if !ok {
		return false
	}
	if _, ok := set[connectionID]; !ok {
		return false
	}
	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.sessions, userID)
		return true
	}
	return false
}

// Touch refreshes the last-seen timestamp of one session.
func (r *SessionRegistry) Touch(userID, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[userID][connectionID]; ok {
		s.LastSeen = time.Now().UTC()
	}
}

// SinksForUser snapshots the delivery endpoints of every live session of a
// user. The returned slice is safe to use after the lock is released.
func (r *SessionRegistry) SinksForUser(userID string) []contract.EventSink {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.sessions[userID]
	if len(set) == 0 {
		return nil
	}
	sinks := make([]contract.EventSink, 0, len(set))
	for _, s := range set {
		sinks = append(sinks, s.Sink)
	}
	return sinks
}

func (r *SessionRegistry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID]) > 0
}

// OnlineStatus answers a point-in-time snapshot query. There is no ordering
// guarantee relative to concurrent connects and disconnects.
func (r *SessionRegistry) OnlineStatus(userIDs []string) map[string]bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		statuses[id] = len(r.sessions[id]) > 0
	}
	return statuses
}

// BroadcastAll delivers an event to every connected session of every user.
// Used for the intentionally unscoped presence broadcasts.
func (r *SessionRegistry) BroadcastAll(ctx context.Context, e event.Event) {
	r.mu.RLock()
	sinks := make([]contract.EventSink, 0, len(r.sessions))
	for _, set := range r.sessions {
		for _, s := range set {
			sinks = append(sinks, s.Sink)
		}
	}
	r.mu.RUnlock()

	for _, sink := range sinks {
		_ = sink.Consume(ctx, e)
	}
}

// Connections reports the number of live sessions across all users.
func (r *SessionRegistry) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, set := range r.sessions {
		total += len(set)
	}
	return total
}

// OnlineUsers reports the number of users with at least one live session.
func (r *SessionRegistry) OnlineUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
