package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"chat-core/domain/event"
)

// DefaultTypingTimeout is the inactivity window after the last typing_start.
const DefaultTypingTimeout = 5 * time.Second

// TypingCoordinator keeps the ephemeral per-conversation typing state.
// State machine per (user, conversation): NOT_TYPING <-> TYPING. The TYPING
// state carries a cancel-and-replace timer; a repeated start refreshes it
// rather than stacking a second one. Nothing here is ever persisted.
type TypingCoordinator struct {
	mu      sync.Mutex
	router  *RoomRouter
	timers  map[string]map[string]*time.Timer // conversationID -> userID -> expiry timer
	timeout time.Duration
	log     *slog.Logger
}

func NewTypingCoordinator(router *RoomRouter, timeout time.Duration, log *slog.Logger) *TypingCoordinator {
	if timeout <= 0 {
		timeout = DefaultTypingTimeout
	}
	return &TypingCoordinator{
		router:  router,
		timers:  make(map[string]map[string]*time.Timer),
		timeout: timeout,
		log:     log,
	}
}

// Start moves (user, conversation) to TYPING and (re)arms the expiry timer.
// Only the NOT_TYPING -> TYPING transition broadcasts; a refresh is silent.
func (t *TypingCoordinator) Start(ctx context.Context, conversationID, userID string) {
	t.mu.Lock()
	users, ok := t.timers[conversationID]
	if !ok {
		users = make(map[string]*time.Timer)
		t.timers[conversationID] = users
	}
	timer, active := users[userID]
	if active {
		timer.Stop()
	}
	users[userID] = time.AfterFunc(t.timeout, func() {
		// Timer expiry is a NOT_TYPING transition like any other.
		t.Stop(context.Background(), conversationID, userID)
	})
	t.mu.Unlock()

	if !active {
		t.broadcast(ctx, conversationID, userID, true)
	}
}

// Stop moves (user, conversation) to NOT_TYPING if it was TYPING and
// broadcasts the transition. Safe to call when no entry exists.
func (t *TypingCoordinator) Stop(ctx context.Context, conversationID, userID string) {
	if !t.remove(conversationID, userID) {
		return
	}
	t.broadcast(ctx, conversationID, userID, false)
}

// ClearUser scans every conversation for active typing entries of the user
// and force-emits isTyping:false for each. A user must never appear to be
// perpetually typing after vanishing.
func (t *TypingCoordinator) ClearUser(ctx context.Context, userID string) {
	t.mu.Lock()
	var cleared []string
	for conversationID, users := range t.timers {
		if timer, ok := users[userID]; ok {
			timer.Stop()
			delete(users, userID)
			if len(users) == 0 {
				delete(t.timers, conversationID)
			}
			cleared = append(cleared, conversationID)
		}
	}
	t.mu.Unlock()

	for _, conversationID := range cleared {
		t.broadcast(ctx, conversationID, userID, false)
	}
}

// Active reports the number of currently typing (user, conversation) pairs.
func (t *TypingCoordinator) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, users := range t.timers {
		total += len(users)
	}
	return total
}

func (t *TypingCoordinator) remove(conversationID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.timers[conversationID]
	if !ok {
		return false
	}
	timer, ok := users[userID]
	if !ok {
		return false
	}
	timer.Stop()
	delete(users, userID)
	if len(users) == 0 {
		delete(t.timers, conversationID)
	}
	return true
}

func (t *TypingCoordinator) broadcast(ctx context.Context, conversationID, userID string, isTyping bool) {
	t.router.Broadcast(ctx, event.UserTyping{
		UserID:         userID,
		ConversationID: conversationID,
		IsTyping:       isTyping,
	})
}
