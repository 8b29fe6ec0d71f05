package runtime

import (
	"context"
	"sync"

	"chat-core/contract"
	"chat-core/domain/event"
)

type roomMember struct {
	userID string
	sink   contract.EventSink
}

// room holds its own lock so unrelated conversations never serialize on
// each other. Holding it across a full fan-out is what defines the
// room-local total order every subscriber observes.
type room struct {
	mu      sync.Mutex
	members map[string]roomMember // connectionID -> member
}

// RoomRouter scopes events to the subscription group of a conversation.
// Joining subscribes one connection, not the whole user: a member's other
// devices receive room traffic only if they joined too.
type RoomRouter struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	memberships map[string]map[string]struct{} // connectionID -> set of conversationIDs
}

func NewRoomRouter() *RoomRouter {
	return &RoomRouter{
		rooms:       make(map[string]*room),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Join subscribes a connection to the conversation's routing key.
func (r *RoomRouter) Join(conversationID, userID, connectionID string, sink contract.EventSink) {
	r.mu.Lock()
	rm, ok := r.rooms[conversationID]
	if !ok {
		rm = &room{members: make(map[string]roomMember)}
		r.rooms[conversationID] = rm
	}
	memberships := r.memberships[connectionID]
	if memberships == nil {
		memberships = make(map[string]struct{})
		r.memberships[connectionID] = memberships
	}
	memberships[conversationID] = struct{}{}
	r.mu.Unlock()

	rm.mu.Lock()
	rm.members[connectionID] = roomMember{userID: userID, sink: sink}
	rm.mu.Unlock()
}

// Leave unsubscribes a connection. Empty rooms are removed entirely to
// prevent memory leaks over time.
func (r *RoomRouter) Leave(conversationID, connectionID string) {
	r.mu.Lock()
	r.leaveLocked(conversationID, connectionID)
	r.mu.Unlock()
}

// LeaveAll unsubscribes a connection from every room it joined and returns
// the conversation ids it left, so disconnect handling can force typing
// cleanup for each.
func (r *RoomRouter) LeaveAll(connectionID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var left []string
	for conversationID := range r.memberships[connectionID] {
		left = append(left, conversationID)
		r.leaveLocked(conversationID, connectionID)
	}
	return left
}

// Broadcast delivers a conversation-scoped event to every subscriber of the
// room and reports how many sinks accepted it. The room lock is held across
// the fan-out: events within one conversation reach a given subscriber in
// server-processed order.
func (r *RoomRouter) Broadcast(ctx context.Context, e event.ConversationScoped) int {
	r.mu.RLock()
	rm := r.rooms[e.Conversation()]
	r.mu.RUnlock()
	if rm == nil {
		return 0
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	delivered := 0
	for _, member := range rm.members {
		if err := member.sink.Consume(ctx, e); err == nil {
			delivered++
		}
	}
	return delivered
}

// Joined reports whether the connection currently subscribes the room.
func (r *RoomRouter) Joined(conversationID, connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.memberships[connectionID][conversationID]
	return ok
}

func (r *RoomRouter) leaveLocked(conversationID, connectionID string) {
	rm, ok := r.rooms[conversationID]
	if !ok {
		return
	}
	rm.mu.Lock()
	delete(rm.members, connectionID)
	empty := len(rm.members) == 0
	rm.mu.Unlock()
	if empty {
		delete(r.rooms, conversationID)
	}

	if memberships, ok := r.memberships[connectionID]; ok {
		delete(memberships, conversationID)
		if len(memberships) == 0 {
			delete(r.memberships, connectionID)
		}
	}
}
