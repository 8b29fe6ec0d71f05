// Package event defines the outbound events produced by the realtime core.
// Events are pure values: handlers compute them and sinks deliver them,
// which keeps fan-out rules testable without a network transport.
package event

import (
	"time"

	"chat-core/domain"

	"github.com/google/uuid"
)

// Event is anything deliverable to a connection sink.
type Event interface {
	EventType() string
}

// ConversationScoped marks events routed through a conversation room.
type ConversationScoped interface {
	Event
	Conversation() string
}

// NewMessage is the room broadcast for a freshly persisted message.
// It reaches every subscriber of the room, including the sender's other
// devices, enabling multi-device sync.
type NewMessage struct {
	ConversationID string         `json:"conversationId"`
	Message        domain.Message `json:"message"`
}

func (e NewMessage) EventType() string    { return "new_message" }
func (e NewMessage) Conversation() string { return e.ConversationID }

// MessageSent acknowledges a successful send to the originating connection
// only, echoing the correlation token for optimistic-UI reconciliation.
type MessageSent struct {
	CorrelationToken string         `json:"correlationToken,omitempty"`
	Message          domain.Message `json:"message"`
}

func (e MessageSent) EventType() string { return "message_sent" }

// MessageError reports a failed send to the originating connection only.
type MessageError struct {
	Error            string `json:"error"`
	Code             string `json:"code,omitempty"`
	CorrelationToken string `json:"correlationToken,omitempty"`
}

func (e MessageError) EventType() string { return "message_error" }

// Error is the generic named error event for operations without their own
// error shape. Always scoped to the connection the request arrived on.
type Error struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (e Error) EventType() string { return "error" }

// UserTyping announces a typing transition to the conversation's subscribers.
type UserTyping struct {
	UserID         string `json:"userId"`
	ConversationID string `json:"conversationId"`
	IsTyping       bool   `json:"isTyping"`
}

func (e UserTyping) EventType() string    { return "user_typing" }
func (e UserTyping) Conversation() string { return e.ConversationID }

// MessageReadReceipt confirms a single-message read transition.
// Callers must tolerate duplicates.
type MessageReadReceipt struct {
	MessageID      uuid.UUID `json:"messageId"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
	ReadBy         string    `json:"readBy"`
}

func (e MessageReadReceipt) EventType() string    { return "message_read_receipt" }
func (e MessageReadReceipt) Conversation() string { return e.ConversationID }

// ConversationRead summarizes a bulk read in a single event instead of one
// receipt per message.
type ConversationRead struct {
	ConversationID string    `json:"conversationId"`
	ReadBy         string    `json:"readBy"`
	ReadAt         time.Time `json:"readAt"`
	MessageCount   int       `json:"messageCount"`
}

func (e ConversationRead) EventType() string    { return "conversation_read" }
func (e ConversationRead) Conversation() string { return e.ConversationID }

// UserStatusChanged is the global, intentionally unscoped presence broadcast.
// Any peer's UI may display any user's status.
type UserStatusChanged struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}

func (e UserStatusChanged) EventType() string { return "user_status_changed" }

// OnlineUsersStatus answers a point-in-time presence snapshot query.
// No ordering guarantee relative to concurrent connects and disconnects.
type OnlineUsersStatus struct {
	Statuses map[string]bool `json:"statuses"`
}

func (e OnlineUsersStatus) EventType() string { return "online_users_status" }

// MessageHistory answers a get_messages query with one page of a
// conversation, newest first, and the cursor resuming the scan.
type MessageHistory struct {
	ConversationID string           `json:"conversationId"`
	Messages       []domain.Message `json:"messages"`
	NextCursor     *string          `json:"nextCursor,omitempty"`
}

func (e MessageHistory) EventType() string { return "message_history" }

// Notification wraps an envelope for delivery over a user-scoped channel.
// On the wire the envelope is framed flat, not nested under "data".
type Notification struct {
	Envelope domain.Envelope
}

func (e Notification) EventType() string { return e.Envelope.Type }
