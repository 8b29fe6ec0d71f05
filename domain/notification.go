package domain

import "time"

// Envelope is the transport-independent notification payload dispatched to
// a user. It is either pushed immediately to all live channels of the
// target or queued in that user's in-memory backlog.
type Envelope struct {
	Type      string         `json:"type"`
	Title     string         `json:"title,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"userId"`
}
