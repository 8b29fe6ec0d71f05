package domain

import "time"

// Presence is a user's online flag plus last-activity timestamp.
// The in-memory online set is the source of truth while the process is
// alive; the durable user record mirrors it and goes stale on crash.
type Presence struct {
	UserID   string    `json:"userId"`
	IsOnline bool      `json:"isOnline"`
	LastSeen time.Time `json:"lastSeen"`
}
