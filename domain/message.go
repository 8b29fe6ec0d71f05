// Package domain contains core concepts of the messaging system.
// This file defines Message records and attachments.
// Messages are created by the delivery pipeline and mutated only by
// the read receipt handler (Read, ReadAt).
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Message is the durable chat record.
type Message struct {
	ID             uuid.UUID    `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"sender"`
	RecipientID    string       `json:"recipient"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	Read           bool         `json:"read"`
	ReadAt         *time.Time   `json:"readAt,omitempty"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// Attachment references external content carried by a message.
// Only metadata travels through the core, never file bytes.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
	URL         string `json:"url"`
	Size        int64  `json:"size,omitempty"`
}
