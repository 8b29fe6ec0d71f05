package ws

import (
	"encoding/json"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Frame is the inbound wire unit: one JSON text message per event.
type Frame struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data"`
}

type JoinConversationData struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type LeaveConversationData struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type SendMessageData struct {
	ConversationID   string              `json:"conversationId" validate:"required"`
	RecipientID      string              `json:"recipientId" validate:"required"`
	Content          string              `json:"content" validate:"required"`
	Attachments      []domain.Attachment `json:"attachments,omitempty"`
	CorrelationToken string              `json:"correlationToken,omitempty"`
}

type TypingData struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type MessageReadData struct {
	MessageID      string `json:"messageId" validate:"required,uuid4"`
	ConversationID string `json:"conversationId,omitempty"`
}

type ConversationReadData struct {
	ConversationID string `json:"conversationId" validate:"required"`
}

type GetMessagesData struct {
	ConversationID string  `json:"conversationId" validate:"required"`
	Cursor         *string `json:"cursor,omitempty"`
}

type UpdateStatusData struct {
	Status string `json:"status" validate:"required,oneof=online offline"`
}

type GetOnlineUsersData struct {
	UserIDs []string `json:"userIds" validate:"required,min=1"`
}

// DecodeFrame parses and validates the outer frame.
func DecodeFrame(payload []byte) (Frame, error) {
	var frame Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		return Frame{}, errors.Validationf("malformed frame: %v", err)
	}
	if err := validate.Struct(frame); err != nil {
		return Frame{}, errors.Validationf("missing frame type")
	}
	return frame, nil
}

// decodeData parses and validates a typed frame payload.
func decodeData[T any](raw json.RawMessage) (T, error) {
	var data T
	if len(raw) == 0 {
		return data, errors.Validationf("missing event data")
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, errors.Validationf("malformed event data: %v", err)
	}
	if err := validate.Struct(data); err != nil {
		return data, errors.Validationf("%v", err)
	}
	return data, nil
}

type outboundFrame struct {
	Type string      `json:"type"`
	Data event.Event `json:"data"`
}

// EncodeEvent frames an outbound event as a discrete JSON text message.
// Notification envelopes are framed flat ({type, title?, message?, data,
// timestamp, userId}); every other event nests its payload under "data".
func EncodeEvent(e event.Event) ([]byte, error) {
	if n, ok := e.(event.Notification); ok {
		return json.Marshal(n.Envelope)
	}
	return json.Marshal(outboundFrame{Type: e.EventType(), Data: e})
}
