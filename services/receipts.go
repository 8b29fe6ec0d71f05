package services

import (
	"context"
	"log/slog"
	"time"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/repositories"
	"chat-core/runtime"

	"github.com/google/uuid"
)

// ReceiptService handles single and bulk read-state transitions.
type ReceiptService struct {
	messages repositories.IMessageRepository
	router   *runtime.RoomRouter
	registry *runtime.SessionRegistry
	log      *slog.Logger
}

func NewReceiptService(
	messages repositories.IMessageRepository,
	router *runtime.RoomRouter,
	registry *runtime.SessionRegistry,
	log *slog.Logger,
) *ReceiptService {
	return &ReceiptService{messages: messages, router: router, registry: registry, log: log}
}

// MarkRead flips one message to read. Only the addressed recipient may do
// this. Idempotent: a second call succeeds without emitting a second
// receipt, though callers must still tolerate duplicates from races.
func (s *ReceiptService) MarkRead(ctx context.Context, callerID string, messageID uuid.UUID) (domain.Message, error) {
	message, err := s.messages.GetMessage(messageID)
	if err != nil {
		return domain.Message{}, err
	}
	if message.RecipientID != callerID {
		return domain.Message{}, errors.ErrAuthorization
	}

	updated, changed, err := s.messages.MarkRead(messageID, time.Now().UTC())
	if err != nil {
		return domain.Message{}, err
	}
	if changed {
		s.router.Broadcast(ctx, event.MessageReadReceipt{
			MessageID:      updated.ID,
			ConversationID: updated.ConversationID,
			ReadAt:         *updated.ReadAt,
			ReadBy:         callerID,
		})
	}
	return updated, nil
}

// MarkConversationRead marks every unread message addressed to the caller
// within the conversation as read in one durable update, then emits a
// single summary to the other participants instead of one event per
// message. The summary is user-scoped, not room-scoped: the other side
// learns about the read even without having joined the room.
func (s *ReceiptService) MarkConversationRead(ctx context.Context, callerID, conversationID string) (int, error) {
	if !domain.IsParticipant(conversationID, callerID) {
		return 0, errors.ErrAuthorization
	}

	readAt := time.Now().UTC()
	count, err := s.messages.MarkConversationRead(conversationID, callerID, readAt)
	if err != nil {
		return 0, err
	}

	summary := event.ConversationRead{
		ConversationID: conversationID,
		ReadBy:         callerID,
		ReadAt:         readAt,
		MessageCount:   count,
	}
	for _, participant := range domain.Participants(conversationID) {
		if participant == callerID {
			continue
		}
		for _, sink := range s.registry.SinksForUser(participant) {
			if err := sink.Consume(ctx, summary); err != nil {
				s.log.Warn("Conversation read summary lost",
					"conversation_id", conversationID, "user_id", participant, "error", err)
			}
		}
	}
	return count, nil
}
