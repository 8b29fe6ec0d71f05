// Package services implements the operations of the realtime core on top of
// the runtime state holders and the repositories.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"chat-core/contract"
	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/moderation"
	"chat-core/notify"
	"chat-core/observability"
	"chat-core/repositories"
	"chat-core/runtime"
	"chat-core/search"

	"github.com/abadojack/whatlanggo"
	"github.com/google/uuid"
)

// NotificationCategoryNewMessage gates the targeted attention signal.
const NotificationCategoryNewMessage = "new_message"

// Sender identifies the originating connection of an operation. Identifiers
// are plain values, snapshotted before any storage await: a disconnect
// racing an in-flight send must not corrupt the flow.
type Sender struct {
	UserID       string
	ConnectionID string
	Sink         contract.EventSink
}

type SendMessageCommand struct {
	ConversationID   string
	RecipientID      string
	Content          string
	Attachments      []domain.Attachment
	CorrelationToken string
}

// DeliveryPipeline persists messages and fans them out. The room broadcast
// is data synchronization (preference-independent, reaches anyone
// subscribed); the targeted notification is an attention signal
// (preference-gated, reaches only the addressed user). Conflating them
// would either spam muted users or silently drop alerts for users not
// currently viewing the room.
type DeliveryPipeline struct {
	messages   repositories.IMessageRepository
	users      repositories.IUserRepository
	router     *runtime.RoomRouter
	typing     *runtime.TypingCoordinator
	dispatcher *notify.Dispatcher
	moderator  *moderation.Moderator
	index      *search.MessageIndex
	metrics    observability.Metrics
	log        *slog.Logger
}

func NewDeliveryPipeline(
	messages repositories.IMessageRepository,
	users repositories.IUserRepository,
	router *runtime.RoomRouter,
	typing *runtime.TypingCoordinator,
	dispatcher *notify.Dispatcher,
	moderator *moderation.Moderator,
	index *search.MessageIndex,
	metrics observability.Metrics,
	log *slog.Logger,
) *DeliveryPipeline {
	return &DeliveryPipeline{
		messages:   messages,
		users:      users,
		router:     router,
		typing:     typing,
		dispatcher: dispatcher,
		moderator:  moderator,
		index:      index,
		metrics:    metrics,
		log:        log,
	}
}

// SendMessage runs the full delivery flow. Failures before or at the
// persistence commit point are reported to the sender only, as a
// message_error carrying the correlation token; nothing is broadcast and no
// partial state becomes visible to anyone else.
func (p *DeliveryPipeline) SendMessage(ctx context.Context, sender Sender, cmd SendMessageCommand) (domain.Message, error) {
	if err := p.validate(sender.UserID, cmd); err != nil {
		p.reject(ctx, sender, cmd.CorrelationToken, err)
		return domain.Message{}, err
	}

	content := cmd.Content
	if censored, words := p.moderator.Censor(content); len(words) > 0 {
		info := whatlanggo.Detect(content)
		p.log.Info("Message content censored",
			"conversation_id", cmd.ConversationID,
			"sender_id", sender.UserID,
			"words", len(words),
			"lang", info.Lang.Iso6391())
		content = censored
	}

	message := domain.Message{
		ID:             uuid.New(),
		ConversationID: cmd.ConversationID,
		SenderID:       sender.UserID,
		RecipientID:    cmd.RecipientID,
		Content:        content,
		Attachments:    cmd.Attachments,
		Read:           false,
		CreatedAt:      time.Now().UTC(),
	}

	// Commit point. Everything after this is observable by others.
	if err := p.messages.StoreMessage(message); err != nil {
		p.reject(ctx, sender, cmd.CorrelationToken, err)
		return domain.Message{}, err
	}
	p.metrics.MessagePersisted()

	if p.index != nil {
		if err := p.index.Index(message); err != nil {
			p.log.Warn("Message indexing failed", "message_id", message.ID, "error", err)
		}
	}

	// Sending implies not-typing.
	p.typing.Stop(ctx, cmd.ConversationID, sender.UserID)

	delivered := p.router.Broadcast(ctx, event.NewMessage{
		ConversationID: cmd.ConversationID,
		Message:        message,
	})
	p.metrics.MessageDelivered(delivered)

	p.notifyRecipient(ctx, message)

	if err := sender.Sink.Consume(ctx, event.MessageSent{
		CorrelationToken: cmd.CorrelationToken,
		Message:          message,
	}); err != nil {
		p.log.Warn("Send acknowledgement lost", "connection_id", sender.ConnectionID, "error", err)
	}

	return message, nil
}

// History returns one page of the conversation, newest first. Membership is
// checked against the key like any other conversation-scoped operation.
func (p *DeliveryPipeline) History(_ context.Context, callerID, conversationID string, cursor *string) (event.MessageHistory, error) {
	if !domain.IsParticipant(conversationID, callerID) {
		return event.MessageHistory{}, errors.ErrAuthorization
	}
	messages, next, err := p.messages.GetMessages(conversationID, cursor)
	if err != nil {
		return event.MessageHistory{}, err
	}
	return event.MessageHistory{
		ConversationID: conversationID,
		Messages:       messages,
		NextCursor:     next,
	}, nil
}

func (p *DeliveryPipeline) validate(senderID string, cmd SendMessageCommand) error {
	if cmd.Content == "" {
		return errors.Validationf("content must not be empty")
	}
	if cmd.ConversationID == "" {
		return errors.Validationf("conversationId is required")
	}
	// Membership is re-validated here, independent of room join state.
	if !domain.IsParticipant(cmd.ConversationID, senderID) {
		return errors.ErrAuthorization
	}
	if !domain.IsParticipant(cmd.ConversationID, cmd.RecipientID) {
		return errors.Validationf("recipient is not part of the conversation")
	}
	return nil
}

// notifyRecipient evaluates the recipient's preference for the new_message
// category and dispatches the targeted notification when enabled. This path
// is deliberately decoupled from the room broadcast.
func (p *DeliveryPipeline) notifyRecipient(ctx context.Context, message domain.Message) {
	enabled, err := p.users.NotificationEnabled(message.RecipientID, NotificationCategoryNewMessage)
	if err != nil {
		p.log.Warn("Notification preference lookup failed",
			"user_id", message.RecipientID, "error", err)
		enabled = true
	}
	if !enabled {
		return
	}

	senderName := message.SenderID
	if user, err := p.users.GetUser(message.SenderID); err == nil && user.Name != "" {
		senderName = user.Name
	}

	p.dispatcher.Dispatch(ctx, domain.Envelope{
		Type:    "message_notification",
		Title:   fmt.Sprintf("New message from %s", senderName),
		Message: message.Content,
		Data: map[string]any{
			"conversationId": message.ConversationID,
			"message":        message,
			"senderId":       message.SenderID,
			"senderName":     senderName,
		},
		Timestamp: time.Now().UTC(),
		UserID:    message.RecipientID,
	})
}

// reject surfaces a failed send to the originating connection only.
func (p *DeliveryPipeline) reject(ctx context.Context, sender Sender, token string, err error) {
	if consumeErr := sender.Sink.Consume(ctx, event.MessageError{
		Error:            err.Error(),
		Code:             errors.Code(err),
		CorrelationToken: token,
	}); consumeErr != nil {
		p.log.Warn("Error report lost", "connection_id", sender.ConnectionID, "error", consumeErr)
	}
}
