package services

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/errors"
	"chat-core/moderation"
	"chat-core/notify"
	"chat-core/observability"
	"chat-core/repositories"
	"chat-core/runtime"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	mu     sync.Mutex
	events []event.Event
}

func (s *recordSink) Consume(_ context.Context, e event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordSink) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

func (s *recordSink) ByType(eventType string) []event.Event {
	var out []event.Event
	for _, e := range s.Events() {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	registry   *runtime.SessionRegistry
	router     *runtime.RoomRouter
	typing     *runtime.TypingCoordinator
	dispatcher *notify.Dispatcher
	messages   repositories.MessageRepository
	users      repositories.UserRepository
	delivery   *DeliveryPipeline
	receipts   *ReceiptService
}

func newFixture(t *testing.T, dictionary []string) *fixture {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	messages := repositories.NewMessageRepository(db, log, nil)
	users := repositories.NewUserRepository(db)
	registry := runtime.NewSessionRegistry()
	router := runtime.NewRoomRouter()
	typing := runtime.NewTypingCoordinator(router, time.Minute, log)
	dispatcher := notify.NewDispatcher(notify.DefaultBacklogCap, notify.DefaultBacklogTTL, observability.Noop{}, log)

	moderator, err := moderation.NewModerator(dictionary, '*')
	req.NoError(err)

	delivery := NewDeliveryPipeline(messages, users, router, typing, dispatcher, moderator, nil, observability.Noop{}, log)
	receipts := NewReceiptService(messages, router, registry, log)

	return &fixture{
		registry:   registry,
		router:     router,
		typing:     typing,
		dispatcher: dispatcher,
		messages:   messages,
		users:      users,
		delivery:   delivery,
		receipts:   receipts,
	}
}

func TestDeliveryPipeline_SendMessage_Persists_Broadcasts_And_Acks(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)

	aliceSink := &recordSink{}
	bobSink := &recordSink{}
	f.router.Join(conversationID, alice, uuid.NewString(), aliceSink)
	f.router.Join(conversationID, bob, uuid.NewString(), bobSink)
	bobChannel := &recordSink{}
	f.dispatcher.Attach(context.Background(), bob, uuid.NewString(), bobChannel)

	// When Alice sends a message with a correlation token
	message, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, ConnectionID: uuid.NewString(), Sink: aliceSink},
		SendMessageCommand{
			ConversationID:   conversationID,
			RecipientID:      bob,
			Content:          "hello bob",
			CorrelationToken: "tmp-42",
		})
	req.NoError(err)

	// Then the message is durable
	stored, err := f.messages.GetMessage(message.ID)
	req.NoError(err)
	req.Equal("hello bob", stored.Content)
	req.False(stored.Read)

	// And both room subscribers observe the broadcast
	req.Len(bobSink.ByType("new_message"), 1)
	req.Len(aliceSink.ByType("new_message"), 1)

	// And only the sender receives the acknowledgement with the token
	acks := aliceSink.ByType("message_sent")
	req.Len(acks, 1)
	req.Equal("tmp-42", acks[0].(event.MessageSent).CorrelationToken)
	req.Empty(bobSink.ByType("message_sent"))

	// And Bob's live channel gets the targeted notification
	notifications := bobChannel.ByType("message_notification")
	req.Len(notifications, 1)
}

func TestDeliveryPipeline_SendMessage_Rejects_Non_Participants(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob, mallory := uuid.NewString(), uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)

	bobSink := &recordSink{}
	f.router.Join(conversationID, bob, uuid.NewString(), bobSink)
	mallorySink := &recordSink{}

	// When an outsider tries to send into the conversation
	_, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: mallory, ConnectionID: uuid.NewString(), Sink: mallorySink},
		SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: "hi"})

	// Then the send fails with an authorization error reported to her only
	req.ErrorIs(err, errors.ErrAuthorization)
	failures := mallorySink.ByType("message_error")
	req.Len(failures, 1)
	req.Equal("authorization_error", failures[0].(event.MessageError).Code)

	// And nothing is broadcast or persisted
	req.Empty(bobSink.Events())
	messages, _, err := f.messages.GetMessages(conversationID, nil)
	req.NoError(err)
	req.Empty(messages)
}

func TestDeliveryPipeline_SendMessage_Rejects_Empty_Content(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	sink := &recordSink{}

	_, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, Sink: sink},
		SendMessageCommand{ConversationID: domain.ConversationKey(alice, bob), RecipientID: bob})

	req.ErrorIs(err, errors.ErrValidation)
	failures := sink.ByType("message_error")
	req.Len(failures, 1)
	req.Equal("validation_error", failures[0].(event.MessageError).Code)
}

func TestDeliveryPipeline_Offline_Recipient_Gets_A_Backlog_Entry(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)
	aliceSink := &recordSink{}

	// When Alice sends while Bob has no live channel
	_, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, Sink: aliceSink},
		SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: "while away"})
	req.NoError(err)

	// Then the notification waits in Bob's backlog
	req.Equal(1, f.dispatcher.BacklogSize(bob))

	// And arrives when he reconnects
	bobChannel := &recordSink{}
	f.dispatcher.Attach(context.Background(), bob, uuid.NewString(), bobChannel)
	req.Len(bobChannel.ByType("message_notification"), 1)
	req.Zero(f.dispatcher.BacklogSize(bob))
}

func TestDeliveryPipeline_Muted_Category_Skips_The_Notification(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)
	req.NoError(f.users.SaveUser(repositories.User{
		ID:            bob,
		Name:          "Bob",
		Notifications: map[string]bool{NotificationCategoryNewMessage: false},
	}))

	_, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, Sink: &recordSink{}},
		SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: "muted"})
	req.NoError(err)

	// The data broadcast happened, the attention signal did not
	req.Zero(f.dispatcher.BacklogSize(bob))
}

func TestDeliveryPipeline_Send_Clears_The_Senders_Typing_State(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)
	bobSink := &recordSink{}
	f.router.Join(conversationID, bob, uuid.NewString(), bobSink)

	f.typing.Start(context.Background(), conversationID, alice)
	req.Equal(1, f.typing.Active())

	_, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, Sink: &recordSink{}},
		SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: "done typing"})
	req.NoError(err)

	// Sending implies not-typing
	req.Zero(f.typing.Active())
	typings := bobSink.ByType("user_typing")
	req.Len(typings, 2)
	req.False(typings[1].(event.UserTyping).IsTyping)
}

func TestDeliveryPipeline_Censors_Content_Before_Persisting(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, []string{"badger"})
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)

	message, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, Sink: &recordSink{}},
		SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: "The badger is here"})
	req.NoError(err)

	req.Equal("The ****** is here", message.Content)
	stored, err := f.messages.GetMessage(message.ID)
	req.NoError(err)
	req.Equal("The ****** is here", stored.Content)
}

func TestDeliveryPipeline_History_Pages_Newest_First(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)
	sink := &recordSink{}

	for _, content := range []string{"first", "second", "third"} {
		_, err := f.delivery.SendMessage(context.Background(),
			Sender{UserID: alice, Sink: sink},
			SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: content})
		req.NoError(err)
		time.Sleep(time.Millisecond)
	}

	history, err := f.delivery.History(context.Background(), bob, conversationID, nil)
	req.NoError(err)
	req.Len(history.Messages, 3)
	req.Equal("third", history.Messages[0].Content)
	req.Equal("first", history.Messages[2].Content)

	// Outsiders get nothing
	_, err = f.delivery.History(context.Background(), uuid.NewString(), conversationID, nil)
	req.ErrorIs(err, errors.ErrAuthorization)
}

func TestDeliveryPipeline_Two_Clients_Full_Roundtrip(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, nil)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)

	aliceSink := &recordSink{}
	bobSink := &recordSink{}
	f.registry.Register(alice, uuid.NewString(), aliceSink)
	f.registry.Register(bob, uuid.NewString(), bobSink)
	f.router.Join(conversationID, alice, uuid.NewString(), aliceSink)
	f.router.Join(conversationID, bob, uuid.NewString(), bobSink)

	// Alice sends, Bob replies
	first, err := f.delivery.SendMessage(context.Background(),
		Sender{UserID: alice, Sink: aliceSink},
		SendMessageCommand{ConversationID: conversationID, RecipientID: bob, Content: "ping", CorrelationToken: "a1"})
	req.NoError(err)
	_, err = f.delivery.SendMessage(context.Background(),
		Sender{UserID: bob, Sink: bobSink},
		SendMessageCommand{ConversationID: conversationID, RecipientID: alice, Content: "pong", CorrelationToken: "b1"})
	req.NoError(err)

	// Both sides observe both messages through the room
	req.Len(aliceSink.ByType("new_message"), 2)
	req.Len(bobSink.ByType("new_message"), 2)

	// Bob reads Alice's message, she sees the receipt
	_, err = f.receipts.MarkRead(context.Background(), bob, first.ID)
	req.NoError(err)
	receipts := aliceSink.ByType("message_read_receipt")
	req.Len(receipts, 1)
	req.Equal(first.ID, receipts[0].(event.MessageReadReceipt).MessageID)
}
