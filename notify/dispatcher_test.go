package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"chat-core/domain"
	"chat-core/domain/event"
	"chat-core/observability"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type recordSink struct {
	mu        sync.Mutex
	envelopes []domain.Envelope
}

func (s *recordSink) Consume(_ context.Context, e event.Event) error {
	notification, ok := e.(event.Notification)
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.envelopes = append(s.envelopes, notification.Envelope)
	return nil
}

func (s *recordSink) Envelopes() []domain.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Envelope(nil), s.envelopes...)
}

func newDispatcher() *Dispatcher {
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	return NewDispatcher(DefaultBacklogCap, DefaultBacklogTTL, observability.Noop{}, log)
}

func envelopeFor(userID, title string) domain.Envelope {
	return domain.Envelope{
		Type:   "message_notification",
		Title:  title,
		UserID: userID,
		Data:   map[string]any{"conversationId": uuid.NewString()},
	}
}

func TestDispatcher_Dispatch_Pushes_To_Every_Live_Channel(t *testing.T) {
	req := require.New(t)
	dispatcher := newDispatcher()
	alice := uuid.NewString()
	phone := &recordSink{}
	laptop := &recordSink{}
	dispatcher.Attach(context.Background(), alice, uuid.NewString(), phone)
	dispatcher.Attach(context.Background(), alice, uuid.NewString(), laptop)

	// When a notification targets a connected user
	dispatcher.Dispatch(context.Background(), envelopeFor(alice, "hello"))

	// Then both devices receive it and nothing is queued
	req.Len(phone.Envelopes(), 1)
	req.Len(laptop.Envelopes(), 1)
	req.Zero(dispatcher.BacklogSize(alice))
}

func TestDispatcher_Dispatch_Queues_For_Offline_Users(t *testing.T) {
	req := require.New(t)
	dispatcher := newDispatcher()
	alice := uuid.NewString()

	dispatcher.Dispatch(context.Background(), envelopeFor(alice, "while away"))

	req.Equal(1, dispatcher.BacklogSize(alice))
}

func TestDispatcher_Attach_Flushes_The_Backlog_In_Order(t *testing.T) {
	req := require.New(t)
	dispatcher := newDispatcher()
	alice := uuid.NewString()

	// Given three queued notifications
	for i := 0; i < 3; i++ {
		dispatcher.Dispatch(context.Background(), envelopeFor(alice, fmt.Sprintf("n%d", i)))
	}
	req.Equal(3, dispatcher.BacklogSize(alice))

	// When the user reconnects
	sink := &recordSink{}
	dispatcher.Attach(context.Background(), alice, uuid.NewString(), sink)

	// Then the backlog arrives in original chronological order and is cleared
	envelopes := sink.Envelopes()
	req.Len(envelopes, 3)
	req.Equal("n0", envelopes[0].Title)
	req.Equal("n1", envelopes[1].Title)
	req.Equal("n2", envelopes[2].Title)
	req.Zero(dispatcher.BacklogSize(alice))
}

func TestDispatcher_Backlog_Evicts_Oldest_At_Capacity(t *testing.T) {
	req := require.New(t)
	dispatcher := newDispatcher()
	alice := uuid.NewString()

	// Given 60 notifications for an offline user with a cap of 50
	for i := 0; i < 60; i++ {
		dispatcher.Dispatch(context.Background(), envelopeFor(alice, fmt.Sprintf("n%d", i)))
	}
	req.Equal(DefaultBacklogCap, dispatcher.BacklogSize(alice))

	// When the user reconnects
	sink := &recordSink{}
	dispatcher.Attach(context.Background(), alice, uuid.NewString(), sink)

	// Then only the 50 most recent survive, oldest first
	envelopes := sink.Envelopes()
	req.Len(envelopes, DefaultBacklogCap)
	req.Equal("n10", envelopes[0].Title)
	req.Equal("n59", envelopes[len(envelopes)-1].Title)
}

func TestDispatcher_Detach_Routes_Back_To_The_Backlog(t *testing.T) {
	req := require.New(t)
	dispatcher := newDispatcher()
	alice := uuid.NewString()
	channelID := uuid.NewString()
	sink := &recordSink{}
	dispatcher.Attach(context.Background(), alice, channelID, sink)

	// When the only channel detaches and a new notification arrives
	dispatcher.Detach(alice, channelID)
	dispatcher.Dispatch(context.Background(), envelopeFor(alice, "after detach"))

	// Then it is queued instead of pushed
	req.Empty(sink.Envelopes())
	req.Equal(1, dispatcher.BacklogSize(alice))
}

func TestDispatcher_Sweep_Purges_Expired_Entries(t *testing.T) {
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)
	dispatcher := NewDispatcher(DefaultBacklogCap, time.Hour, observability.Noop{}, log)
	alice := uuid.NewString()

	stale := envelopeFor(alice, "stale")
	stale.Timestamp = time.Now().UTC().Add(-2 * time.Hour)
	fresh := envelopeFor(alice, "fresh")

	dispatcher.Dispatch(context.Background(), stale)
	dispatcher.Dispatch(context.Background(), fresh)
	req.Equal(2, dispatcher.BacklogSize(alice))

	// When the hourly sweep runs
	purged := dispatcher.Sweep(time.Now().UTC())

	// Then only the expired entry is purged
	req.Equal(1, purged)
	req.Equal(1, dispatcher.BacklogSize(alice))

	sink := &recordSink{}
	dispatcher.Attach(context.Background(), alice, uuid.NewString(), sink)
	envelopes := sink.Envelopes()
	req.Len(envelopes, 1)
	req.Equal("fresh", envelopes[0].Title)
}

func TestDispatcher_DispatchMany_Targets_Each_User(t *testing.T) {
	req := require.New(t)
	dispatcher := newDispatcher()
	alice := uuid.NewString()
	bob := uuid.NewString()
	aliceSink := &recordSink{}
	dispatcher.Attach(context.Background(), alice, uuid.NewString(), aliceSink)

	dispatcher.DispatchMany(context.Background(), []string{alice, bob}, domain.Envelope{
		Type:  "conversation_read",
		Title: "read",
	})

	// Connected target gets a push, the offline one gets a queue entry
	envelopes := aliceSink.Envelopes()
	req.Len(envelopes, 1)
	req.Equal(alice, envelopes[0].UserID)
	req.Equal(1, dispatcher.BacklogSize(bob))
}
