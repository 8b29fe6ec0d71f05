package search

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"chat-core/domain"

	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func openTestIndex(t *testing.T) *MessageIndex {
	t.Helper()
	index, err := Open(t.TempDir(), logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })
	return index
}

func indexMessage(t *testing.T, index *MessageIndex, conversationID, sender, content string) domain.Message {
	t.Helper()
	message := domain.Message{
		ID:             uuid.New(),
		ConversationID: conversationID,
		SenderID:       sender,
		RecipientID:    uuid.NewString(),
		Content:        content,
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, index.Index(message))
	return message
}

func TestMessageIndex_Search_Scopes_To_The_Conversation(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)
	alice, bob, carol := uuid.NewString(), uuid.NewString(), uuid.NewString()
	first := domain.ConversationKey(alice, bob)
	second := domain.ConversationKey(alice, carol)

	wanted := indexMessage(t, index, first, alice, "the quarterly report is ready")
	indexMessage(t, index, second, alice, "another report entirely")
	indexMessage(t, index, first, bob, "lunch plans")

	hits, total, err := index.Search(context.Background(), first, "report", 10)
	req.NoError(err)
	req.Equal(uint64(1), total)
	req.Len(hits, 1)
	req.Equal(wanted.ID, hits[0].MessageID)
	req.Equal(alice, hits[0].SenderID)
	req.Equal("the quarterly report is ready", hits[0].Content)
}

func TestMessageIndex_Search_No_Match(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)
	indexMessage(t, index, conversationID, alice, "hello there")

	hits, total, err := index.Search(context.Background(), conversationID, "absent", 10)
	req.NoError(err)
	req.Zero(total)
	req.Empty(hits)
}

func TestMessageIndex_Index_Is_An_Upsert(t *testing.T) {
	req := require.New(t)
	index := openTestIndex(t)
	alice, bob := uuid.NewString(), uuid.NewString()
	conversationID := domain.ConversationKey(alice, bob)

	message := indexMessage(t, index, conversationID, alice, "original content")
	message.Content = "censored content"
	req.NoError(index.Index(message))

	hits, _, err := index.Search(context.Background(), conversationID, "censored", 10)
	req.NoError(err)
	req.Len(hits, 1)
	req.Equal("censored content", hits[0].Content)

	hits, _, err = index.Search(context.Background(), conversationID, "original", 10)
	req.NoError(err)
	req.Empty(hits)
}
