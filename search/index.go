// Package search maintains a full-text index of message content.
// The index is a convenience for offline inspection and history search; it
// is rebuilt from badger if lost and is never part of the delivery path's
// commit point.
package search

import (
	"context"
	"log/slog"

	"chat-core/domain"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

type MessageIndex struct {
	writer *bluge.Writer
	log    *slog.Logger
}

// Open creates or opens the index at path.
func Open(path string, log *slog.Logger) (*MessageIndex, error) {
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(path))
	if err != nil {
		return nil, err
	}
	return &MessageIndex{writer: writer, log: log}, nil
}

func (i *MessageIndex) Close() error {
	return i.writer.Close()
}

// Index upserts one message document.
func (i *MessageIndex) Index(m domain.Message) error {
	doc := bluge.NewDocument(m.ID.String()).
		AddField(bluge.NewKeywordField("conversation", m.ConversationID)).
		AddField(bluge.NewKeywordField("sender", m.SenderID).StoreValue()).
		AddField(bluge.NewTextField("content", m.Content).StoreValue()).
		AddField(bluge.NewDateTimeField("created_at", m.CreatedAt))
	return i.writer.Update(doc.ID(), doc)
}

// Hit is one search result with its stored fields.
type Hit struct {
	MessageID uuid.UUID
	SenderID  string
	Content   string
}

// Search matches terms against message content within one conversation and
// returns up to limit hits plus the total match count.
func (i *MessageIndex) Search(ctx context.Context, conversationID, terms string, limit int) ([]Hit, uint64, error) {
	reader, err := i.writer.Reader()
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = reader.Close() }()

	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(conversationID).SetField("conversation")).
		AddMust(bluge.NewMatchQuery(terms).SetField("content"))

	request := bluge.NewTopNSearch(limit, query).WithStandardAggregations()
	iterator, err := reader.Search(ctx, request)
	if err != nil {
		return nil, 0, err
	}

	var hits []Hit
	for {
		match, err := iterator.Next()
		if err != nil {
			return nil, 0, err
		}
		if match == nil {
			break
		}

		var hit Hit
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case "_id":
				if id, parseErr := uuid.Parse(string(value)); parseErr == nil {
					hit.MessageID = id
				}
			case "sender":
				hit.SenderID = string(value)
			case "content":
				hit.Content = string(value)
			}
			return true
		})
		if err != nil {
			return nil, 0, err
		}
		hits = append(hits, hit)
	}

	return hits, iterator.Aggregations().Count(), nil
}
