package repositories

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"chat-core/domain"
	"chat-core/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IMessageRepository interface {
	StoreMessage(message domain.Message) error
	GetMessage(id uuid.UUID) (domain.Message, error)
	MarkRead(id uuid.UUID, at time.Time) (domain.Message, bool, error)
	MarkConversationRead(conversationID, recipientID string, at time.Time) (int, error)
	GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error)
}

type MessageRepository struct {
	db            *badger.DB
	log           *slog.Logger
	limitMessages *int
}

func NewMessageRepository(db *badger.DB, log *slog.Logger, limitMessages *int) MessageRepository {
	return MessageRepository{db: db, log: log, limitMessages: limitMessages}
}

// messageKey formats the primary key as "msg:{conversation}:{timestamp_padded}:{uuid}" to:
//  1. Ensure chronological sorting using 19-digit zero padding (lexicographical order).
//  2. Prevent data loss by using UUID as a collision disconnector if two messages
//     arrive at the same nanosecond.
func messageKey(m domain.Message) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d:%s",
		m.ConversationID,
		m.CreatedAt.UnixNano(),
		m.ID,
	))
}

// idKey is the secondary index resolving a message id to its primary key.
func idKey(id uuid.UUID) []byte {
	return []byte("msgid:" + id.String())
}

// StoreMessage persists a message and its id index in one transaction.
// This write is the commit point of the delivery pipeline: nothing is
// broadcast unless it succeeds.
func (m MessageRepository) StoreMessage(message domain.Message) error {
	bytes, err := json.Marshal(message)
	if err != nil {
		return errors.Persistence(err)
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(message), bytes); err != nil {
			return err
		}
		return txn.Set(idKey(message.ID), messageKey(message))
	})
	return errors.Persistence(err)
}

// GetMessage resolves a message through the id index.
func (m MessageRepository) GetMessage(id uuid.UUID) (domain.Message, error) {
	var message domain.Message
	err := m.db.View(func(txn *badger.Txn) error {
		primary, err := resolvePrimary(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &message)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, errors.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, errors.Persistence(err)
	}
	return message, nil
}

// MarkRead flips read:false->true and stamps readAt inside one transaction.
// Re-invoking on an already-read message is a state no-op: the stored record
// is returned unchanged and the second return value reports false.
func (m MessageRepository) MarkRead(id uuid.UUID, at time.Time) (domain.Message, bool, error) {
	var message domain.Message
	var changed bool
	err := m.db.Update(func(txn *badger.Txn) error {
		primary, err := resolvePrimary(txn, id)
		if err != nil {
			return err
		}
		item, err := txn.Get(primary)
		if err != nil {
			return err
		}
		if err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &message)
		}); err != nil {
			return err
		}
		if message.Read {
			return nil
		}
		message.Read = true
		message.ReadAt = &at
		changed = true

		bytes, err := json.Marshal(message)
		if err != nil {
			return err
		}
		return txn.Set(primary, bytes)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return domain.Message{}, false, errors.ErrNotFound
	}
	if err != nil {
		return domain.Message{}, false, errors.Persistence(err)
	}
	return message, changed, nil
}

// MarkConversationRead marks every unread message addressed to recipientID
// within the conversation as read in one durable update and returns the
// number of records touched. One transaction keeps the bulk transition
// atomic for the summary event built from the count.
func (m MessageRepository) MarkConversationRead(conversationID, recipientID string, at time.Time) (int, error) {
	count := 0
	err := m.db.Update(func(txn *badger.Txn) error {
		prefix := []byte("msg:" + conversationID + ":")
		options := badger.DefaultIteratorOptions
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)

			var message domain.Message
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &message)
			}); err != nil {
				return err
			}
			if message.RecipientID != recipientID || message.Read {
				continue
			}
			message.Read = true
			readAt := at
			message.ReadAt = &readAt

			bytes, err := json.Marshal(message)
			if err != nil {
				return err
			}
			if err := txn.Set(key, bytes); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Persistence(err)
	}
	return count, nil
}

// GetMessages retrieves conversation history using a reverse prefix scan.
// Thanks to the padded timestamp in the key, messages are naturally sorted
// by time; the returned cursor resumes the scan on the next call.
// It stops collecting once the configured limitMessages is reached.
func (m MessageRepository) GetMessages(conversationID string, cursor *string) ([]domain.Message, *string, error) {
	var messages []domain.Message
	var lastKey string
	err := m.db.View(func(txn *badger.Txn) error {
		prefixStr := "msg:" + conversationID + ":"
		prefix := []byte(prefixStr)
		prefixLen := len(prefixStr)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		var seekKey []byte
		switch cursor {
		case nil:
			// Seek past the newest possible timestamp, then walk backwards.
			seekKey = append(prefix, []byte("9999999999999999999")...)
		default:
			seekKey = append(prefix, []byte(*cursor)...)
		}

		it.Seek(seekKey)

		if cursor != nil && it.ValidForPrefix(prefix) {
			it.Next()
		}

		for ; it.ValidForPrefix(prefix); it.Next() {
			if m.limitMessages != nil && len(messages) == *m.limitMessages {
				m.log.Debug(fmt.Sprintf("Maximum of %d messages reached", *m.limitMessages))
				break
			}
			item := it.Item()
			lastKey = string(item.Key()[prefixLen:])
			var message domain.Message
			if err := item.Value(func(value []byte) error {
				return json.Unmarshal(value, &message)
			}); err != nil {
				return err
			}
			messages = append(messages, message)
		}
		return nil
	})
	if err != nil {
		return nil, nil, errors.Persistence(err)
	}
	return messages, &lastKey, nil
}

func resolvePrimary(txn *badger.Txn, id uuid.UUID) ([]byte, error) {
	item, err := txn.Get(idKey(id))
	if err != nil {
		return nil, err
	}
	var primary []byte
	err = item.Value(func(val []byte) error {
		primary = append([]byte(nil), val...)
		return nil
	})
	return primary, err
}
