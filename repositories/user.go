package repositories

import (
	"encoding/json"
	"time"

	"chat-core/errors"

	"github.com/dgraph-io/badger/v4"
)

type IUserRepository interface {
	GetUser(id string) (User, error)
	SaveUser(user User) error
	SetPresence(id string, online bool, at time.Time) error
	NotificationEnabled(id, category string) (bool, error)
}

// User is the slice of the durable user record the realtime core touches:
// display name for notification titles, the mirrored presence fields, and
// per-category notification preferences. Everything else about users is
// owned by external collaborators.
type User struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	IsOnline      bool            `json:"isOnline"`
	LastSeen      time.Time       `json:"lastSeen"`
	Notifications map[string]bool `json:"notifications,omitempty"`
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) UserRepository {
	return UserRepository{db: db}
}

func userKey(id string) []byte {
	return []byte("user:" + id)
}

func (u UserRepository) GetUser(id string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &user)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return User{}, errors.ErrNotFound
	}
	if err != nil {
		return User{}, errors.Persistence(err)
	}
	return user, nil
}

func (u UserRepository) SaveUser(user User) error {
	bytes, err := json.Marshal(user)
	if err != nil {
		return errors.Persistence(err)
	}
	err = u.db.Update(func(txn *badger.Txn) error {
		return txn.Set(userKey(user.ID), bytes)
	})
	return errors.Persistence(err)
}

// SetPresence mirrors the in-memory online set onto the durable record.
// A missing record is created on the fly so presence survives for users the
// collaborator system has not written yet.
func (u UserRepository) SetPresence(id string, online bool, at time.Time) error {
	err := u.db.Update(func(txn *badger.Txn) error {
		var user User
		item, err := txn.Get(userKey(id))
		switch err {
		case nil:
			if err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &user)
			}); err != nil {
				return err
			}
		case badger.ErrKeyNotFound:
			user = User{ID: id}
		default:
			return err
		}

		user.IsOnline = online
		user.LastSeen = at

		bytes, err := json.Marshal(user)
		if err != nil {
			return err
		}
		return txn.Set(userKey(id), bytes)
	})
	return errors.Persistence(err)
}

// NotificationEnabled evaluates the user's preference for a category.
// Unknown users and unset categories default to enabled: a missing
// preference must not silently drop attention signals.
func (u UserRepository) NotificationEnabled(id, category string) (bool, error) {
	user, err := u.GetUser(id)
	if errors.Is(err, errors.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	if user.Notifications == nil {
		return true, nil
	}
	enabled, ok := user.Notifications[category]
	if !ok {
		return true, nil
	}
	return enabled, nil
}
