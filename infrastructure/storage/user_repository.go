package storage

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type UserRepository struct {
	db  *badger.DB
	now func() time.Time
}

func NewUserRepository(db *badger.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func userKey(id domain.UserID) []byte {
	return []byte("user:" + id)
}

// CreateUser persists a user under a new id and returns it.
// An empty id is generated, an existing one yields errors.ErrUserAlreadyExist.
func (u *UserRepository) CreateUser(ctx context.Context, id domain.UserID, displayName string) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	if id == "" {
		id = domain.UserID(uuid.NewString())
	}
	user := domain.User{ID: id, DisplayName: displayName, CreatedAt: u.now().UTC()}
	data, err := encode(fields{
		"id":           string(user.ID),
		"display_name": user.DisplayName,
		"created_at":   formatTime(user.CreatedAt),
	})
	if err != nil {
		return domain.User{}, fmt.Errorf("marshal failed: %w", err)
	}

	err = u.db.Update(func(txn *badger.Txn) error {
		key := userKey(user.ID)
		if _, err := txn.Get(key); err == nil {
			return errors.ErrUserAlreadyExist
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.User{}, err
	}
	return user, nil
}

func (u *UserRepository) GetUser(ctx context.Context, id domain.UserID) (domain.User, error) {
	if err := ctx.Err(); err != nil {
		return domain.User{}, err
	}
	var user domain.User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(id))
		if stderrors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: user %s", errors.ErrEntityNotFound, id)
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err := decode(val)
			if err != nil {
				return err
			}
			createdAt, err := rec.time("created_at")
			if err != nil {
				return err
			}
			user = domain.User{
				ID:          domain.UserID(rec.str("id")),
				DisplayName: rec.str("display_name"),
				CreatedAt:   createdAt,
			}
			return nil
		})
	})
	return user, err
}

func (u *UserRepository) Exists(ctx context.Context, id domain.UserID) (bool, error) {
	_, err := u.GetUser(ctx, id)
	if stderrors.Is(err, errors.ErrEntityNotFound) {
		return false, nil
	}
	return err == nil, err
}
