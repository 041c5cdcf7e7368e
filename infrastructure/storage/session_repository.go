package storage

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// SessionRepository persists sessions keyed by a hash of their token, the
// token itself never reaches the disk.
//
// Each usable session also owns a "user_session:{user}:{hash}" index entry
// expiring with the session. Membership resolution relies on it to find
// users with an active session without decoding every session.
type SessionRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewSessionRepository(db *badger.DB, log *slog.Logger) *SessionRepository {
	return &SessionRepository{db: db, log: log, now: time.Now}
}

func tokenHash(token domain.SessionToken) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func sessionKey(hash string) []byte {
	return []byte("session:" + hash)
}

func userSessionPrefix(userID domain.UserID) []byte {
	return []byte(fmt.Sprintf("user_session:%s:", userID))
}

func userSessionKey(userID domain.UserID, hash string) []byte {
	return append(userSessionPrefix(userID), hash...)
}

// Create stores session under token. An existing session for the same token is replaced.
func (s *SessionRepository) Create(ctx context.Context, token domain.SessionToken, session domain.Session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeSession(session)
	if err != nil {
		return err
	}
	hash := tokenHash(token)
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(sessionKey(hash), data); err != nil {
			return err
		}
		ttl := session.ExpiresAt.Sub(s.now())
		if !session.Active || ttl <= 0 {
			return nil
		}
		entry := badger.NewEntry(userSessionKey(session.UserID, hash), []byte(formatTime(session.ExpiresAt))).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
}

// Get returns the session of token or errors.ErrEntityNotFound.
func (s *SessionRepository) Get(ctx context.Context, token domain.SessionToken) (domain.Session, error) {
	if err := ctx.Err(); err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		session, err = getSession(txn, tokenHash(token))
		return err
	})
	return session, err
}

func (s *SessionRepository) IsActive(ctx context.Context, token domain.SessionToken) (bool, error) {
	session, err := s.Get(ctx, token)
	if stderrors.Is(err, errors.ErrEntityNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return session.IsUsable(s.now()), nil
}

func (s *SessionRepository) Owner(ctx context.Context, token domain.SessionToken) (domain.UserID, error) {
	session, err := s.Get(ctx, token)
	if err != nil {
		return "", err
	}
	return session.UserID, nil
}

// Deactivate marks the session of token inactive. Deactivating an inactive
// session succeeds, an unknown token yields errors.ErrEntityNotFound.
func (s *SessionRepository) Deactivate(ctx context.Context, token domain.SessionToken) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	hash := tokenHash(token)
	return s.db.Update(func(txn *badger.Txn) error {
		session, err := getSession(txn, hash)
		if err != nil {
			return err
		}
		if !session.Active {
			return nil
		}
		now := s.now().UTC()
		session.Active = false
		session.DeactivatedAt = &now
		data, err := encodeSession(session)
		if err != nil {
			return err
		}
		if err := txn.Set(sessionKey(hash), data); err != nil {
			return err
		}
		s.log.Debug("Session deactivated", "session_id", session.ID, "user_id", session.UserID)
		return txn.Delete(userSessionKey(session.UserID, hash))
	})
}

// HasActiveSession reports whether userID holds at least one usable session.
func (s *SessionRepository) HasActiveSession(userID domain.UserID) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		found = hasActiveSession(txn, userID, s.now())
		return nil
	})
	return found, err
}

func hasActiveSession(txn *badger.Txn, userID domain.UserID, now time.Time) bool {
	prefix := userSessionPrefix(userID)
	options := badger.DefaultIteratorOptions
	options.Prefix = prefix
	it := txn.NewIterator(options)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if it.Item().IsDeletedOrExpired() {
			continue
		}
		expiry := time.Unix(int64(it.Item().ExpiresAt()), 0)
		if now.Before(expiry) {
			return true
		}
	}
	return false
}

func getSession(txn *badger.Txn, hash string) (domain.Session, error) {
	item, err := txn.Get(sessionKey(hash))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.Session{}, fmt.Errorf("%w: session", errors.ErrEntityNotFound)
	}
	if err != nil {
		return domain.Session{}, err
	}
	var session domain.Session
	err = item.Value(func(val []byte) error {
		session, err = decodeSession(val)
		return err
	})
	return session, err
}

func encodeSession(s domain.Session) ([]byte, error) {
	return encode(fields{
		"id":             s.ID.String(),
		"user_id":        string(s.UserID),
		"active":         s.Active,
		"created_at":     formatTime(s.CreatedAt),
		"expires_at":     formatTime(s.ExpiresAt),
		"deactivated_at": formatOptionalTime(s.DeactivatedAt),
	})
}

func decodeSession(data []byte) (domain.Session, error) {
	rec, err := decode(data)
	if err != nil {
		return domain.Session{}, err
	}
	id, err := uuid.Parse(rec.str("id"))
	if err != nil {
		return domain.Session{}, fmt.Errorf("session id: %w", err)
	}
	createdAt, err := rec.time("created_at")
	if err != nil {
		return domain.Session{}, err
	}
	expiresAt, err := rec.time("expires_at")
	if err != nil {
		return domain.Session{}, err
	}
	deactivatedAt, err := rec.optionalTime("deactivated_at")
	if err != nil {
		return domain.Session{}, err
	}
	return domain.Session{
		ID:            id,
		UserID:        domain.UserID(rec.str("user_id")),
		Active:        rec.boolean("active"),
		CreatedAt:     createdAt,
		ExpiresAt:     expiresAt,
		DeactivatedAt: deactivatedAt,
	}, nil
}
