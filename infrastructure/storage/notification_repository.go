package storage

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type NotificationRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewNotificationRepository(db *badger.DB, log *slog.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, log: log, now: time.Now}
}

// notificationKey is formatted as "notif:{user}:{timestamp_padded}:{uuid}" so a
// user's notifications come back oldest first from a prefix scan.
func notificationKey(n domain.NotificationRecord) []byte {
	return []byte(fmt.Sprintf("notif:%s:%019d:%s", n.UserID, n.CreatedAt.UnixNano(), n.ID))
}

func notificationIndexKey(id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("notif_idx:msg:%020d", id))
}

// CreateIndividualMessageNotification queues one notification for the
// recipient of record. Calling it again for the same message is a no-op.
func (n *NotificationRepository) CreateIndividualMessageNotification(ctx context.Context, record domain.MessageRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if record.Kind != domain.IndividualMessage || record.RecipientID == "" {
		return fmt.Errorf("%w: message %d has no individual recipient", errors.ErrInvalidPayload, record.ID)
	}
	notification := domain.NotificationRecord{
		ID:        uuid.New(),
		UserID:    record.RecipientID,
		MessageID: record.ID,
		SenderID:  record.SenderID,
		CreatedAt: n.now().UTC(),
	}
	data, err := encodeNotification(notification)
	if err != nil {
		return err
	}

	created := false
	err = n.db.Update(func(txn *badger.Txn) error {
		indexKey := notificationIndexKey(record.ID)
		_, err := txn.Get(indexKey)
		if err == nil {
			return nil
		}
		if !stderrors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		key := notificationKey(notification)
		if err := txn.Set(key, data); err != nil {
			return err
		}
		created = true
		return txn.Set(indexKey, key)
	})
	if err != nil {
		return err
	}
	if created {
		n.log.Debug("Notification stored",
			"notification_id", notification.ID,
			"user_id", notification.UserID,
			"message_id", notification.MessageID)
	}
	return nil
}

// ListForUser returns the pending notifications of userID, oldest first.
func (n *NotificationRepository) ListForUser(userID domain.UserID) ([]domain.NotificationRecord, error) {
	var notifications []domain.NotificationRecord
	err := n.db.View(func(txn *badger.Txn) error {
		prefix := []byte(fmt.Sprintf("notif:%s:", userID))
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				notification, err := decodeNotification(val)
				if err != nil {
					return err
				}
				notifications = append(notifications, notification)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return notifications, err
}

func encodeNotification(n domain.NotificationRecord) ([]byte, error) {
	return encode(fields{
		"id":         n.ID.String(),
		"user_id":    string(n.UserID),
		"message_id": formatUint(uint64(n.MessageID)),
		"sender_id":  string(n.SenderID),
		"created_at": formatTime(n.CreatedAt),
	})
}

func decodeNotification(data []byte) (domain.NotificationRecord, error) {
	rec, err := decode(data)
	if err != nil {
		return domain.NotificationRecord{}, err
	}
	id, err := uuid.Parse(rec.str("id"))
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("notification id: %w", err)
	}
	messageID, err := rec.uint("message_id")
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("notification message_id: %w", err)
	}
	createdAt, err := rec.time("created_at")
	if err != nil {
		return domain.NotificationRecord{}, fmt.Errorf("notification created_at: %w", err)
	}
	return domain.NotificationRecord{
		ID:        id,
		UserID:    domain.UserID(rec.str("user_id")),
		MessageID: domain.MessageID(messageID),
		SenderID:  domain.UserID(rec.str("sender_id")),
		CreatedAt: createdAt,
	}, nil
}
