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
	"github.com/samber/lo"
)

const (
	messagePrefix   = "msg:"
	messageSequence = "seq:message"
	// Ids are leased from badger in blocks, a restart skips the unused part of a block.
	messageSequenceBandwidth = 100
)

type MessageRepository struct {
	db  *badger.DB
	log *slog.Logger
	seq *badger.Sequence
	now func() time.Time
}

func NewMessageRepository(db *badger.DB, log *slog.Logger) (*MessageRepository, error) {
	seq, err := db.GetSequence([]byte(messageSequence), messageSequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("message sequence: %w", err)
	}
	return &MessageRepository{db: db, log: log, seq: seq, now: time.Now}, nil
}

// Close returns the leased ids to badger.
func (m *MessageRepository) Close() error {
	return m.seq.Release()
}

// messageKey is zero padded so that a prefix scan returns messages in id order.
func messageKey(id domain.MessageID) []byte {
	return []byte(fmt.Sprintf("%s%020d", messagePrefix, id))
}

func (m *MessageRepository) SaveIndividualMessage(ctx context.Context, senderID, recipientID domain.UserID, content string) (domain.MessageRecord, error) {
	return m.save(ctx, domain.MessageRecord{
		Kind:        domain.IndividualMessage,
		SenderID:    senderID,
		RecipientID: recipientID,
		Content:     content,
	})
}

func (m *MessageRepository) SaveGroupMessage(ctx context.Context, senderID domain.UserID, groupID domain.GroupID, content string) (domain.MessageRecord, error) {
	return m.save(ctx, domain.MessageRecord{
		Kind:     domain.GroupMessage,
		SenderID: senderID,
		GroupID:  groupID,
		Content:  content,
	})
}

func (m *MessageRepository) save(ctx context.Context, record domain.MessageRecord) (domain.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return domain.MessageRecord{}, err
	}
	next, err := m.seq.Next()
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("next message id: %w", err)
	}
	record.ID = domain.MessageID(next + 1)
	record.CreatedAt = m.now().UTC()

	data, err := encodeMessage(record)
	if err != nil {
		return domain.MessageRecord{}, err
	}
	err = m.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(record.ID), data)
	})
	if err != nil {
		return domain.MessageRecord{}, err
	}
	m.log.Debug("Message stored", "message_id", record.ID, "kind", record.Kind)
	return record, nil
}

// MarkRead flags every known individual message of ids as read, in one
// transaction. Unknown ids are skipped. Messages already read keep their
// original read time and are still returned.
func (m *MessageRepository) MarkRead(ctx context.Context, ids []domain.MessageID) ([]domain.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	readAt := m.now().UTC()
	var updated []domain.MessageRecord
	err := m.db.Update(func(txn *badger.Txn) error {
		for _, id := range lo.Uniq(ids) {
			record, err := getMessage(txn, id)
			if stderrors.Is(err, errors.ErrEntityNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if record.Kind != domain.IndividualMessage {
				continue
			}
			if !record.Read {
				record.Read = true
				record.ReadAt = lo.ToPtr(readAt)
				data, err := encodeMessage(record)
				if err != nil {
					return err
				}
				if err := txn.Set(messageKey(id), data); err != nil {
					return err
				}
			}
			updated = append(updated, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// LoadByIDs returns the known messages of ids, in the order of ids.
func (m *MessageRepository) LoadByIDs(ctx context.Context, ids []domain.MessageID) ([]domain.MessageRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []domain.MessageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		for _, id := range lo.Uniq(ids) {
			record, err := getMessage(txn, id)
			if stderrors.Is(err, errors.ErrEntityNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			records = append(records, record)
		}
		return nil
	})
	return records, err
}

// Get returns one message or errors.ErrEntityNotFound.
func (m *MessageRepository) Get(id domain.MessageID) (domain.MessageRecord, error) {
	var record domain.MessageRecord
	err := m.db.View(func(txn *badger.Txn) error {
		var err error
		record, err = getMessage(txn, id)
		return err
	})
	return record, err
}

func getMessage(txn *badger.Txn, id domain.MessageID) (domain.MessageRecord, error) {
	item, err := txn.Get(messageKey(id))
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return domain.MessageRecord{}, fmt.Errorf("%w: message %d", errors.ErrEntityNotFound, id)
	}
	if err != nil {
		return domain.MessageRecord{}, err
	}
	var record domain.MessageRecord
	err = item.Value(func(val []byte) error {
		record, err = decodeMessage(val)
		return err
	})
	return record, err
}

func encodeMessage(r domain.MessageRecord) ([]byte, error) {
	return encode(fields{
		"id":           formatUint(uint64(r.ID)),
		"kind":         string(r.Kind),
		"sender_id":    string(r.SenderID),
		"recipient_id": string(r.RecipientID),
		"group_id":     string(r.GroupID),
		"content":      r.Content,
		"created_at":   formatTime(r.CreatedAt),
		"read":         r.Read,
		"read_at":      formatOptionalTime(r.ReadAt),
		"read_by": lo.Map(r.ReadBy, func(u domain.UserID, _ int) any {
			return string(u)
		}),
	})
}

func decodeMessage(data []byte) (domain.MessageRecord, error) {
	rec, err := decode(data)
	if err != nil {
		return domain.MessageRecord{}, err
	}
	id, err := rec.uint("id")
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("message id: %w", err)
	}
	createdAt, err := rec.time("created_at")
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("message created_at: %w", err)
	}
	readAt, err := rec.optionalTime("read_at")
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("message read_at: %w", err)
	}
	var readBy []domain.UserID
	for _, u := range rec.strs("read_by") {
		readBy = append(readBy, domain.UserID(u))
	}
	return domain.MessageRecord{
		ID:          domain.MessageID(id),
		Kind:        domain.MessageKind(rec.str("kind")),
		SenderID:    domain.UserID(rec.str("sender_id")),
		RecipientID: domain.UserID(rec.str("recipient_id")),
		GroupID:     domain.GroupID(rec.str("group_id")),
		Content:     rec.str("content"),
		CreatedAt:   createdAt,
		Read:        rec.boolean("read"),
		ReadAt:      readAt,
		ReadBy:      readBy,
	}, nil
}
