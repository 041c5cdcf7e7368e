package runtime

import (
	"chat-dispatch/contract"
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"context"
	"fmt"

	"github.com/samber/lo"
)

// SyncReadReceipts marks the reader's messages as read and broadcasts one
// read-state update to every connection of every party involved.
//
// Unknown ids, and ids of messages not addressed to the reader, are skipped.
// ErrEntityNotFound is only returned when nothing at all was marked.
// The broadcast happens after the store committed.
func (r *Router) SyncReadReceipts(ctx context.Context, readerID domain.UserID, ids []domain.MessageID) error {
	ids = lo.Uniq(ids)
	if len(ids) == 0 {
		return fmt.Errorf("%w: no message ids", errors.ErrInvalidPayload)
	}

	found, err := r.messages.LoadByIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("%w: load messages: %v", errors.ErrStorageFailure, err)
	}
	owned := lo.FilterMap(found, func(m domain.MessageRecord, _ int) (domain.MessageID, bool) {
		return m.ID, m.Kind == domain.IndividualMessage && m.RecipientID == readerID
	})
	if len(owned) == 0 {
		return fmt.Errorf("%w: none of %v can be marked by %s", errors.ErrEntityNotFound, ids, readerID)
	}

	updated, err := r.messages.MarkRead(ctx, owned)
	if err != nil {
		return fmt.Errorf("%w: mark read: %v", errors.ErrStorageFailure, err)
	}
	if len(updated) == 0 {
		return fmt.Errorf("%w: none of %v was updated", errors.ErrEntityNotFound, owned)
	}
	if skipped := len(ids) - len(updated); skipped > 0 {
		r.log.Debug("Some messages were not marked as read",
			"reader_id", readerID,
			"requested", len(ids),
			"skipped", skipped)
	}

	affected, err := r.messages.LoadByIDs(ctx, lo.Map(updated, func(m domain.MessageRecord, _ int) domain.MessageID {
		return m.ID
	}))
	if err != nil {
		return fmt.Errorf("%w: reload messages: %v", errors.ErrStorageFailure, err)
	}
	if len(affected) == 0 {
		return nil
	}

	frame, err := event.Encode(event.ReadStateUpdated{
		Messages: lo.Map(affected, func(m domain.MessageRecord, _ int) event.ReadState {
			return event.ToReadState(m)
		}),
	})
	if err != nil {
		return err
	}

	parties := lo.Uniq(lo.FlatMap(affected, func(m domain.MessageRecord, _ int) []domain.UserID {
		return m.Parties()
	}))
	targets := lo.FlatMap(parties, func(u domain.UserID, _ int) []contract.Connection {
		return r.registry.ConnectionsFor(u)
	})
	delivered := r.fanout.deliver(ctx, event.MarkAsReadKind, frame, targets)
	r.log.Debug("Read state broadcast",
		"reader_id", readerID,
		"messages", len(affected),
		"parties", len(parties),
		"delivered", delivered)
	return nil
}
