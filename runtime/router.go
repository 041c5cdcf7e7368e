// Package runtime holds the live side of the dispatcher: the connection
// registry and the router that turns events into deliveries.
// It orchestrates delivery without owning persistence or protocol parsing.
package runtime

import (
	"chat-dispatch/contract"
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"chat-dispatch/observability"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

type Router struct {
	log           *slog.Logger
	registry      contract.IRegistry
	messages      contract.MessageStore
	notifications contract.NotificationFallback
	groups        contract.GroupMembershipResolver
	sessions      contract.SessionStore
	users         contract.UserDirectory
	metrics       *observability.Metrics
	fanout        fanout
}

func NewRouter(log *slog.Logger, registry contract.IRegistry,
	messages contract.MessageStore, notifications contract.NotificationFallback,
	groups contract.GroupMembershipResolver, sessions contract.SessionStore,
	users contract.UserDirectory, metrics *observability.Metrics,
	sendTimeout time.Duration) *Router {
	return &Router{
		log:           log,
		registry:      registry,
		messages:      messages,
		notifications: notifications,
		groups:        groups,
		sessions:      sessions,
		users:         users,
		metrics:       metrics,
		fanout: fanout{
			log:         log,
			registry:    registry,
			sendTimeout: sendTimeout,
			onDelivered: func(kind event.Kind) {
				metrics.LiveDeliveries.WithLabelValues(string(kind)).Inc()
			},
			onFailed: metrics.DeliveryFailures.Inc,
		},
	}
}

// RouteIndividual persists a one-to-one message, then delivers it.
//
// The recipient only receives it on connections opened to chat with the
// sender. With no such connection accepting the frame, exactly one
// notification is persisted instead. Every connection of the sender gets
// the same frame as an echo, whatever happened to the recipient.
func (r *Router) RouteIndividual(ctx context.Context, senderID, recipientID domain.UserID, content string) (domain.MessageRecord, error) {
	if err := r.checkIndividualPayload(ctx, senderID, recipientID, content); err != nil {
		return domain.MessageRecord{}, err
	}

	record, err := r.messages.SaveIndividualMessage(ctx, senderID, recipientID, content)
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("%w: save individual message: %v", errors.ErrStorageFailure, err)
	}

	frame, err := event.Encode(event.FromIndividualRecord(record))
	if err != nil {
		return record, err
	}

	scoped := lo.Filter(r.registry.ConnectionsFor(recipientID), func(c contract.Connection, _ int) bool {
		return c.Scope().IsScopedTo(senderID)
	})
	delivered := r.fanout.deliver(ctx, event.NewIndividualMessageKind, frame, scoped)

	var fallbackErr error
	if delivered == 0 {
		r.log.Debug("Recipient offline, persisting notification",
			"message_id", record.ID,
			"recipient_id", recipientID,
			"scoped_connections", len(scoped))
		if err := r.notifications.CreateIndividualMessageNotification(ctx, record); err != nil {
			r.log.Error("Notification fallback failed", "message_id", record.ID, "error", err)
			fallbackErr = fmt.Errorf("%w: notification fallback: %v", errors.ErrStorageFailure, err)
		} else {
			r.metrics.FallbackNotifications.Inc()
		}
	}

	echoed := r.fanout.deliver(ctx, event.NewIndividualMessageKind, frame, r.registry.ConnectionsFor(senderID))
	r.log.Debug("Individual message routed",
		"message_id", record.ID,
		"sender_id", senderID,
		"recipient_id", recipientID,
		"delivered", delivered,
		"echoed", echoed)
	return record, fallbackErr
}

func (r *Router) checkIndividualPayload(ctx context.Context, senderID, recipientID domain.UserID, content string) error {
	if senderID == "" || recipientID == "" {
		return fmt.Errorf("%w: sender and recipient are required", errors.ErrInvalidPayload)
	}
	if senderID == recipientID {
		return fmt.Errorf("%w: sender and recipient must differ", errors.ErrInvalidPayload)
	}
	if err := event.ValidateContent(content, 0); err != nil {
		return err
	}
	for _, id := range []domain.UserID{senderID, recipientID} {
		known, err := r.users.Exists(ctx, id)
		if err != nil {
			return fmt.Errorf("%w: user lookup: %v", errors.ErrStorageFailure, err)
		}
		if !known {
			return fmt.Errorf("%w: unknown user %s", errors.ErrInvalidPayload, id)
		}
	}
	return nil
}
