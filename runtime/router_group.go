package runtime

import (
	"chat-dispatch/contract"
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"context"
	"fmt"
)

// SendGroupMessage persists a message posted by a member, then routes it.
func (r *Router) SendGroupMessage(ctx context.Context, senderID domain.UserID, groupID domain.GroupID, content string) (domain.MessageRecord, error) {
	if groupID == "" {
		return domain.MessageRecord{}, fmt.Errorf("%w: group is required", errors.ErrInvalidPayload)
	}
	if err := event.ValidateContent(content, 0); err != nil {
		return domain.MessageRecord{}, err
	}
	member, err := r.groups.IsMember(ctx, groupID, senderID)
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("%w: membership lookup: %v", errors.ErrStorageFailure, err)
	}
	if !member {
		return domain.MessageRecord{}, fmt.Errorf("%w: %s is not a member of %s", errors.ErrInvalidPayload, senderID, groupID)
	}

	record, err := r.messages.SaveGroupMessage(ctx, senderID, groupID, content)
	if err != nil {
		return domain.MessageRecord{}, fmt.Errorf("%w: save group message: %v", errors.ErrStorageFailure, err)
	}
	if _, err := r.RouteGroup(ctx, record); err != nil {
		return record, err
	}
	return record, nil
}

// RouteGroup delivers an already persisted group message to the group
// connections of every member holding an active session.
//
// Delivery is independent per connection and partial delivery is normal.
// Offline members get nothing: group history is pollable, so there is no
// notification fallback here.
func (r *Router) RouteGroup(ctx context.Context, record domain.MessageRecord) (int, error) {
	if record.Kind != domain.GroupMessage || record.GroupID == "" {
		return 0, fmt.Errorf("%w: not a group message", errors.ErrInvalidPayload)
	}
	members, err := r.groups.ActiveMembersOf(ctx, record.GroupID)
	if err != nil {
		return 0, fmt.Errorf("%w: resolve members of %s: %v", errors.ErrStorageFailure, record.GroupID, err)
	}

	var targets []contract.Connection
	for _, member := range members {
		for _, c := range r.registry.ConnectionsFor(member) {
			if c.Scope().Kind == domain.ScopeGroup {
				targets = append(targets, c)
			}
		}
	}

	frame, err := event.Encode(event.FromGroupRecord(record))
	if err != nil {
		return 0, err
	}
	delivered := r.fanout.deliver(ctx, event.NewGroupMessageKind, frame, targets)
	r.log.Debug("Group message routed",
		"message_id", record.ID,
		"group_id", record.GroupID,
		"active_members", len(members),
		"delivered", delivered)
	return delivered, nil
}
