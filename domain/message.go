// Package domain contains core concepts of the dispatcher.
// This file defines persisted message records.
// Records are produced by the message store and never deleted by the dispatcher.
package domain

import (
	"time"

	"github.com/samber/lo"
)

type MessageKind string

const (
	IndividualMessage MessageKind = "INDIVIDUAL"
	GroupMessage      MessageKind = "GROUP"
)

// MessageRecord is the canonical persisted form of a message.
// ID and CreatedAt are assigned by the store before any fan-out.
type MessageRecord struct {
	ID          MessageID
	Kind        MessageKind
	SenderID    UserID
	RecipientID UserID  // individual only
	GroupID     GroupID // group only
	Content     string
	CreatedAt   time.Time
	Read        bool
	ReadAt      *time.Time
	ReadBy      []UserID // group only
}

// Parties returns the users whose devices must reconcile when the
// read state of this message changes.
func (m MessageRecord) Parties() []UserID {
	if m.Kind == GroupMessage {
		return lo.Uniq(append([]UserID{m.SenderID}, m.ReadBy...))
	}
	return lo.Uniq([]UserID{m.RecipientID, m.SenderID})
}
