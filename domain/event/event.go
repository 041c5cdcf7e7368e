// Package event defines the wire protocol spoken on every connection.
// Each frame is a JSON envelope {"type": <kind>, "data": <payload>}.
// Frames are decoded once, here, into a closed set of typed commands.
package event

import (
	"chat-dispatch/domain"
	"encoding/json"
	"time"
)

type Kind string

const (
	NewIndividualMessageKind Kind = "NEW_INDIVIDUAL_MESSAGE"
	NewGroupMessageKind      Kind = "NEW_GROUP_MESSAGE"
	MarkAsReadKind           Kind = "MARK_AS_READ"
	ForcedLogoutKind         Kind = "FORCED_LOGOUT"
	ForcedLogoutFailedKind   Kind = "FORCED_LOGOUT_FAILED"
)

type Envelope struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Event is a server to client frame.
type Event interface {
	Kind() Kind
}

type IndividualMessage struct {
	ID          domain.MessageID `json:"id"`
	SenderID    domain.UserID    `json:"senderId"`
	RecipientID domain.UserID    `json:"recipientId"`
	Content     string           `json:"content"`
	CreatedAt   time.Time        `json:"createdAt"`
	Read        bool             `json:"read"`
}

func (IndividualMessage) Kind() Kind { return NewIndividualMessageKind }

type GroupMessage struct {
	ID        domain.MessageID `json:"id"`
	GroupID   domain.GroupID   `json:"groupId"`
	SenderID  domain.UserID    `json:"senderId"`
	Content   string           `json:"content"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (GroupMessage) Kind() Kind { return NewGroupMessageKind }

type ReadState struct {
	ID          domain.MessageID `json:"id"`
	SenderID    domain.UserID    `json:"senderId"`
	RecipientID domain.UserID    `json:"recipientId"`
	Read        bool             `json:"read"`
	ReadAt      *time.Time       `json:"readAt,omitempty"`
}

// ReadStateUpdated is broadcast once per read-receipt operation.
type ReadStateUpdated struct {
	Messages []ReadState `json:"messages"`
}

func (ReadStateUpdated) Kind() Kind { return MarkAsReadKind }

type ForcedLogout struct {
	Reason string `json:"reason"`
}

func (ForcedLogout) Kind() Kind { return ForcedLogoutKind }

type ForcedLogoutFailed struct {
	Reason string `json:"reason"`
}

func (ForcedLogoutFailed) Kind() Kind { return ForcedLogoutFailedKind }

func FromIndividualRecord(r domain.MessageRecord) IndividualMessage {
	return IndividualMessage{
		ID:          r.ID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Content:     r.Content,
		CreatedAt:   r.CreatedAt,
		Read:        r.Read,
	}
}

func FromGroupRecord(r domain.MessageRecord) GroupMessage {
	return GroupMessage{
		ID:        r.ID,
		GroupID:   r.GroupID,
		SenderID:  r.SenderID,
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
	}
}

func ToReadState(r domain.MessageRecord) ReadState {
	return ReadState{
		ID:          r.ID,
		SenderID:    r.SenderID,
		RecipientID: r.RecipientID,
		Read:        r.Read,
		ReadAt:      r.ReadAt,
	}
}

// Encode renders an event as a complete text frame.
// Fan-out encodes once and hands the same bytes to every connection.
func Encode(e Event) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: e.Kind(), Data: data})
}
