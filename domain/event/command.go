package event

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Command is a client to server frame.
// The set is closed: only this package can produce one.
type Command interface {
	Kind() Kind
	isCommand()
}

// SendIndividualMessage may omit RecipientID on an individual chat
// connection, the scoped peer is used instead.
type SendIndividualMessage struct {
	RecipientID domain.UserID `json:"recipientId"`
	Content     string        `json:"content" validate:"required"`
}

func (SendIndividualMessage) Kind() Kind { return NewIndividualMessageKind }
func (SendIndividualMessage) isCommand() {}

type SendGroupMessage struct {
	GroupID domain.GroupID `json:"groupId" validate:"required"`
	Content string         `json:"content" validate:"required"`
}

func (SendGroupMessage) Kind() Kind { return NewGroupMessageKind }
func (SendGroupMessage) isCommand() {}

type MarkAsRead struct {
	MessageIDs []domain.MessageID `json:"messageIds" validate:"required,min=1,max=500,dive,gt=0"`
}

func (MarkAsRead) Kind() Kind { return MarkAsReadKind }
func (MarkAsRead) isCommand() {}

// RequestForcedLogout asks the dispatcher to log out one of the
// requester's own sessions.
type RequestForcedLogout struct {
	Token domain.SessionToken `json:"token" validate:"required"`
}

func (RequestForcedLogout) Kind() Kind { return ForcedLogoutKind }
func (RequestForcedLogout) isCommand() {}

// Decode parses one text frame. Every failure wraps errors.ErrInvalidPayload.
func Decode(raw []byte) (Command, error) {
	var envelope Envelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope: %v", errors.ErrInvalidPayload, err)
	}
	if len(envelope.Data) == 0 {
		return nil, fmt.Errorf("%w: missing data for %q", errors.ErrInvalidPayload, envelope.Type)
	}

	var cmd Command
	var err error
	switch envelope.Type {
	case NewIndividualMessageKind:
		cmd, err = decodeInto[SendIndividualMessage](envelope.Data)
	case NewGroupMessageKind:
		cmd, err = decodeInto[SendGroupMessage](envelope.Data)
	case MarkAsReadKind:
		cmd, err = decodeInto[MarkAsRead](envelope.Data)
	case ForcedLogoutKind:
		cmd, err = decodeInto[RequestForcedLogout](envelope.Data)
	default:
		return nil, fmt.Errorf("%w: unsupported type %q", errors.ErrInvalidPayload, envelope.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errors.ErrInvalidPayload, envelope.Type, err)
	}
	return cmd, nil
}

func decodeInto[T Command](data json.RawMessage) (T, error) {
	var cmd T
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, err
	}
	if err := validate.Struct(cmd); err != nil {
		return cmd, err
	}
	return cmd, nil
}

// ValidateContent rejects blank content and content longer than maxLength runes.
func ValidateContent(content string, maxLength int) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty content", errors.ErrInvalidPayload)
	}
	if maxLength > 0 {
		if err := validate.Var(content, fmt.Sprintf("max=%d", maxLength)); err != nil {
			return fmt.Errorf("%w: content longer than %d", errors.ErrInvalidPayload, maxLength)
		}
	}
	return nil
}
