package auth

import (
	"chat-dispatch/domain"
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

type SessionWriter interface {
	Create(ctx context.Context, token domain.SessionToken, session domain.Session) error
}

type OpenSessionRequest struct {
	UserID   string        `validate:"required,max=128,excludesall=:/"`
	Duration time.Duration `validate:"gt=0"`
}

// Issuer opens sessions for users that already proved who they are.
// Credential checks happen upstream.
type Issuer struct {
	tokens   Tokens
	sessions SessionWriter
	now      func() time.Time
}

func NewIssuer(tokens Tokens, sessions SessionWriter) Issuer {
	return Issuer{tokens: tokens, sessions: sessions, now: time.Now}
}

func (i Issuer) Open(ctx context.Context, req OpenSessionRequest) (domain.SessionToken, domain.Session, error) {
	if err := validate.Struct(req); err != nil {
		return "", domain.Session{}, err
	}
	now := i.now().UTC()
	session := domain.Session{
		ID:        uuid.New(),
		UserID:    domain.UserID(req.UserID),
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(req.Duration),
	}
	signed, err := i.tokens.GenerateToken(req.UserID, session.ID.String(), now, req.Duration)
	if err != nil {
		return "", domain.Session{}, fmt.Errorf("sign token: %w", err)
	}
	token := domain.SessionToken(signed)
	if err := i.sessions.Create(ctx, token, session); err != nil {
		return "", domain.Session{}, err
	}
	return token, session, nil
}
