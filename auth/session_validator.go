package auth

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	"fmt"
)

type SessionLookup interface {
	IsActive(ctx context.Context, token domain.SessionToken) (bool, error)
}

// SessionValidator accepts a token only when its signature holds and its
// session record is still active, so a deactivated session is refused even
// before the JWT expires. A failing session lookup is ErrStorageFailure,
// never ErrInvalidSession.
type SessionValidator struct {
	tokens   Tokens
	sessions SessionLookup
}

func NewSessionValidator(tokens Tokens, sessions SessionLookup) SessionValidator {
	return SessionValidator{tokens: tokens, sessions: sessions}
}

func (v SessionValidator) Validate(ctx context.Context, token domain.SessionToken) (domain.UserID, error) {
	claims, err := v.tokens.ValidateToken(string(token))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidSession, err)
	}
	active, err := v.IsActive(ctx, token)
	if err != nil {
		return "", fmt.Errorf("%w: session lookup: %v", errors.ErrStorageFailure, err)
	}
	if !active {
		return "", fmt.Errorf("%w: session is not active", errors.ErrInvalidSession)
	}
	return domain.UserID(claims.UserID), nil
}

func (v SessionValidator) IsActive(ctx context.Context, token domain.SessionToken) (bool, error) {
	return v.sessions.IsActive(ctx, token)
}
