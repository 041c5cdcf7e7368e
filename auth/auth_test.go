package auth

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memorySessions is enough to exercise the issuer and the validator together.
type memorySessions struct {
	mu       sync.Mutex
	sessions map[domain.SessionToken]domain.Session
}

func newMemorySessions() *memorySessions {
	return &memorySessions{sessions: map[domain.SessionToken]domain.Session{}}
}

func (m *memorySessions) Create(_ context.Context, token domain.SessionToken, session domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[token] = session
	return nil
}

func (m *memorySessions) IsActive(_ context.Context, token domain.SessionToken) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[token]
	return ok && s.IsUsable(time.Now()), nil
}

func (m *memorySessions) deactivate(token domain.SessionToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.sessions[token]
	s.Active = false
	m.sessions[token] = s
}

func TestTokens_Generate_And_Validate(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("a-test-secret-that-is-long-enough")

	signed, err := tokens.GenerateToken("alice", "session-1", time.Now(), time.Hour)
	req.NoError(err)

	claims, err := tokens.ValidateToken(signed)
	req.NoError(err)
	req.Equal("alice", claims.UserID)
	req.Equal("session-1", claims.SessionID)
}

func TestTokens_Rejections(t *testing.T) {
	tokens := NewTokens("a-test-secret-that-is-long-enough")

	t.Run("should reject an expired token", func(t *testing.T) {
		req := require.New(t)
		signed, err := tokens.GenerateToken("alice", "s", time.Now().Add(-2*time.Hour), time.Hour)
		req.NoError(err)

		_, err = tokens.ValidateToken(signed)
		req.Error(err)
	})

	t.Run("should reject a token signed with another secret", func(t *testing.T) {
		req := require.New(t)
		signed, err := NewTokens("another-secret").GenerateToken("alice", "s", time.Now(), time.Hour)
		req.NoError(err)

		_, err = tokens.ValidateToken(signed)
		req.Error(err)
	})

	t.Run("should reject garbage", func(t *testing.T) {
		req := require.New(t)
		_, err := tokens.ValidateToken("not.a.jwt")
		req.Error(err)
	})
}

func TestSessionValidator(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	tokens := NewTokens("a-test-secret-that-is-long-enough")
	sessions := newMemorySessions()
	issuer := NewIssuer(tokens, sessions)
	validator := NewSessionValidator(tokens, sessions)

	// Given an open session for alice
	token, session, err := issuer.Open(ctx, OpenSessionRequest{UserID: "alice", Duration: time.Hour})
	req.NoError(err)
	req.True(session.Active)

	// Then the token identifies her
	userID, err := validator.Validate(ctx, token)
	req.NoError(err)
	req.Equal(domain.UserID("alice"), userID)

	// When the session is deactivated
	sessions.deactivate(token)

	// Then the still unexpired token is refused
	_, err = validator.Validate(ctx, token)
	req.ErrorIs(err, errors.ErrInvalidSession)

	// And a forged token is refused too
	_, err = validator.Validate(ctx, "forged")
	req.ErrorIs(err, errors.ErrInvalidSession)
}

type failingLookup struct{}

func (failingLookup) IsActive(context.Context, domain.SessionToken) (bool, error) {
	return false, stderrors.New("badger: transaction conflict")
}

func TestSessionValidator_Storage_Failure_Is_Not_An_Invalid_Session(t *testing.T) {
	req := require.New(t)
	tokens := NewTokens("a-test-secret-that-is-long-enough")
	validator := NewSessionValidator(tokens, failingLookup{})

	// Given a well signed token whose session cannot be looked up
	signed, err := tokens.GenerateToken("alice", "session-1", time.Now(), time.Hour)
	req.NoError(err)

	// When it is validated
	_, err = validator.Validate(context.Background(), domain.SessionToken(signed))

	// Then the failure is reported as a storage problem
	req.ErrorIs(err, errors.ErrStorageFailure)
	req.NotErrorIs(err, errors.ErrInvalidSession)
}

func TestIssuer_Validation(t *testing.T) {
	issuer := NewIssuer(NewTokens("secret"), newMemorySessions())
	tests := []struct {
		name    string
		req     OpenSessionRequest
		wantErr bool
	}{
		{"Valid request", OpenSessionRequest{"alice", time.Hour}, false},
		{"Missing user", OpenSessionRequest{"", time.Hour}, true},
		{"Separator in user id", OpenSessionRequest{"ali:ce", time.Hour}, true},
		{"Zero duration", OpenSessionRequest{"alice", 0}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			_, _, err := issuer.Open(context.Background(), tt.req)
			if tt.wantErr {
				req.Error(err)
			} else {
				req.NoError(err)
			}
		})
	}
}
