package storage

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func newSession(userID domain.UserID, now time.Time, ttl time.Duration) domain.Session {
	return domain.Session{
		ID:        uuid.New(),
		UserID:    userID,
		Active:    true,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func Test_Session_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	sessions := NewSessionRepository(openTestDB(t), testLogger())
	now := time.Now().UTC()
	session := newSession("alice", now, time.Hour)

	// Given an active session
	req.NoError(sessions.Create(ctx, "token-alice", session))

	active, err := sessions.IsActive(ctx, "token-alice")
	req.NoError(err)
	req.True(active)

	owner, err := sessions.Owner(ctx, "token-alice")
	req.NoError(err)
	req.Equal(domain.UserID("alice"), owner)

	hasSession, err := sessions.HasActiveSession("alice")
	req.NoError(err)
	req.True(hasSession)

	// When it is deactivated, twice
	req.NoError(sessions.Deactivate(ctx, "token-alice"))
	req.NoError(sessions.Deactivate(ctx, "token-alice"))

	// Then it is no longer usable
	active, err = sessions.IsActive(ctx, "token-alice")
	req.NoError(err)
	req.False(active)

	stored, err := sessions.Get(ctx, "token-alice")
	req.NoError(err)
	req.False(stored.Active)
	req.NotNil(stored.DeactivatedAt)

	hasSession, err = sessions.HasActiveSession("alice")
	req.NoError(err)
	req.False(hasSession)
}

func Test_Session_Unknown_Token(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	sessions := NewSessionRepository(openTestDB(t), testLogger())

	active, err := sessions.IsActive(ctx, "nope")
	req.NoError(err)
	req.False(active)

	_, err = sessions.Owner(ctx, "nope")
	req.ErrorIs(err, errors.ErrEntityNotFound)

	err = sessions.Deactivate(ctx, "nope")
	req.ErrorIs(err, errors.ErrEntityNotFound)
}

func Test_Session_Expired(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	sessions := NewSessionRepository(openTestDB(t), testLogger())
	clock := &fixedClock{at: time.Now().UTC()}
	sessions.now = clock.Now
	req.NoError(sessions.Create(ctx, "token-bob", newSession("bob", clock.at, time.Hour)))

	// When two hours pass
	clock.at = clock.at.Add(2 * time.Hour)

	// Then the session is no longer active
	active, err := sessions.IsActive(ctx, "token-bob")
	req.NoError(err)
	req.False(active)

	hasSession, err := sessions.HasActiveSession("bob")
	req.NoError(err)
	req.False(hasSession)
}
