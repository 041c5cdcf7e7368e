package storage

import (
	"chat-dispatch/domain"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_ActiveMembersOf(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	db := openTestDB(t)
	groups := NewGroupRepository(db, testLogger())
	sessions := NewSessionRepository(db, testLogger())
	now := time.Now().UTC()

	// Given a group of four members, three with an active session
	for _, u := range []domain.UserID{"alice", "bob", "carol", "dave"} {
		req.NoError(groups.AddMember(ctx, "g1", u))
	}
	req.NoError(sessions.Create(ctx, "t-alice", newSession("alice", now, time.Hour)))
	req.NoError(sessions.Create(ctx, "t-bob", newSession("bob", now, time.Hour)))
	req.NoError(sessions.Create(ctx, "t-carol", newSession("carol", now, time.Hour)))
	req.NoError(sessions.Create(ctx, "t-dave", newSession("dave", now, time.Hour)))
	req.NoError(sessions.Deactivate(ctx, "t-dave"))

	// And a member of another group
	req.NoError(groups.AddMember(ctx, "g2", "erin"))
	req.NoError(sessions.Create(ctx, "t-erin", newSession("erin", now, time.Hour)))

	// When resolving the active members
	active, err := groups.ActiveMembersOf(ctx, "g1")

	// Then the inactive member is left out
	req.NoError(err)
	req.ElementsMatch([]domain.UserID{"alice", "bob", "carol"}, active)

	members, err := groups.MembersOf(ctx, "g1")
	req.NoError(err)
	req.Len(members, 4)
}

func Test_IsMember(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	groups := NewGroupRepository(openTestDB(t), testLogger())
	req.NoError(groups.AddMember(ctx, "g1", "alice"))

	member, err := groups.IsMember(ctx, "g1", "alice")
	req.NoError(err)
	req.True(member)

	member, err = groups.IsMember(ctx, "g1", "bob")
	req.NoError(err)
	req.False(member)

	req.NoError(groups.RemoveMember(ctx, "g1", "alice"))
	member, err = groups.IsMember(ctx, "g1", "alice")
	req.NoError(err)
	req.False(member)
}
