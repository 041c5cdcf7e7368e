package storage

import (
	"chat-dispatch/domain"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// GroupRepository stores memberships as "group:{gid}:member:{uid}" keys
// with the join time as value.
type GroupRepository struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewGroupRepository(db *badger.DB, log *slog.Logger) *GroupRepository {
	return &GroupRepository{db: db, log: log, now: time.Now}
}

func groupMembersPrefix(groupID domain.GroupID) []byte {
	return []byte(fmt.Sprintf("group:%s:member:", groupID))
}

func groupMemberKey(groupID domain.GroupID, userID domain.UserID) []byte {
	return append(groupMembersPrefix(groupID), userID...)
}

func (g *GroupRepository) AddMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.db.Update(func(txn *badger.Txn) error {
		return txn.Set(groupMemberKey(groupID, userID), []byte(formatTime(g.now())))
	})
}

func (g *GroupRepository) RemoveMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(groupMemberKey(groupID, userID))
	})
}

func (g *GroupRepository) IsMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	member := false
	err := g.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(groupMemberKey(groupID, userID))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		member = err == nil
		return err
	})
	return member, err
}

func (g *GroupRepository) MembersOf(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var members []domain.UserID
	err := g.db.View(func(txn *badger.Txn) error {
		members = membersOf(txn, groupID)
		return nil
	})
	return members, err
}

// ActiveMembersOf returns the members holding at least one usable session.
// Whether they are connected right now is the registry's business.
func (g *GroupRepository) ActiveMembersOf(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var active []domain.UserID
	err := g.db.View(func(txn *badger.Txn) error {
		now := g.now()
		for _, member := range membersOf(txn, groupID) {
			if hasActiveSession(txn, member, now) {
				active = append(active, member)
			}
		}
		return nil
	})
	return active, err
}

func membersOf(txn *badger.Txn, groupID domain.GroupID) []domain.UserID {
	prefix := groupMembersPrefix(groupID)
	options := badger.DefaultIteratorOptions
	options.PrefetchValues = false
	it := txn.NewIterator(options)
	defer it.Close()

	var members []domain.UserID
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		key := string(it.Item().Key())
		members = append(members, domain.UserID(strings.TrimPrefix(key, string(prefix))))
	}
	return members
}
