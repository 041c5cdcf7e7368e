//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"chat-dispatch/domain"
	"context"
	"reflect"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Connection is one live channel to one client instance.
// Send must not block longer than ctx allows; a failed Send means the
// connection is stale.
type Connection interface {
	ID() domain.ConnectionID
	UserID() domain.UserID
	Token() domain.SessionToken
	Scope() domain.Scope
	Send(ctx context.Context, frame []byte) error
	Close() error
}

type IRegistry interface {
	Register(ctx context.Context, userID domain.UserID, conn Connection) error
	Unregister(userID domain.UserID, conn Connection)
	ConnectionsFor(userID domain.UserID) []Connection
	ConnectionsForToken(token domain.SessionToken) []Connection
	IsOnline(userID domain.UserID) bool
}

type SessionValidator interface {
	Validate(ctx context.Context, token domain.SessionToken) (domain.UserID, error)
	IsActive(ctx context.Context, token domain.SessionToken) (bool, error)
}

type SessionStore interface {
	Owner(ctx context.Context, token domain.SessionToken) (domain.UserID, error)
	Deactivate(ctx context.Context, token domain.SessionToken) error
}

type MessageStore interface {
	SaveIndividualMessage(ctx context.Context, senderID, recipientID domain.UserID, content string) (domain.MessageRecord, error)
	SaveGroupMessage(ctx context.Context, senderID domain.UserID, groupID domain.GroupID, content string) (domain.MessageRecord, error)
	MarkRead(ctx context.Context, ids []domain.MessageID) ([]domain.MessageRecord, error)
	LoadByIDs(ctx context.Context, ids []domain.MessageID) ([]domain.MessageRecord, error)
}

type NotificationFallback interface {
	CreateIndividualMessageNotification(ctx context.Context, record domain.MessageRecord) error
}

type GroupMembershipResolver interface {
	ActiveMembersOf(ctx context.Context, groupID domain.GroupID) ([]domain.UserID, error)
	IsMember(ctx context.Context, groupID domain.GroupID, userID domain.UserID) (bool, error)
}

type UserDirectory interface {
	Exists(ctx context.Context, userID domain.UserID) (bool, error)
}

type IRouter interface {
	RouteIndividual(ctx context.Context, senderID, recipientID domain.UserID, content string) (domain.MessageRecord, error)
	SendGroupMessage(ctx context.Context, senderID domain.UserID, groupID domain.GroupID, content string) (domain.MessageRecord, error)
	RouteGroup(ctx context.Context, record domain.MessageRecord) (int, error)
	SyncReadReceipts(ctx context.Context, readerID domain.UserID, ids []domain.MessageID) error
	ForceLogout(ctx context.Context, token domain.SessionToken) error
}
