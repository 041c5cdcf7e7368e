package services

import (
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"chat-dispatch/mocks"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type serviceFixture struct {
	validator *mocks.MockSessionValidator
	registry  *mocks.MockIRegistry
	router    *mocks.MockIRouter
	sessions  *mocks.MockSessionStore
	conn      *mocks.MockConnection
	service   *DispatcherService
}

func newServiceFixture(t *testing.T, revalidate bool) serviceFixture {
	ctrl := gomock.NewController(t)
	f := serviceFixture{
		validator: mocks.NewMockSessionValidator(ctrl),
		registry:  mocks.NewMockIRegistry(ctrl),
		router:    mocks.NewMockIRouter(ctrl),
		sessions:  mocks.NewMockSessionStore(ctrl),
		conn:      mocks.NewMockConnection(ctrl),
	}
	f.service = NewDispatcherService(logs.GetLoggerFromLevel(slog.LevelDebug),
		f.validator, f.registry, f.router, f.sessions, 20, time.Second, revalidate)
	f.conn.EXPECT().UserID().Return(domain.UserID("alice")).AnyTimes()
	f.conn.EXPECT().Token().Return(domain.SessionToken("tok-alice")).AnyTimes()
	f.conn.EXPECT().ID().Return(domain.ConnectionID("c1")).AnyTimes()
	return f
}

func TestDispatcherService_Authenticate(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture(t, false)
	ctx := context.Background()

	f.validator.EXPECT().Validate(gomock.Any(), domain.SessionToken("good")).Return(domain.UserID("alice"), nil)
	f.validator.EXPECT().Validate(gomock.Any(), domain.SessionToken("bad")).Return(domain.UserID(""), errors.ErrEntityNotFound)

	userID, err := f.service.Authenticate(ctx, "good")
	req.NoError(err)
	req.Equal(domain.UserID("alice"), userID)

	_, err = f.service.Authenticate(ctx, "bad")
	req.ErrorIs(err, errors.ErrInvalidSession)
}

func TestDispatcherService_Connect_Disconnect(t *testing.T) {
	req := require.New(t)
	f := newServiceFixture(t, false)

	f.registry.EXPECT().Register(gomock.Any(), domain.UserID("alice"), f.conn).Return(nil)
	f.registry.EXPECT().Unregister(domain.UserID("alice"), f.conn).Times(1)

	req.NoError(f.service.Connect(context.Background(), f.conn))
	f.service.Disconnect(f.conn)
}

func TestDispatcherService_Handle_Individual(t *testing.T) {
	ctx := context.Background()

	t.Run("should default the recipient to the scoped peer", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.conn.EXPECT().Scope().Return(domain.IndividualScope("bob")).AnyTimes()
		f.router.EXPECT().RouteIndividual(gomock.Any(), domain.UserID("alice"), domain.UserID("bob"), "hi").
			Return(domain.MessageRecord{ID: 1}, nil)

		err := f.service.Handle(ctx, f.conn, event.SendIndividualMessage{Content: "hi"})

		req.NoError(err)
	})

	t.Run("should reject a message without recipient on a global connection", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.conn.EXPECT().Scope().Return(domain.GlobalScope()).AnyTimes()
		f.router.EXPECT().RouteIndividual(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		err := f.service.Handle(ctx, f.conn, event.SendIndividualMessage{Content: "hi"})

		req.ErrorIs(err, errors.ErrInvalidPayload)
	})

	t.Run("should reject content over the limit", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.conn.EXPECT().Scope().Return(domain.IndividualScope("bob")).AnyTimes()
		f.router.EXPECT().RouteIndividual(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		err := f.service.Handle(ctx, f.conn, event.SendIndividualMessage{Content: "this content is definitely too long"})

		req.ErrorIs(err, errors.ErrInvalidPayload)
	})
}

func TestDispatcherService_Handle_Revalidation(t *testing.T) {
	ctx := context.Background()

	t.Run("should refuse a command once the session is revoked", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, true)
		f.validator.EXPECT().Validate(gomock.Any(), domain.SessionToken("tok-alice")).
			Return(domain.UserID(""), errors.ErrInvalidSession)
		f.router.EXPECT().SyncReadReceipts(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		err := f.service.Handle(ctx, f.conn, event.MarkAsRead{MessageIDs: []domain.MessageID{1}})

		req.ErrorIs(err, errors.ErrInvalidSession)
	})

	t.Run("should keep the connection when the session store fails", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, true)
		f.validator.EXPECT().Validate(gomock.Any(), domain.SessionToken("tok-alice")).
			Return(domain.UserID(""), fmt.Errorf("%w: session lookup: disk full", errors.ErrStorageFailure))
		f.router.EXPECT().SyncReadReceipts(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		err := f.service.Handle(ctx, f.conn, event.MarkAsRead{MessageIDs: []domain.MessageID{1}})

		req.ErrorIs(err, errors.ErrStorageFailure)
		req.NotErrorIs(err, errors.ErrInvalidSession)
	})

	t.Run("should run the command while the session is valid", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, true)
		f.validator.EXPECT().Validate(gomock.Any(), domain.SessionToken("tok-alice")).Return(domain.UserID("alice"), nil)
		f.router.EXPECT().SyncReadReceipts(gomock.Any(), domain.UserID("alice"), []domain.MessageID{1, 2}).Return(nil)

		err := f.service.Handle(ctx, f.conn, event.MarkAsRead{MessageIDs: []domain.MessageID{1, 2}})

		req.NoError(err)
	})

	t.Run("should skip validation when disabled", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.validator.EXPECT().Validate(gomock.Any(), gomock.Any()).Times(0)
		f.router.EXPECT().SendGroupMessage(gomock.Any(), domain.UserID("alice"), domain.GroupID("g1"), "hey").
			Return(domain.MessageRecord{ID: 3}, nil)

		err := f.service.Handle(ctx, f.conn, event.SendGroupMessage{GroupID: "g1", Content: "hey"})

		req.NoError(err)
	})
}

func TestDispatcherService_Handle_ForcedLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("should log out one of the requester's sessions", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.sessions.EXPECT().Owner(gomock.Any(), domain.SessionToken("tok-phone")).Return(domain.UserID("alice"), nil)
		f.router.EXPECT().ForceLogout(gomock.Any(), domain.SessionToken("tok-phone")).Return(nil)
		f.conn.EXPECT().Send(gomock.Any(), gomock.Any()).Times(0)

		req.NoError(f.service.Handle(ctx, f.conn, event.RequestForcedLogout{Token: "tok-phone"}))
	})

	t.Run("should refuse someone else's session and tell the requester", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.sessions.EXPECT().Owner(gomock.Any(), domain.SessionToken("tok-bob")).Return(domain.UserID("bob"), nil)
		f.router.EXPECT().ForceLogout(gomock.Any(), gomock.Any()).Times(0)

		var sent []byte
		f.conn.EXPECT().Send(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, frame []byte) error {
			sent = frame
			return nil
		})

		err := f.service.Handle(ctx, f.conn, event.RequestForcedLogout{Token: "tok-bob"})

		req.ErrorIs(err, errors.ErrInvalidPayload)
		var envelope event.Envelope
		req.NoError(json.Unmarshal(sent, &envelope))
		req.Equal(event.ForcedLogoutFailedKind, envelope.Type)
	})

	t.Run("should report a failed logout", func(t *testing.T) {
		req := require.New(t)
		f := newServiceFixture(t, false)
		f.sessions.EXPECT().Owner(gomock.Any(), domain.SessionToken("tok-phone")).Return(domain.UserID("alice"), nil)
		f.router.EXPECT().ForceLogout(gomock.Any(), domain.SessionToken("tok-phone")).Return(errors.ErrStorageFailure)
		f.conn.EXPECT().Send(gomock.Any(), gomock.Any()).Return(nil).Times(1)

		err := f.service.Handle(ctx, f.conn, event.RequestForcedLogout{Token: "tok-phone"})

		req.ErrorIs(err, errors.ErrStorageFailure)
	})
}
