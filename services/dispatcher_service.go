package services

import (
	"chat-dispatch/contract"
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"
)

type IDispatcherService interface {
	Authenticate(ctx context.Context, token domain.SessionToken) (domain.UserID, error)
	Connect(ctx context.Context, conn contract.Connection) error
	Disconnect(conn contract.Connection)
	Handle(ctx context.Context, conn contract.Connection, cmd event.Command) error
}

// DispatcherService is the entry point of every connection: it admits
// connections into the registry and turns their decoded commands into
// router operations.
type DispatcherService struct {
	log              *slog.Logger
	validator        contract.SessionValidator
	registry         contract.IRegistry
	router           contract.IRouter
	sessions         contract.SessionStore
	maxContentLength int
	sendTimeout      time.Duration
	// When set, the token is validated again before each command so that a
	// revoked session loses its open connections at their next frame.
	revalidate bool
}

func NewDispatcherService(
	log *slog.Logger,
	validator contract.SessionValidator,
	registry contract.IRegistry,
	router contract.IRouter,
	sessions contract.SessionStore,
	maxContentLength int,
	sendTimeout time.Duration,
	revalidate bool,
) *DispatcherService {
	return &DispatcherService{
		log:              log,
		validator:        validator,
		registry:         registry,
		router:           router,
		sessions:         sessions,
		maxContentLength: maxContentLength,
		sendTimeout:      sendTimeout,
		revalidate:       revalidate,
	}
}

func (s *DispatcherService) Authenticate(ctx context.Context, token domain.SessionToken) (domain.UserID, error) {
	userID, err := s.validator.Validate(ctx, token)
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidSession) || stderrors.Is(err, errors.ErrStorageFailure) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", errors.ErrInvalidSession, err)
	}
	return userID, nil
}

func (s *DispatcherService) Connect(ctx context.Context, conn contract.Connection) error {
	return s.registry.Register(ctx, conn.UserID(), conn)
}

func (s *DispatcherService) Disconnect(conn contract.Connection) {
	s.registry.Unregister(conn.UserID(), conn)
}

// Handle runs one inbound command on behalf of the connection's user.
// ErrInvalidSession means the connection must be closed, any other error
// only concerns this command. A session store failure during revalidation
// fails the command and keeps the connection.
func (s *DispatcherService) Handle(ctx context.Context, conn contract.Connection, cmd event.Command) error {
	if s.revalidate {
		userID, err := s.validator.Validate(ctx, conn.Token())
		if stderrors.Is(err, errors.ErrStorageFailure) {
			return err
		}
		if err != nil {
			return fmt.Errorf("%w: revalidation: %v", errors.ErrInvalidSession, err)
		}
		if userID != conn.UserID() {
			return fmt.Errorf("%w: token now belongs to another user", errors.ErrInvalidSession)
		}
	}

	switch c := cmd.(type) {
	case event.SendIndividualMessage:
		return s.sendIndividual(ctx, conn, c)
	case event.SendGroupMessage:
		if err := event.ValidateContent(c.Content, s.maxContentLength); err != nil {
			return err
		}
		_, err := s.router.SendGroupMessage(ctx, conn.UserID(), c.GroupID, c.Content)
		return err
	case event.MarkAsRead:
		return s.router.SyncReadReceipts(ctx, conn.UserID(), c.MessageIDs)
	case event.RequestForcedLogout:
		return s.forceLogout(ctx, conn, c.Token)
	default:
		return fmt.Errorf("%w: unsupported command %T", errors.ErrInvalidPayload, cmd)
	}
}

func (s *DispatcherService) sendIndividual(ctx context.Context, conn contract.Connection, c event.SendIndividualMessage) error {
	recipientID := c.RecipientID
	if recipientID == "" {
		recipientID = conn.Scope().Peer
	}
	if recipientID == "" {
		return fmt.Errorf("%w: no recipient", errors.ErrInvalidPayload)
	}
	if err := event.ValidateContent(c.Content, s.maxContentLength); err != nil {
		return err
	}
	_, err := s.router.RouteIndividual(ctx, conn.UserID(), recipientID, c.Content)
	return err
}

// forceLogout only lets a user log out their own sessions.
// The requester is told when it could not be done.
func (s *DispatcherService) forceLogout(ctx context.Context, conn contract.Connection, token domain.SessionToken) error {
	owner, err := s.sessions.Owner(ctx, token)
	if err == nil && owner != conn.UserID() {
		err = fmt.Errorf("%w: session belongs to another user", errors.ErrInvalidPayload)
	}
	if err == nil {
		err = s.router.ForceLogout(ctx, token)
	}
	if err == nil {
		return nil
	}

	s.log.Warn("Forced logout failed", "user_id", conn.UserID(), "token", token.Redacted(), "error", err)
	frame, encodeErr := event.Encode(event.ForcedLogoutFailed{Reason: reasonFor(err)})
	if encodeErr != nil {
		return encodeErr
	}
	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()
	if sendErr := conn.Send(sendCtx, frame); sendErr != nil {
		s.log.Debug("Could not report forced logout failure", "connection_id", conn.ID(), "error", sendErr)
	}
	return err
}

func reasonFor(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrEntityNotFound):
		return "unknown session"
	case stderrors.Is(err, errors.ErrInvalidPayload):
		return "not allowed"
	default:
		return "internal error"
	}
}
