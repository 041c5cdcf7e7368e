package runtime

import (
	"chat-dispatch/contract"
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"chat-dispatch/observability"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
)

// userConnections is the set of open connections of one user.
// Once removed is set the entry is detached from the registry and must not
// receive new connections.
type userConnections struct {
	mu      sync.Mutex
	conns   map[domain.ConnectionID]contract.Connection
	removed bool
}

// Registry maps each online user to its open connections.
// Users live in a sync.Map and every user entry has its own mutex, so
// register, unregister and lookups on different users never contend.
type Registry struct {
	log       *slog.Logger
	validator contract.SessionValidator
	metrics   *observability.Metrics
	users     sync.Map // domain.UserID -> *userConnections
}

func NewRegistry(log *slog.Logger, validator contract.SessionValidator, metrics *observability.Metrics) *Registry {
	return &Registry{log: log, validator: validator, metrics: metrics}
}

// Register validates the connection's session and makes the connection a
// delivery target for userID. A token belonging to another user is rejected.
func (r *Registry) Register(ctx context.Context, userID domain.UserID, conn contract.Connection) error {
	owner, err := r.validator.Validate(ctx, conn.Token())
	if err != nil {
		if stderrors.Is(err, errors.ErrInvalidSession) || stderrors.Is(err, errors.ErrStorageFailure) {
			return err
		}
		return fmt.Errorf("%w: %v", errors.ErrInvalidSession, err)
	}
	if owner != userID {
		return fmt.Errorf("%w: token owned by another user", errors.ErrInvalidSession)
	}

	for {
		value, _ := r.users.LoadOrStore(userID, &userConnections{
			conns: make(map[domain.ConnectionID]contract.Connection),
		})
		entry := value.(*userConnections)
		entry.mu.Lock()
		if entry.removed {
			// Lost the race against the last Unregister of this user, retry on a fresh entry.
			entry.mu.Unlock()
			continue
		}
		_, exists := entry.conns[conn.ID()]
		entry.conns[conn.ID()] = conn
		entry.mu.Unlock()

		if !exists {
			r.metrics.ConnectionsOpen.Inc()
		}
		r.log.Debug("Connection registered",
			"user_id", userID,
			"connection_id", conn.ID(),
			"scope", conn.Scope().Kind)
		return nil
	}
}

// Unregister removes conn. The user entry goes away with its last connection.
// Unregistering an unknown connection is a no-op.
func (r *Registry) Unregister(userID domain.UserID, conn contract.Connection) {
	value, ok := r.users.Load(userID)
	if !ok {
		return
	}
	entry := value.(*userConnections)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if _, ok := entry.conns[conn.ID()]; !ok {
		return
	}
	delete(entry.conns, conn.ID())
	r.metrics.ConnectionsOpen.Dec()

	if len(entry.conns) == 0 {
		entry.removed = true
		r.users.CompareAndDelete(userID, entry)
	}
	r.log.Debug("Connection unregistered", "user_id", userID, "connection_id", conn.ID())
}

// ConnectionsFor returns a snapshot, safe to iterate while others register.
func (r *Registry) ConnectionsFor(userID domain.UserID) []contract.Connection {
	value, ok := r.users.Load(userID)
	if !ok {
		return nil
	}
	entry := value.(*userConnections)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	conns := make([]contract.Connection, 0, len(entry.conns))
	for _, c := range entry.conns {
		conns = append(conns, c)
	}
	return conns
}

// ConnectionsForToken scans every user. Only forced logout uses it.
func (r *Registry) ConnectionsForToken(token domain.SessionToken) []contract.Connection {
	var conns []contract.Connection
	r.users.Range(func(_, value any) bool {
		entry := value.(*userConnections)
		entry.mu.Lock()
		for _, c := range entry.conns {
			if c.Token() == token {
				conns = append(conns, c)
			}
		}
		entry.mu.Unlock()
		return true
	})
	return conns
}

func (r *Registry) IsOnline(userID domain.UserID) bool {
	value, ok := r.users.Load(userID)
	if !ok {
		return false
	}
	entry := value.(*userConnections)
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return !entry.removed && len(entry.conns) > 0
}

// Stats returns the number of online users and open connections.
func (r *Registry) Stats() (users int, connections int) {
	r.users.Range(func(_, value any) bool {
		entry := value.(*userConnections)
		entry.mu.Lock()
		if len(entry.conns) > 0 {
			users++
			connections += len(entry.conns)
		}
		entry.mu.Unlock()
		return true
	})
	return users, connections
}
