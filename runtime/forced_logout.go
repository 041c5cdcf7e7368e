package runtime

import (
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"context"
	stderrors "errors"
	"fmt"
)

const forcedLogoutReason = "session terminated"

// ForceLogout pushes a logout command to the live connections of token.
// When none accepts it, the session is marked inactive instead. It fails
// only when neither path succeeded.
//
// After a successful push the connections of token are closed and the
// session is deactivated as well, so a client ignoring the command cannot
// keep using it.
func (r *Router) ForceLogout(ctx context.Context, token domain.SessionToken) error {
	conns := r.registry.ConnectionsForToken(token)
	if len(conns) > 0 {
		frame, err := event.Encode(event.ForcedLogout{Reason: forcedLogoutReason})
		if err != nil {
			return err
		}
		if delivered := r.fanout.deliver(ctx, event.ForcedLogoutKind, frame, conns); delivered > 0 {
			for _, c := range conns {
				r.registry.Unregister(c.UserID(), c)
				_ = c.Close()
			}
			if err := r.sessions.Deactivate(ctx, token); err != nil {
				r.log.Error("Session still active after live logout", "token", token.Redacted(), "error", err)
			}
			r.metrics.ForcedLogouts.WithLabelValues("live").Inc()
			r.log.Info("Forced logout pushed", "token", token.Redacted(), "connections", delivered)
			return nil
		}
	}

	if err := r.sessions.Deactivate(ctx, token); err != nil {
		r.metrics.ForcedLogouts.WithLabelValues("failed").Inc()
		if stderrors.Is(err, errors.ErrEntityNotFound) {
			return fmt.Errorf("forced logout of %s: %w", token.Redacted(), err)
		}
		return fmt.Errorf("%w: deactivate session: %v", errors.ErrStorageFailure, err)
	}
	r.metrics.ForcedLogouts.WithLabelValues("deactivated").Inc()
	r.log.Info("Forced logout applied offline", "token", token.Redacted())
	return nil
}
