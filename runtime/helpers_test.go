package runtime

import (
	"chat-dispatch/domain"
	"chat-dispatch/observability"
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeConnection records every frame it accepts.
// With fail set, every Send returns an error as a dead socket would.
type fakeConnection struct {
	id     domain.ConnectionID
	userID domain.UserID
	token  domain.SessionToken
	scope  domain.Scope
	fail   bool

	mu     sync.Mutex
	frames [][]byte
	closed atomic.Bool
}

func newFakeConnection(userID domain.UserID, token domain.SessionToken, scope domain.Scope) *fakeConnection {
	return &fakeConnection{
		id:     domain.ConnectionID(uuid.NewString()),
		userID: userID,
		token:  token,
		scope:  scope,
	}
}

func (c *fakeConnection) ID() domain.ConnectionID    { return c.id }
func (c *fakeConnection) UserID() domain.UserID      { return c.userID }
func (c *fakeConnection) Token() domain.SessionToken { return c.token }
func (c *fakeConnection) Scope() domain.Scope        { return c.scope }

func (c *fakeConnection) Send(ctx context.Context, frame []byte) error {
	if c.fail {
		return fmt.Errorf("broken pipe")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
	return nil
}

func (c *fakeConnection) Close() error {
	c.closed.Store(true)
	return nil
}

func (c *fakeConnection) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

// tokenValidator accepts every token listed in owners.
type tokenValidator struct {
	owners map[domain.SessionToken]domain.UserID
}

func (v tokenValidator) Validate(_ context.Context, token domain.SessionToken) (domain.UserID, error) {
	owner, ok := v.owners[token]
	if !ok {
		return "", fmt.Errorf("unknown token")
	}
	return owner, nil
}

func (v tokenValidator) IsActive(_ context.Context, token domain.SessionToken) (bool, error) {
	_, ok := v.owners[token]
	return ok, nil
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics(prometheus.NewRegistry())
}
