package runtime

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(owners map[domain.SessionToken]domain.UserID) *Registry {
	return NewRegistry(logs.GetLoggerFromLevel(slog.LevelDebug), tokenValidator{owners: owners}, newTestMetrics())
}

func TestRegistry_Register_Several_Connections_Same_User(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := newTestRegistry(map[domain.SessionToken]domain.UserID{"tok-alice": "alice"})

	// Given alice is offline
	req.False(registry.IsOnline("alice"))

	// When she opens a global and an individual connection
	global := newFakeConnection("alice", "tok-alice", domain.GlobalScope())
	chat := newFakeConnection("alice", "tok-alice", domain.IndividualScope("bob"))
	req.NoError(registry.Register(ctx, "alice", global))
	req.NoError(registry.Register(ctx, "alice", chat))

	// Then both are delivery targets
	req.True(registry.IsOnline("alice"))
	req.ElementsMatch([]any{global, chat}, toAny(registry.ConnectionsFor("alice")))
	req.Equal(float64(2), testutil.ToFloat64(registry.metrics.ConnectionsOpen))

	users, conns := registry.Stats()
	req.Equal(1, users)
	req.Equal(2, conns)
}

func TestRegistry_Register_Invalid_Session(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := newTestRegistry(map[domain.SessionToken]domain.UserID{"tok-bob": "bob"})

	// When a connection carries an unknown token
	err := registry.Register(ctx, "alice", newFakeConnection("alice", "forged", domain.GlobalScope()))

	// Then it is rejected and alice stays offline
	req.ErrorIs(err, errors.ErrInvalidSession)
	req.False(registry.IsOnline("alice"))

	// When the token belongs to someone else
	err = registry.Register(ctx, "alice", newFakeConnection("alice", "tok-bob", domain.GlobalScope()))

	// Then it is rejected as well
	req.ErrorIs(err, errors.ErrInvalidSession)
	req.Empty(registry.ConnectionsFor("alice"))
}

func TestRegistry_Unregister_Last_Connection(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := newTestRegistry(map[domain.SessionToken]domain.UserID{"tok-alice": "alice"})
	first := newFakeConnection("alice", "tok-alice", domain.GlobalScope())
	second := newFakeConnection("alice", "tok-alice", domain.GroupScope())
	req.NoError(registry.Register(ctx, "alice", first))
	req.NoError(registry.Register(ctx, "alice", second))

	// When one connection goes away, alice is still online
	registry.Unregister("alice", first)
	req.True(registry.IsOnline("alice"))

	// When the last one goes away, twice
	registry.Unregister("alice", second)
	registry.Unregister("alice", second)

	// Then alice is offline and the gauge is back to zero
	req.False(registry.IsOnline("alice"))
	req.Empty(registry.ConnectionsFor("alice"))
	req.Equal(float64(0), testutil.ToFloat64(registry.metrics.ConnectionsOpen))
}

func TestRegistry_ConnectionsForToken(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	registry := newTestRegistry(map[domain.SessionToken]domain.UserID{
		"tok-phone":  "alice",
		"tok-laptop": "alice",
		"tok-bob":    "bob",
	})
	phone := newFakeConnection("alice", "tok-phone", domain.GlobalScope())
	phoneChat := newFakeConnection("alice", "tok-phone", domain.IndividualScope("bob"))
	laptop := newFakeConnection("alice", "tok-laptop", domain.GlobalScope())
	bob := newFakeConnection("bob", "tok-bob", domain.GlobalScope())
	for _, c := range []*fakeConnection{phone, phoneChat, laptop, bob} {
		req.NoError(registry.Register(ctx, c.UserID(), c))
	}

	// Then only the phone connections carry the phone token
	req.ElementsMatch([]any{phone, phoneChat}, toAny(registry.ConnectionsForToken("tok-phone")))
	req.Empty(registry.ConnectionsForToken("tok-unknown"))
}

// IsOnline must agree with ConnectionsFor after any interleaving of
// register and unregister calls.
func TestRegistry_Concurrent_Register_Unregister(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	owners := map[domain.SessionToken]domain.UserID{}
	users := []domain.UserID{"u0", "u1", "u2", "u3"}
	for _, u := range users {
		owners[domain.SessionToken("tok-"+u)] = u
	}
	registry := newTestRegistry(owners)

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := users[i%len(users)]
			conn := newFakeConnection(user, domain.SessionToken("tok-"+user), domain.GlobalScope())
			if err := registry.Register(ctx, user, conn); err != nil {
				panic(fmt.Sprintf("register %s: %v", user, err))
			}
			_ = registry.IsOnline(user)
			_ = registry.ConnectionsFor(user)
			if i%3 != 0 {
				registry.Unregister(user, conn)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for _, u := range users {
		conns := registry.ConnectionsFor(u)
		req.Equal(len(conns) > 0, registry.IsOnline(u), "user %s", u)
		total += len(conns)
	}
	// i%3 == 0 for 67 of the 200 goroutines
	req.Equal(67, total)
	req.Equal(float64(67), testutil.ToFloat64(registry.metrics.ConnectionsOpen))
}

func toAny[T any](values []T) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
