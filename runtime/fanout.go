package runtime

import (
	"chat-dispatch/contract"
	"chat-dispatch/domain/event"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// fanout hands one encoded frame to many connections.
//
// Each connection gets its own goroutine and its own send deadline, so a
// slow connection cannot delay the others. A failed send unregisters and
// closes the connection; the failure is never returned to the caller.
type fanout struct {
	log         *slog.Logger
	registry    contract.IRegistry
	onDelivered func(kind event.Kind)
	onFailed    func()
	sendTimeout time.Duration
}

// deliver returns the number of connections that accepted the frame.
func (f fanout) deliver(ctx context.Context, kind event.Kind, frame []byte, conns []contract.Connection) int {
	if len(conns) == 0 {
		return 0
	}
	var delivered atomic.Int64
	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(conn contract.Connection) {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, f.sendTimeout)
			defer cancel()

			if err := conn.Send(sendCtx, frame); err != nil {
				f.log.Warn("Dropping stale connection",
					"user_id", conn.UserID(),
					"connection_id", conn.ID(),
					"type", kind,
					"error", err)
				f.registry.Unregister(conn.UserID(), conn)
				_ = conn.Close()
				f.onFailed()
				return
			}
			delivered.Add(1)
			f.onDelivered(kind)
		}(conn)
	}
	wg.Wait()
	return int(delivered.Load())
}
