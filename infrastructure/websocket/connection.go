package websocket

import (
	"chat-dispatch/domain"
	"chat-dispatch/errors"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

type Options struct {
	WriteTimeout    time.Duration
	PongTimeout     time.Duration
	MaxMessageSize  int64
	FramesPerSecond float64
	FramesBurst     int
}

// Connection wraps one gorilla socket.
//
// Send writes the frame itself, so a nil error means the frame reached the
// socket. Data writes are serialized by writeSlot, a one slot semaphore
// that lets a waiting Send give up with its context. Pings and close frames
// go through WriteControl, which gorilla allows concurrently with a writer.
type Connection struct {
	id     domain.ConnectionID
	userID domain.UserID
	token  domain.SessionToken
	scope  domain.Scope

	ws   *websocket.Conn
	log  *slog.Logger
	opts Options

	writeSlot chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(ws *websocket.Conn, log *slog.Logger, opts Options,
	userID domain.UserID, token domain.SessionToken, scope domain.Scope) *Connection {
	id := domain.ConnectionID(uuid.NewString())
	return &Connection{
		id:        id,
		userID:    userID,
		token:     token,
		scope:     scope,
		ws:        ws,
		log:       log.With("connection_id", id, "user_id", userID),
		opts:      opts,
		writeSlot: make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *Connection) ID() domain.ConnectionID    { return c.id }
func (c *Connection) UserID() domain.UserID      { return c.userID }
func (c *Connection) Token() domain.SessionToken { return c.token }
func (c *Connection) Scope() domain.Scope        { return c.scope }

// Send writes frame before returning. It fails when the connection is
// closed, when another write holds the socket until ctx is done, or when
// the write itself fails or misses its deadline. The deadline is the
// earliest of ctx's and WriteTimeout, a slow consumer being treated like a
// dead one.
func (c *Connection) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	select {
	case c.writeSlot <- struct{}{}:
	case <-c.done:
		return errors.ErrConnectionClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: socket busy: %v", errors.ErrDeliveryFailure, ctx.Err())
	}
	defer func() { <-c.writeSlot }()

	select {
	case <-c.done:
		return errors.ErrConnectionClosed
	default:
	}
	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.log.Debug("Write failed", "error", err)
		_ = c.Close()
		return fmt.Errorf("%w: %v", errors.ErrDeliveryFailure, err)
	}
	return nil
}

func (c *Connection) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// CloseWith sends a close frame with code and reason, then drops the socket.
// Only the first call has an effect.
func (c *Connection) CloseWith(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		deadline := time.Now().Add(c.opts.WriteTimeout)
		_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		err = c.ws.Close()
		c.log.Debug("Connection closed", "code", code, "reason", reason)
	})
	return err
}

// pingLoop keeps the peer's pong deadline moving until the connection closes.
func (c *Connection) pingLoop() {
	ticker := time.NewTicker(c.opts.PongTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.log.Debug("Ping failed", "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

// readPump hands every text frame to handle until the socket fails.
// Frames over the rate limit are dropped and reported to onDropped.
func (c *Connection) readPump(handle func(raw []byte), onDropped func()) {
	c.ws.SetReadLimit(c.opts.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})
	limiter := rate.NewLimiter(rate.Limit(c.opts.FramesPerSecond), c.opts.FramesBurst)

	for {
		messageType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("Connection lost", "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		if !limiter.Allow() {
			c.log.Debug("Frame dropped", "error", errors.ErrRateLimited)
			onDropped()
			continue
		}
		handle(raw)
	}
}
