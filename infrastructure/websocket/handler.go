package websocket

import (
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"chat-dispatch/observability"
	"chat-dispatch/services"
	"context"
	stderrors "errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	reasonInvalidSession = "invalid session"
	reasonSessionRevoked = "session revoked"
	reasonShutdown       = "server shutting down"
	reasonUnavailable    = "try again later"
)

// Handler upgrades the three connection endpoints and runs one read pump
// and one ping loop per connection. Frames are written by their senders.
type Handler struct {
	log      *slog.Logger
	service  services.IDispatcherService
	metrics  *observability.Metrics
	opts     Options
	upgrader websocket.Upgrader

	mu      sync.Mutex
	conns   map[domain.ConnectionID]*Connection
	closing bool
	// running counts upgraded sockets whose serve has not returned yet.
	running sync.WaitGroup
}

func NewHandler(log *slog.Logger, service services.IDispatcherService, metrics *observability.Metrics, opts Options) *Handler {
	return &Handler{
		log:     log,
		service: service,
		metrics: metrics,
		opts:    opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Clients are authenticated by their session token, not by origin.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[domain.ConnectionID]*Connection),
	}
}

func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/sessions/{token}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, domain.GlobalScope())
	})
	mux.HandleFunc("GET /ws/groups/{token}", func(w http.ResponseWriter, r *http.Request) {
		h.serve(w, r, domain.GroupScope())
	})
	mux.HandleFunc("GET /ws/chats/{token}/{peerID}", func(w http.ResponseWriter, r *http.Request) {
		peerID := domain.UserID(r.PathValue("peerID"))
		if peerID == "" {
			http.Error(w, "missing peer", http.StatusBadRequest)
			return
		}
		h.serve(w, r, domain.IndividualScope(peerID))
	})
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, scope domain.Scope) {
	token := domain.SessionToken(r.PathValue("token"))
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already answered the client.
		h.log.Debug("Upgrade failed", "error", err)
		return
	}
	if !h.enter() {
		h.closeGoingAway(ws)
		return
	}
	defer h.running.Done()
	ctx := r.Context()

	userID, err := h.service.Authenticate(ctx, token)
	if err != nil {
		h.reject(ws, token, err)
		return
	}
	conn := newConnection(ws, h.log, h.opts, userID, token, scope)
	if !h.track(conn) {
		_ = conn.CloseWith(websocket.CloseGoingAway, reasonShutdown)
		return
	}
	defer h.untrack(conn)

	if err := h.service.Connect(ctx, conn); err != nil {
		h.metrics.RejectedConnections.Inc()
		h.log.Info("Connection refused", "user_id", userID, "token", token.Redacted(), "error", err)
		code, reason := closeCodeFor(err)
		_ = conn.CloseWith(code, reason)
		return
	}
	defer func() {
		h.service.Disconnect(conn)
		_ = conn.Close()
	}()

	go conn.pingLoop()
	conn.readPump(func(raw []byte) {
		h.handleFrame(ctx, conn, raw)
	}, h.metrics.InvalidFrames.Inc)
}

func (h *Handler) handleFrame(ctx context.Context, conn *Connection, raw []byte) {
	cmd, err := event.Decode(raw)
	if err != nil {
		h.metrics.InvalidFrames.Inc()
		h.log.Debug("Invalid frame dropped", "connection_id", conn.ID(), "error", err)
		return
	}
	err = h.service.Handle(ctx, conn, cmd)
	switch {
	case err == nil:
	case stderrors.Is(err, errors.ErrInvalidSession):
		h.log.Info("Session no longer valid, closing", "connection_id", conn.ID(), "user_id", conn.UserID())
		_ = conn.CloseWith(websocket.ClosePolicyViolation, reasonSessionRevoked)
	case stderrors.Is(err, errors.ErrStorageFailure):
		h.log.Error("Command failed", "connection_id", conn.ID(), "type", cmd.Kind(), "error", err)
	default:
		h.log.Debug("Command skipped", "connection_id", conn.ID(), "type", cmd.Kind(), "error", err)
	}
}

// reject closes a socket whose token did not pass validation.
// It never enters the registry.
func (h *Handler) reject(ws *websocket.Conn, token domain.SessionToken, err error) {
	h.metrics.RejectedConnections.Inc()
	h.log.Info("Connection rejected", "token", token.Redacted(), "error", err)
	code, reason := closeCodeFor(err)
	deadline := time.Now().Add(h.opts.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// closeCodeFor tells a refused client whether retrying with the same token
// can help.
func closeCodeFor(err error) (int, string) {
	if stderrors.Is(err, errors.ErrStorageFailure) {
		return websocket.CloseInternalServerErr, reasonUnavailable
	}
	return websocket.ClosePolicyViolation, reasonInvalidSession
}

// enter and track refuse new sockets once CloseAll has run.
func (h *Handler) enter() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.running.Add(1)
	return true
}

func (h *Handler) track(conn *Connection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.conns[conn.ID()] = conn
	return true
}

func (h *Handler) untrack(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn.ID())
}

func (h *Handler) closeGoingAway(ws *websocket.Conn) {
	deadline := time.Now().Add(h.opts.WriteTimeout)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, reasonShutdown), deadline)
	_ = ws.Close()
}

// CloseAll tells every client the server is going away and stops accepting
// new ones. Hijacked sockets are not closed by http.Server.Shutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	h.closing = true
	conns := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseWith(websocket.CloseGoingAway, reasonShutdown)
	}
	h.log.Info("Closed open connections", "count", len(conns))
}

// Wait blocks until every connection finished its last frame and left the
// registry, or ctx is done. Call it after CloseAll and before the store is
// closed.
func (h *Handler) Wait(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		h.running.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
