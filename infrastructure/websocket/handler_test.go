package websocket

import (
	"chat-dispatch/auth"
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"chat-dispatch/errors"
	"chat-dispatch/infrastructure/storage"
	"chat-dispatch/observability"
	"chat-dispatch/runtime"
	"chat-dispatch/services"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	url           string
	handler       *Handler
	registry      *runtime.Registry
	issuer        auth.Issuer
	notifications *storage.NotificationRepository
	metrics       *observability.Metrics
}

func newTestServer(t *testing.T) testServer {
	req := require.New(t)
	ctx := context.Background()
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions(t.TempDir()).WithLogger(nil))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	messages, err := storage.NewMessageRepository(db, log)
	req.NoError(err)
	t.Cleanup(func() { _ = messages.Close() })
	notifications := storage.NewNotificationRepository(db, log)
	sessions := storage.NewSessionRepository(db, log)
	groups := storage.NewGroupRepository(db, log)
	users := storage.NewUserRepository(db)
	for _, u := range []domain.UserID{"alice", "bob"} {
		_, err := users.CreateUser(ctx, u, strings.ToUpper(string(u)))
		req.NoError(err)
	}

	tokens := auth.NewTokens("handler-test-secret")
	validator := auth.NewSessionValidator(tokens, sessions)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	registry := runtime.NewRegistry(log, validator, metrics)
	router := runtime.NewRouter(log, registry, messages, notifications, groups, sessions, users, metrics, time.Second)
	service := services.NewDispatcherService(log, validator, registry, router, sessions, 1000, time.Second, true)

	handler := NewHandler(log, service, metrics, Options{
		WriteTimeout:    time.Second,
		PongTimeout:     5 * time.Second,
		MaxMessageSize:  4096,
		FramesPerSecond: 100,
		FramesBurst:     100,
	})
	mux := http.NewServeMux()
	handler.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		handler.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = handler.Wait(ctx)
		srv.Close()
	})

	return testServer{
		url:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		handler:       handler,
		registry:      registry,
		issuer:        auth.NewIssuer(tokens, sessions),
		notifications: notifications,
		metrics:       metrics,
	}
}

func (s testServer) open(t *testing.T, userID domain.UserID) domain.SessionToken {
	token, _, err := s.issuer.Open(context.Background(), auth.OpenSessionRequest{UserID: string(userID), Duration: time.Hour})
	require.NoError(t, err)
	return token
}

func (s testServer) dial(t *testing.T, path string) *websocket.Conn {
	ws, _, err := websocket.DefaultDialer.Dial(s.url+path, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (s testServer) waitConnections(t *testing.T, userID domain.UserID, n int) {
	require.Eventually(t, func() bool {
		return len(s.registry.ConnectionsFor(userID)) == n
	}, 2*time.Second, 10*time.Millisecond)
}

func sendCommand(t *testing.T, ws *websocket.Conn, kind event.Kind, data any) {
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	frame, err := json.Marshal(event.Envelope{Type: kind, Data: payload})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func readEvent(t *testing.T, ws *websocket.Conn, data any) event.Kind {
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := ws.ReadMessage()
	require.NoError(t, err)
	var envelope event.Envelope
	require.NoError(t, json.Unmarshal(raw, &envelope))
	require.NoError(t, json.Unmarshal(envelope.Data, data))
	return envelope.Type
}

func TestHandler_Rejects_Invalid_Session(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// When connecting with a forged token
	ws := s.dial(t, "/ws/sessions/forged-token")

	// Then the server closes with a policy violation
	req.NoError(ws.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := ws.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
	req.False(s.registry.IsOnline("alice"))
	req.Equal(float64(1), testutil.ToFloat64(s.metrics.RejectedConnections))
}

func TestHandler_Individual_Chat(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given alice and bob chatting with each other
	alice := s.dial(t, "/ws/chats/"+string(s.open(t, "alice"))+"/bob")
	bob := s.dial(t, "/ws/chats/"+string(s.open(t, "bob"))+"/alice")
	s.waitConnections(t, "alice", 1)
	s.waitConnections(t, "bob", 1)

	// When alice sends a message without naming the recipient
	sendCommand(t, alice, event.NewIndividualMessageKind, map[string]any{"content": "hello bob"})

	// Then bob receives it
	var received event.IndividualMessage
	req.Equal(event.NewIndividualMessageKind, readEvent(t, bob, &received))
	req.Equal("hello bob", received.Content)
	req.Equal(domain.UserID("alice"), received.SenderID)

	// And alice gets her echo
	var echo event.IndividualMessage
	req.Equal(event.NewIndividualMessageKind, readEvent(t, alice, &echo))
	req.Equal(received.ID, echo.ID)

	// When bob reads it
	sendCommand(t, bob, event.MarkAsReadKind, map[string]any{"messageIds": []domain.MessageID{received.ID}})

	// Then both sides are told
	var update event.ReadStateUpdated
	req.Equal(event.MarkAsReadKind, readEvent(t, alice, &update))
	req.Len(update.Messages, 1)
	req.True(update.Messages[0].Read)
	req.Equal(event.MarkAsReadKind, readEvent(t, bob, &update))
}

func TestHandler_Offline_Recipient_Gets_A_Notification(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	alice := s.dial(t, "/ws/chats/"+string(s.open(t, "alice"))+"/bob")
	s.waitConnections(t, "alice", 1)

	// When a garbage frame is followed by a valid one
	req.NoError(alice.WriteMessage(websocket.TextMessage, []byte("{not json")))
	sendCommand(t, alice, event.NewIndividualMessageKind, map[string]any{"content": "call me"})

	// Then the connection survived and the message was echoed
	var echo event.IndividualMessage
	req.Equal(event.NewIndividualMessageKind, readEvent(t, alice, &echo))
	req.Equal(float64(1), testutil.ToFloat64(s.metrics.InvalidFrames))

	// And bob has a notification waiting
	pending, err := s.notifications.ListForUser("bob")
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(echo.ID, pending[0].MessageID)
}

func TestHandler_Forced_Logout(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given alice is connected from her laptop and her phone
	laptopToken := s.open(t, "alice")
	phoneToken := s.open(t, "alice")
	laptop := s.dial(t, "/ws/sessions/"+string(laptopToken))
	phone := s.dial(t, "/ws/sessions/"+string(phoneToken))
	s.waitConnections(t, "alice", 2)

	// When she logs the phone out from the laptop
	sendCommand(t, laptop, event.ForcedLogoutKind, map[string]any{"token": phoneToken})

	// Then the phone is told to log out
	var logout event.ForcedLogout
	req.Equal(event.ForcedLogoutKind, readEvent(t, phone, &logout))
	req.NotEmpty(logout.Reason)

	// And its socket is closed even if it ignores the command
	_, _, err := phone.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	s.waitConnections(t, "alice", 1)

	// And the phone session cannot be used to reconnect
	again := s.dial(t, "/ws/sessions/"+string(phoneToken))
	req.NoError(again.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = again.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.ClosePolicyViolation), "got %v", err)
}

func TestHandler_Disconnect_Unregisters(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	ws := s.dial(t, "/ws/groups/"+string(s.open(t, "bob")))
	s.waitConnections(t, "bob", 1)

	// When the client goes away
	req.NoError(ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = ws.Close()

	// Then bob is offline
	req.Eventually(func() bool { return !s.registry.IsOnline("bob") }, 2*time.Second, 10*time.Millisecond)
}

func TestHandler_Recipient_Closing_Before_Delivery_Gets_A_Notification(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	// Given bob's chat with alice is registered
	alice := s.dial(t, "/ws/chats/"+string(s.open(t, "alice"))+"/bob")
	s.dial(t, "/ws/chats/"+string(s.open(t, "bob"))+"/alice")
	s.waitConnections(t, "alice", 1)
	s.waitConnections(t, "bob", 1)

	// When bob's socket closes right before alice writes to him
	req.NoError(s.registry.ConnectionsFor("bob")[0].Close())
	sendCommand(t, alice, event.NewIndividualMessageKind, map[string]any{"content": "are you there"})

	// Then the message is not lost, bob gets a notification
	var echo event.IndividualMessage
	req.Equal(event.NewIndividualMessageKind, readEvent(t, alice, &echo))
	pending, err := s.notifications.ListForUser("bob")
	req.NoError(err)
	req.Len(pending, 1)
	req.Equal(echo.ID, pending[0].MessageID)
}

func TestHandler_Shutdown_Waits_For_Connections(t *testing.T) {
	req := require.New(t)
	s := newTestServer(t)

	alice := s.dial(t, "/ws/sessions/"+string(s.open(t, "alice")))
	s.waitConnections(t, "alice", 1)

	// When the server shuts down
	s.handler.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req.NoError(s.handler.Wait(ctx))

	// Then every connection has left the registry before Wait returned
	req.False(s.registry.IsOnline("alice"))
	req.NoError(alice.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err := alice.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)

	// And late clients are turned away
	late := s.dial(t, "/ws/sessions/"+string(s.open(t, "bob")))
	req.NoError(late.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, _, err = late.ReadMessage()
	req.True(websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	req.False(s.registry.IsOnline("bob"))
}

func TestCloseCodeFor(t *testing.T) {
	req := require.New(t)

	code, _ := closeCodeFor(fmt.Errorf("%w: session lookup: disk full", errors.ErrStorageFailure))
	req.Equal(websocket.CloseInternalServerErr, code)

	code, reason := closeCodeFor(errors.ErrInvalidSession)
	req.Equal(websocket.ClosePolicyViolation, code)
	req.Equal(reasonInvalidSession, reason)
}
