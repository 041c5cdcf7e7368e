package main

import (
	"bufio"
	"chat-dispatch/domain"
	"chat-dispatch/domain/event"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
// With PEER set, the client opens an individual chat and every stdin line
// is sent to that peer. With GROUP set, lines go to the group. Otherwise
// the client only listens on the session endpoint.
type Config struct {
	ServerAddress string `env:"DISPATCHER_ADDR,default=localhost:8080"`
	Token         string `env:"TOKEN,required=true"`
	Peer          string `env:"PEER"`
	Group         string `env:"GROUP"`
	LogLevel      string `env:"LOG_LEVEL,default=INFO"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

func run() (int, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	u := url.URL{Scheme: "ws", Host: config.ServerAddress, Path: endpoint(config)}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return exitRuntime, fmt.Errorf("could not connect to dispatcher at %s: %w", config.ServerAddress, err)
	}
	defer func() {
		log.Info("Closing connection...")
		_ = conn.Close()
	}()
	log.Info("Connected, Ctrl+C to quit", "addr", config.ServerAddress, "peer", config.Peer, "group", config.Group)

	go readStdin(ctx, conn, config)

	received := make(chan error, 1)
	go func() {
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				received <- err
				return
			}
			fmt.Println(render(frame))
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Stopping client...")
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		return exitOK, nil
	case err := <-received:
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return exitOK, nil
		}
		return exitRuntime, fmt.Errorf("connection error: %w", err)
	}
}

func endpoint(config Config) string {
	switch {
	case config.Peer != "":
		return "/ws/chats/" + config.Token + "/" + config.Peer
	case config.Group != "":
		return "/ws/groups/" + config.Token
	default:
		return "/ws/sessions/" + config.Token
	}
}

func readStdin(ctx context.Context, conn *websocket.Conn, config Config) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var kind event.Kind
		var data any
		switch {
		case config.Peer != "":
			kind, data = event.NewIndividualMessageKind, event.SendIndividualMessage{Content: line}
		case config.Group != "":
			kind, data = event.NewGroupMessageKind, event.SendGroupMessage{GroupID: domain.GroupID(config.Group), Content: line}
		default:
			fmt.Fprintln(os.Stderr, "listening only, set PEER or GROUP to send")
			continue
		}
		payload, _ := json.Marshal(data)
		frame, _ := json.Marshal(event.Envelope{Type: kind, Data: payload})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			return
		}
	}
}

func render(frame []byte) string {
	var envelope event.Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return string(frame)
	}
	switch envelope.Type {
	case event.NewIndividualMessageKind:
		var m event.IndividualMessage
		if json.Unmarshal(envelope.Data, &m) == nil {
			return fmt.Sprintf("[%s] #%d %s: %s", m.CreatedAt.Format(time.TimeOnly), m.ID,
				color.FgGreen.Render(string(m.SenderID)), m.Content)
		}
	case event.NewGroupMessageKind:
		var m event.GroupMessage
		if json.Unmarshal(envelope.Data, &m) == nil {
			return fmt.Sprintf("[%s] #%d %s@%s: %s", m.CreatedAt.Format(time.TimeOnly), m.ID,
				color.FgGreen.Render(string(m.SenderID)), m.GroupID, m.Content)
		}
	case event.ForcedLogoutKind:
		return color.FgRed.Render("logged out: " + string(envelope.Data))
	}
	return color.FgCyan.Render(fmt.Sprintf("%s %s", envelope.Type, envelope.Data))
}
