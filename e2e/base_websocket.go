package e2e

import (
	"chat-dispatch/domain/event"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/gookit/color"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"
)

type BaseWebsocketSuite struct {
	suite.Suite
	Config Config
}

// SetupSuite loads the environment configuration, the suite only runs
// against a live dispatcher.
func (s *BaseWebsocketSuite) SetupSuite() {
	var err error
	s.Config, err = LoadConfig()
	s.Require().NoError(err)
	if s.Config.DispatcherAddr == "" || s.Config.AliceToken == "" || s.Config.BobToken == "" {
		s.T().Skip("DISPATCHER_ADDR, ALICE_TOKEN and BOB_TOKEN are required")
	}
}

// Client is one websocket connection that logs what it sees.
type Client struct {
	s    *BaseWebsocketSuite
	name string
	ws   *websocket.Conn
}

// Dial opens path on the dispatcher and prints a colorized step header.
func (s *BaseWebsocketSuite) Dial(name, path string) *Client {
	header := fmt.Sprintf("  ====== %s ======", name)
	if s.Config.Colours {
		header = color.New(color.BgBlack, color.FgGreen).Render(header)
	}
	s.T().Log(header)

	u := url.URL{Scheme: "ws", Host: s.Config.DispatcherAddr, Path: path}
	start := time.Now()
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	s.Require().NoError(err, "Failed to connect to dispatcher at "+u.Host)
	s.T().Logf("WS %s connected in %v", path, time.Since(start))
	return &Client{s: s, name: name, ws: ws}
}

func (c *Client) Close() {
	_ = c.ws.Close()
}

func (c *Client) Send(kind event.Kind, data any) {
	payload, err := json.Marshal(data)
	c.s.Require().NoError(err)
	frame, err := json.Marshal(event.Envelope{Type: kind, Data: payload})
	c.s.Require().NoError(err)
	c.log("SEND", frame)
	c.s.Require().NoError(c.ws.WriteMessage(websocket.TextMessage, frame))
}

// Expect reads the next frame, checks its type, and decodes it into data.
func (c *Client) Expect(kind event.Kind, data any) {
	c.s.Require().NoError(c.ws.SetReadDeadline(time.Now().Add(5 * time.Second)))
	_, frame, err := c.ws.ReadMessage()
	c.s.Require().NoError(err, "%s expected %s", c.name, kind)
	c.log("RECV", frame)

	var envelope event.Envelope
	c.s.Require().NoError(json.Unmarshal(frame, &envelope))
	c.s.Require().Equal(kind, envelope.Type)
	c.s.Require().NoError(json.Unmarshal(envelope.Data, data))
}

func (c *Client) log(direction string, frame []byte) {
	if !c.s.Config.DebugJSON {
		return
	}
	line := fmt.Sprintf("%s %s %s", c.name, direction, frame)
	if c.s.Config.Colours {
		line = color.FgCyan.Render(line)
	}
	c.s.T().Log(line)
}
