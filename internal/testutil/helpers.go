// Package testutil provides the integration harness: a hub booted on a
// temp workspace with an ephemeral port, plus a low-level WebSocket test
// client for exercising the wire protocol directly.
package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/phosphorco/agenthub/internal/config"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/hub"
	"github.com/phosphorco/agenthub/internal/streaming"
)

// TestHub is a running hub on a temp workspace.
type TestHub struct {
	Hub   *hub.Hub
	Root  string
	URL   string
	WSURL string
	Token string
}

// StartHub boots a hub on t.TempDir with an ephemeral port and registers
// shutdown with t.Cleanup.
func StartHub(t *testing.T) *TestHub {
	t.Helper()
	return StartHubWithConfig(t, nil)
}

// StartHubWithConfig boots a hub with overrides applied to the default
// test config.
func StartHubWithConfig(t *testing.T, mutate func(*config.Config)) *TestHub {
	t.Helper()

	cfg := &config.Config{
		Host:          "127.0.0.1",
		Port:          0,
		RateRPS:       1000,
		RateBurst:     1000,
		SearchEnabled: false,
		LogLevel:      "error",
	}
	if mutate != nil {
		mutate(cfg)
	}

	root := t.TempDir()
	h, err := hub.Start(context.Background(), root, cfg, nil)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.Shutdown(ctx)
	})

	d := h.Descriptor
	return &TestHub{
		Hub:   h,
		Root:  root,
		URL:   d.URL(),
		WSURL: d.WSURL(),
		Token: d.AuthToken,
	}
}

// WSConn is a raw protocol-level WebSocket client for tests.
type WSConn struct {
	t    *testing.T
	Conn *websocket.Conn
}

// DialWS opens a WebSocket to the hub with the given token. Callers
// drive the handshake themselves.
func DialWS(t *testing.T, th *TestHub, token string) *WSConn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(th.WSURL+"?token="+token, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &WSConn{t: t, Conn: conn}
}

// Handshake sends hello and returns the hello_ok frame.
func (c *WSConn) Handshake(afterEventID int64, subs *streaming.Subscriptions) streaming.HelloOKFrame {
	c.t.Helper()
	c.SendHello(afterEventID, subs)
	return c.ReadHelloOK()
}

// SendHello writes the hello frame.
func (c *WSConn) SendHello(afterEventID int64, subs *streaming.Subscriptions) {
	c.t.Helper()
	err := c.Conn.WriteJSON(streaming.HelloFrame{
		Type:          streaming.FrameTypeHello,
		AfterEventID:  afterEventID,
		Subscriptions: subs,
	})
	require.NoError(c.t, err)
}

// ReadHelloOK reads the hello_ok frame.
func (c *WSConn) ReadHelloOK() streaming.HelloOKFrame {
	c.t.Helper()
	var ok streaming.HelloOKFrame
	require.NoError(c.t, c.Conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(c.t, c.Conn.ReadJSON(&ok))
	require.Equal(c.t, streaming.FrameTypeHelloOK, ok.Type)
	return ok
}

// ReadEvent reads the next event frame within the timeout.
func (c *WSConn) ReadEvent(timeout time.Duration) domain.Event {
	c.t.Helper()
	require.NoError(c.t, c.Conn.SetReadDeadline(time.Now().Add(timeout)))
	_, raw, err := c.Conn.ReadMessage()
	require.NoError(c.t, err)

	var frame streaming.EventFrame
	require.NoError(c.t, json.Unmarshal(raw, &frame))
	require.Equal(c.t, streaming.FrameTypeEvent, frame.Type)
	return frame.Event
}

// ReadEvents reads exactly n event frames.
func (c *WSConn) ReadEvents(n int, timeout time.Duration) []domain.Event {
	c.t.Helper()
	out := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, c.ReadEvent(timeout))
	}
	return out
}

// ExpectNoEvent asserts that no frame arrives within d.
func (c *WSConn) ExpectNoEvent(d time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.SetReadDeadline(time.Now().Add(d)))
	_, _, err := c.Conn.ReadMessage()
	require.Error(c.t, err, "expected no frame, got one")
}

// ExpectClose asserts the connection closes with the given code.
func (c *WSConn) ExpectClose(code int, timeout time.Duration) {
	c.t.Helper()
	require.NoError(c.t, c.Conn.SetReadDeadline(time.Now().Add(timeout)))
	for {
		_, _, err := c.Conn.ReadMessage()
		if err != nil {
			require.True(c.t, websocket.IsCloseError(err, code), "expected close %d, got %v", code, err)
			return
		}
	}
}
