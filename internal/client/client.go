// Package client is the hub's Go client: an HTTP mutation surface and a
// reconnecting event stream with exactly-once delivery relative to the
// hub's event log. The stream hides transport failures behind resume:
// every reconnect sends the last delivered event id as the new cursor,
// and a bounded dedup window drops anything redelivered across the seam.
package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/streaming"
)

const (
	// dedupWindow is the number of recently delivered event ids kept for
	// deduplication. On overflow the older half is dropped.
	dedupWindow = 1000

	// maxConsecutiveFailures ends the stream when this many handshakes
	// fail in a row, so a wedged token does not retry forever.
	maxConsecutiveFailures = 5

	// eventBufferSize is the main consumer channel capacity.
	eventBufferSize = 256

	defaultReconnectDelay    = 500 * time.Millisecond
	defaultMaxReconnectDelay = 30 * time.Second
	defaultOpenTimeout       = 10 * time.Second
)

// Options configures Connect. The zero value is usable.
type Options struct {
	// AfterEventID is the initial resume cursor (exclusive).
	AfterEventID int64

	// Subscriptions filters the stream. Nil means all events.
	Subscriptions *streaming.Subscriptions

	// ReconnectDelay is the initial backoff delay.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the backoff.
	MaxReconnectDelay time.Duration

	// OpenTimeout bounds dial plus handshake; a connection with no
	// hello_ok inside it counts as a failed handshake.
	OpenTimeout time.Duration

	Logger *slog.Logger
}

// Client is a connected hub client. One background goroutine owns the
// transport; events fan out to one-shot WaitForEvent subscribers (each
// with its own buffer) and then to the Events channel. Delivery blocks
// while the Events buffer is full, so a stalled Events consumer also
// stops later events from reaching waiters.
type Client struct {
	httpURL string
	wsURL   string
	token   string
	opts    Options
	logger  *slog.Logger

	events chan domain.Event

	mu      sync.Mutex
	cursor  int64
	seen    map[int64]struct{}
	seenIDs []int64
	waiters map[*waiter]struct{}
	err     error

	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

type waiter struct {
	pred func(domain.Event) bool
	ch   chan domain.Event
}

// Connect starts the stream engine against a hub. httpURL is the base
// URL (e.g. http://127.0.0.1:7411); the WebSocket endpoint is derived
// from it. The returned client is live immediately; transport failures
// are retried behind the scenes.
func Connect(httpURL, token string, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = defaultMaxReconnectDelay
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = defaultOpenTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		httpURL: httpURL,
		wsURL:   wsURLFrom(httpURL),
		token:   token,
		opts:    opts,
		logger:  logger.With("component", "hub-client"),
		events:  make(chan domain.Event, eventBufferSize),
		cursor:  opts.AfterEventID,
		seen:    make(map[int64]struct{}),
		waiters: make(map[*waiter]struct{}),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go c.run()
	return c
}

// Events returns the consumer stream. It closes when the client is
// closed, the server ends the stream normally, or a terminal error
// occurs; Err distinguishes the cases.
func (c *Client) Events() <-chan domain.Event { return c.events }

// LastEventID returns the id of the last event delivered to the
// consumer. Across any number of reconnects, delivered ids are strictly
// increasing.
func (c *Client) LastEventID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

// Err returns the terminal stream error, if any, once Events is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close cancels reconnection and ends the consumer stream. In-flight
// WaitForEvent calls resolve with ErrConnectionClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
	<-c.done
}

// WaitForEvent blocks until an event matching pred is delivered, the
// timeout elapses, ctx is cancelled, or the stream ends. It registers a
// one-shot subscriber, so it observes events even when the main Events
// channel is not being drained.
func (c *Client) WaitForEvent(ctx context.Context, pred func(domain.Event) bool, timeout time.Duration) (domain.Event, error) {
	w := &waiter{pred: pred, ch: make(chan domain.Event, 1)}

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return domain.Event{}, ErrConnectionClosed
	}
	c.waiters[w] = struct{}{}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, w)
		c.mu.Unlock()
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case ev := <-w.ch:
		return ev, nil
	case <-timeoutCh:
		return domain.Event{}, ErrWaitTimeout
	case <-ctx.Done():
		return domain.Event{}, ctx.Err()
	case <-c.closed:
		return domain.Event{}, ErrConnectionClosed
	}
}

// ---------------------------------------------------------------------------
// Transport loop
// ---------------------------------------------------------------------------

func (c *Client) run() {
	defer close(c.done)
	defer close(c.events)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.opts.ReconnectDelay
	bo.MaxInterval = c.opts.MaxReconnectDelay
	bo.MaxElapsedTime = 0

	consecutiveFailures := 0

	for {
		select {
		case <-c.closed:
			return
		default:
		}

		handshook, terminal, err := c.runOnce()
		if terminal {
			c.finish(err)
			return
		}
		if handshook {
			consecutiveFailures = 0
			bo.Reset()
		} else {
			consecutiveFailures++
			if consecutiveFailures >= maxConsecutiveFailures {
				c.finish(ErrTooManyFailures)
				return
			}
		}
		if err != nil {
			c.logger.Debug("stream interrupted, reconnecting", "error", err)
		}

		select {
		case <-time.After(bo.NextBackOff()):
		case <-c.closed:
			return
		}
	}
}

// runOnce dials, handshakes, and pumps events until the connection ends.
// handshook reports whether hello_ok arrived; terminal reports that the
// stream must not reconnect (err nil for a normal server close).
func (c *Client) runOnce() (handshook, terminal bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.opts.OpenTimeout}
	conn, _, err := dialer.Dial(c.wsURL+"?token="+c.token, nil)
	if err != nil {
		return false, false, err
	}
	defer conn.Close()

	// Unblock reads when Close is called.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-c.closed:
			conn.Close()
		case <-stop:
		}
	}()

	hello := streaming.HelloFrame{
		Type:          streaming.FrameTypeHello,
		AfterEventID:  c.LastEventID(),
		Subscriptions: c.opts.Subscriptions,
	}
	_ = conn.SetWriteDeadline(time.Now().Add(c.opts.OpenTimeout))
	// A failed write usually means the server already closed (e.g. with
	// an auth close code); fall through to the read so the close frame
	// gets classified instead of the write error.
	writeErr := conn.WriteJSON(hello)

	_ = conn.SetReadDeadline(time.Now().Add(c.opts.OpenTimeout))
	var ok streaming.HelloOKFrame
	if err := conn.ReadJSON(&ok); err != nil {
		switch {
		case c.isClosed():
			return false, true, nil
		case websocket.IsCloseError(err, streaming.CloseUnauthorized):
			return false, true, ErrUnauthorized
		case websocket.IsCloseError(err, websocket.CloseNormalClosure):
			return false, true, nil
		}
		return false, false, err
	}
	if writeErr != nil {
		return false, false, writeErr
	}
	if ok.Type != streaming.FrameTypeHelloOK {
		return false, false, &MutationError{Code: "protocol", Message: "expected hello_ok"}
	}

	// Handshake complete; pump frames until the connection drops.
	_ = conn.SetReadDeadline(time.Time{})
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.isClosed() {
				return true, true, nil
			}
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure):
				return true, true, nil
			case websocket.IsCloseError(err, streaming.CloseUnauthorized):
				return true, true, ErrUnauthorized
			default:
				// Going-away, policy violation, internal error, and raw
				// transport failures all reconnect and resume.
				return true, false, err
			}
		}

		var frame streaming.EventFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if frame.Type != streaming.FrameTypeEvent {
			// Unknown frame types are ignored for forward compatibility.
			continue
		}
		if done := c.deliver(frame.Event); done {
			return true, true, nil
		}
	}
}

// deliver deduplicates, advances the cursor, satisfies waiters, and
// enqueues for the main consumer. Returns true when the client closed
// mid-delivery.
func (c *Client) deliver(ev domain.Event) bool {
	c.mu.Lock()
	if _, dup := c.seen[ev.EventID]; dup || ev.EventID <= 0 {
		c.mu.Unlock()
		return false
	}
	c.seen[ev.EventID] = struct{}{}
	c.seenIDs = append(c.seenIDs, ev.EventID)
	if len(c.seenIDs) > dedupWindow {
		// Drop the older half of the window.
		cut := len(c.seenIDs) / 2
		for _, id := range c.seenIDs[:cut] {
			delete(c.seen, id)
		}
		c.seenIDs = append(c.seenIDs[:0:0], c.seenIDs[cut:]...)
	}
	if ev.EventID > c.cursor {
		c.cursor = ev.EventID
	}

	// One-shot waiters first, each with its own buffer. The send to Events
	// below blocks while that buffer is full, and no later event reaches
	// the waiters until it drains.
	for w := range c.waiters {
		if w.pred(ev) {
			select {
			case w.ch <- ev:
			default:
			}
			delete(c.waiters, w)
		}
	}
	c.mu.Unlock()

	select {
	case c.events <- ev:
		return false
	case <-c.closed:
		return true
	}
}

func (c *Client) finish(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// wsURLFrom derives the WebSocket endpoint from the HTTP base URL.
func wsURLFrom(httpURL string) string {
	switch {
	case len(httpURL) >= 8 && httpURL[:8] == "https://":
		return "wss://" + httpURL[8:] + "/api/v1/ws"
	case len(httpURL) >= 7 && httpURL[:7] == "http://":
		return "ws://" + httpURL[7:] + "/api/v1/ws"
	default:
		return httpURL + "/api/v1/ws"
	}
}
