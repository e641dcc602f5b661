package streaming

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/store"
)

// Protocol timing and sizing.
const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Send pings at this interval. Must be less than pongWait.
	pingPeriod = 30 * time.Second

	// Time allowed for the client to send its hello after the upgrade.
	helloTimeout = 10 * time.Second

	// Maximum frame size accepted from the peer. Clients only send the
	// hello frame, which is small.
	maxFrameSize = 16 * 1024

	// Events buffered per session during replay and live phases. When
	// the buffer saturates the distributor drops the session.
	sendBufferSize = 256

	// Events fetched per replay page.
	replayPageSize = 500
)

// Session is one connected WebSocket client. Its lifecycle is: handshake
// (hello/hello_ok with a frozen replay boundary), replay phase (events
// with id <= replay_until streamed from the log), then live phase (events
// with id > replay_until delivered by the distributor in commit order).
type Session struct {
	id   string
	conn *websocket.Conn
	dist *Distributor
	subs Subscriptions

	replayUntil int64

	// send receives matching live events from the distributor. offer
	// never blocks; a full buffer drops the session instead.
	send chan domain.Event

	slow      chan struct{}
	goingAway chan struct{}
	closeOnce sync.Once
	awayOnce  sync.Once

	logger *slog.Logger
}

// ServeSession authenticates nothing — the caller has already validated
// the bearer token — and runs the full session lifecycle on the upgraded
// connection. It returns when the session ends; the connection is closed
// on return.
func ServeSession(ctx context.Context, conn *websocket.Conn, dist *Distributor, instanceID string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		id:        uuid.NewString(),
		conn:      conn,
		dist:      dist,
		send:      make(chan domain.Event, sendBufferSize),
		slow:      make(chan struct{}),
		goingAway: make(chan struct{}),
	}
	s.logger = logger.With("component", "ws-session", "session", s.id)
	defer conn.Close()

	// --- Handshake --------------------------------------------------------
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(helloTimeout))

	var hello HelloFrame
	if err := conn.ReadJSON(&hello); err != nil {
		s.logger.Warn("handshake read failed", "error", err)
		s.writeClose(ClosePolicyViolation, "expected hello frame")
		return
	}
	if hello.Type != FrameTypeHello || hello.AfterEventID < 0 {
		s.writeClose(ClosePolicyViolation, "malformed hello frame")
		return
	}
	if hello.Subscriptions != nil {
		s.subs = *hello.Subscriptions
	}

	replayUntil, err := s.dist.register(ctx, s)
	if err != nil {
		s.logger.Error("capture replay boundary", "error", err)
		s.writeClose(CloseInternalError, "")
		return
	}
	s.replayUntil = replayUntil
	defer s.dist.unregister(s)

	if err := s.writeJSON(HelloOKFrame{
		Type:        FrameTypeHelloOK,
		ReplayUntil: replayUntil,
		InstanceID:  instanceID,
	}); err != nil {
		return
	}

	// --- Read pump --------------------------------------------------------
	// The client sends nothing after hello; the read pump exists to
	// handle pongs and to notice the peer closing.
	readClosed := make(chan struct{})
	go func() {
		defer close(readClosed)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					s.logger.Debug("unexpected close", "error", err)
				}
				return
			}
		}
	}()

	// --- Replay phase -----------------------------------------------------
	if err := s.replay(ctx, hello.AfterEventID); err != nil {
		if !errors.Is(err, errSessionDone) {
			s.logger.Warn("replay aborted", "error", err)
		}
		return
	}

	// --- Live phase -------------------------------------------------------
	s.live(ctx, readClosed)
}

var errSessionDone = errors.New("session done")

// replay streams events in (afterEventID, replayUntil] in pages,
// preserving ascending id order. Concurrent commits past the frozen
// boundary accumulate in the send buffer for the live phase.
func (s *Session) replay(ctx context.Context, afterEventID int64) error {
	cursor := afterEventID
	for cursor < s.replayUntil {
		select {
		case <-s.slow:
			s.writeClose(ClosePolicyViolation, "client too slow")
			return errSessionDone
		case <-s.goingAway:
			s.writeClose(CloseGoingAway, "")
			return errSessionDone
		case <-ctx.Done():
			s.writeClose(CloseGoingAway, "")
			return errSessionDone
		default:
		}

		events, err := s.dist.store.ReplayEvents(ctx, store.ReplayQuery{
			AfterEventID: cursor,
			ReplayUntil:  s.replayUntil,
			ChannelIDs:   s.subs.Channels,
			TopicIDs:     s.subs.Topics,
			Limit:        replayPageSize,
		})
		if err != nil {
			s.writeClose(CloseInternalError, "")
			return err
		}
		if len(events) == 0 {
			break
		}
		for _, ev := range events {
			if err := s.writeJSON(NewEventFrame(ev)); err != nil {
				return err
			}
		}
		cursor = events[len(events)-1].EventID
		if len(events) < replayPageSize {
			break
		}
	}
	return nil
}

// live drains the distributor's deliveries, suppressing anything at or
// below the frozen boundary (those belong to replay), until the peer or
// the server ends the session.
func (s *Session) live(ctx context.Context, readClosed <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-s.send:
			if ev.EventID <= s.replayUntil {
				continue
			}
			if err := s.writeJSON(NewEventFrame(ev)); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-s.slow:
			s.writeClose(ClosePolicyViolation, "client too slow")
			return

		case <-s.goingAway:
			s.writeClose(CloseGoingAway, "")
			return

		case <-ctx.Done():
			s.writeClose(CloseGoingAway, "")
			return

		case <-readClosed:
			return
		}
	}
}

// offer hands a live event to the session without blocking. It returns
// false when the buffer is saturated; the distributor then drops the
// session.
func (s *Session) offer(ev domain.Event) bool {
	select {
	case s.send <- ev:
		return true
	default:
		return false
	}
}

// closeSlow signals the policy-violation close. Safe to call more than
// once and never blocks; called by the distributor under its lock.
func (s *Session) closeSlow() {
	s.closeOnce.Do(func() { close(s.slow) })
}

// closeGoingAway signals the server-shutdown close.
func (s *Session) closeGoingAway() {
	s.awayOnce.Do(func() { close(s.goingAway) })
}

func (s *Session) writeJSON(v any) error {
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

func (s *Session) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
}
