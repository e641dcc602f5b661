package streaming

import (
	"github.com/phosphorco/agenthub/internal/domain"
)

// ---------------------------------------------------------------------------
// Wire protocol
// ---------------------------------------------------------------------------

// Frame types.
const (
	FrameTypeHello   = "hello"
	FrameTypeHelloOK = "hello_ok"
	FrameTypeEvent   = "event"
)

// Close codes. 1000 and 4401 tell clients not to reconnect; everything
// else is retryable.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
	CloseInternalError   = 1011
	CloseUnauthorized    = 4401
)

// Subscriptions filters a session to a set of channels and topics. Both
// empty means all events. An event matches when its channel is in
// Channels, or its topic_id or topic_id2 is in Topics.
type Subscriptions struct {
	Channels []string `json:"channels,omitempty"`
	Topics   []string `json:"topics,omitempty"`
}

// Empty reports whether the subscription matches everything.
func (s Subscriptions) Empty() bool {
	return len(s.Channels) == 0 && len(s.Topics) == 0
}

// Matches applies the scope routing rule.
func (s Subscriptions) Matches(scope domain.EventScope) bool {
	return scope.Matches(s.Channels, s.Topics)
}

// HelloFrame is the single client-to-server frame, sent right after the
// upgrade. AfterEventID is the client's resume cursor (exclusive).
type HelloFrame struct {
	Type          string         `json:"type"`
	AfterEventID  int64          `json:"after_event_id"`
	Subscriptions *Subscriptions `json:"subscriptions,omitempty"`
}

// HelloOKFrame acknowledges the handshake and freezes the session's
// replay boundary.
type HelloOKFrame struct {
	Type        string `json:"type"`
	ReplayUntil int64  `json:"replay_until"`
	InstanceID  string `json:"instance_id"`
}

// EventFrame wraps one log event for the wire. The embedded Event
// contributes event_id, ts, name, scope, entity, and data.
type EventFrame struct {
	Type string `json:"type"`
	domain.Event
}

// NewEventFrame builds the envelope for one event.
func NewEventFrame(ev domain.Event) EventFrame {
	return EventFrame{Type: FrameTypeEvent, Event: ev}
}
