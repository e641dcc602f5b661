package streaming

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phosphorco/agenthub/internal/metrics"
	"github.com/phosphorco/agenthub/internal/store"
)

// loadTimeout bounds the distributor's read of freshly committed rows.
const loadTimeout = 5 * time.Second

// Distributor fans committed events out to live sessions. It is the
// broadcast node between the mutation kernel's post-commit hook (one
// producer) and the session registry (many consumers). Sessions are held
// in a plain registry guarded by one mutex; a session drops out of the
// registry on close, so there are no reference cycles.
//
// The registry mutex also serialises boundary capture against delivery:
// a session's replay_until is read while holding it, so no event can be
// published between the boundary snapshot and the session becoming
// visible to PublishCommitted. Together with the sessions' own
// id > replay_until live filter this yields the no-gap, no-duplicate
// replay/live transition.
type Distributor struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

// NewDistributor builds a distributor over the store's event log.
// metrics may be nil.
func NewDistributor(st *store.Store, logger *slog.Logger, m *metrics.Metrics) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		store:    st,
		logger:   logger.With("component", "distributor"),
		metrics:  m,
		sessions: make(map[*Session]struct{}),
	}
}

// PublishCommitted implements store.CommitPublisher. It loads the event
// rows just committed and hands each envelope to every registered session
// whose subscription matches, in ascending id order. The store invokes it
// under its commit lock, one committed range at a time in id order, so
// sessions observe strictly ascending ids across transactions.
func (d *Distributor) PublishCommitted(firstEventID, lastEventID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()

	events, err := d.store.GetEvents(ctx, firstEventID, lastEventID)
	if err != nil {
		d.logger.Error("load committed events for fan-out", "error", err,
			"first", firstEventID, "last", lastEventID)
		return
	}
	d.metrics.EventsCommitted(len(events))

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	for _, ev := range events {
		for sess := range d.sessions {
			if !sess.subs.Matches(ev.Scope) {
				continue
			}
			if sess.offer(ev) {
				d.metrics.EventsDelivered(1)
			} else {
				// Buffer saturated: close the slow session rather than
				// block the producer or queue unbounded state.
				delete(d.sessions, sess)
				sess.closeSlow()
				d.metrics.SessionDropped()
				d.logger.Warn("session dropped for backpressure", "session", sess.id)
			}
		}
	}
}

// register adds a session and snapshots its frozen replay boundary in the
// same critical section, so no commit can slip between the two.
func (d *Distributor) register(ctx context.Context, sess *Session) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return 0, errors.New("streaming: distributor is shut down")
	}
	replayUntil, err := d.store.MaxEventID(ctx)
	if err != nil {
		return 0, err
	}
	d.sessions[sess] = struct{}{}
	d.metrics.SessionOpened()
	return replayUntil, nil
}

// unregister removes a session; idempotent.
func (d *Distributor) unregister(sess *Session) {
	d.mu.Lock()
	_, present := d.sessions[sess]
	delete(d.sessions, sess)
	d.mu.Unlock()
	if present {
		d.metrics.SessionClosed()
	}
}

// SessionCount reports the number of registered sessions.
func (d *Distributor) SessionCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

// DisconnectAll closes every current session with a going-away close
// code. New sessions may still register; clients reconnect and resume.
func (d *Distributor) DisconnectAll() {
	d.mu.Lock()
	sessions := make([]*Session, 0, len(d.sessions))
	for sess := range d.sessions {
		sessions = append(sessions, sess)
	}
	d.sessions = make(map[*Session]struct{})
	d.mu.Unlock()

	for _, sess := range sessions {
		sess.closeGoingAway()
		d.metrics.SessionClosed()
	}
}

// Shutdown disconnects every session and stops accepting registrations.
func (d *Distributor) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.DisconnectAll()
}
