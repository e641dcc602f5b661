package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/phosphorco/agenthub/internal/domain"
)

// EventRecord is the input to InsertEvent. Data must be a key/value
// object; it is serialised with encoding/json, which orders map keys, so
// the stored bytes are stable for identical inputs.
type EventRecord struct {
	Name   string
	Scope  domain.EventScope
	Entity domain.EventEntity
	Data   map[string]any
}

// InsertEvent appends one event inside the caller's transaction and
// returns its assigned event_id. It is the sole entry point that writes
// the events table: every state-changing mutation calls it from the same
// transaction that touched the entity rows, so either both commit or
// neither does.
func InsertEvent(ctx context.Context, tx *sql.Tx, rec EventRecord) (int64, error) {
	if rec.Name == "" {
		return 0, domain.NewError(domain.ErrKindInvalidInput, "invalid event: name is required")
	}
	if rec.Entity.Type == "" || rec.Entity.ID == "" {
		return 0, domain.NewError(domain.ErrKindInvalidInput, "invalid event %q: entity type and id are required", rec.Name)
	}
	if rec.Data == nil {
		return 0, domain.NewError(domain.ErrKindInvalidInput, "invalid event %q: data must be a key/value object", rec.Name)
	}
	if field := domain.MissingScopeField(rec.Name, rec.Scope); field != "" {
		return 0, domain.NewError(domain.ErrKindInvalidInput, "invalid event %q: required scope field %s is missing", rec.Name, field)
	}

	data, err := json.Marshal(rec.Data)
	if err != nil {
		return 0, domain.WrapError(domain.ErrKindInvalidInput, err, "invalid event %q: data is not serialisable", rec.Name)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (ts, name, channel_id, topic_id, topic_id2, entity_type, entity_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, fmtTime(time.Now()), rec.Name,
		nullString(rec.Scope.ChannelID), nullString(rec.Scope.TopicID), nullString(rec.Scope.TopicID2),
		rec.Entity.Type, rec.Entity.ID, string(data))
	if err != nil {
		return 0, fmt.Errorf("store: insert event %q: %w", rec.Name, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: event id for %q: %w", rec.Name, err)
	}
	return id, nil
}

// ReplayQuery bounds and filters a read over the event log.
type ReplayQuery struct {
	// AfterEventID is exclusive; 0 replays from the beginning.
	AfterEventID int64
	// ReplayUntil is inclusive. Events committed past it never appear,
	// which is what lets a session freeze its replay boundary.
	ReplayUntil int64
	// ChannelIDs and TopicIDs compose as
	// (channel_id IN ChannelIDs) OR (topic_id IN TopicIDs OR topic_id2 IN TopicIDs).
	// Both empty means no scope filter.
	ChannelIDs []string
	TopicIDs   []string
	// Limit caps the page size; required.
	Limit int
}

// ReplayEvents returns matching events in strictly ascending event_id
// order. For fixed inputs and an unchanged committed range the result is
// identical across calls.
func (s *Store) ReplayEvents(ctx context.Context, q ReplayQuery) ([]domain.Event, error) {
	if q.AfterEventID < 0 {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "after_event_id must be >= 0")
	}
	if q.ReplayUntil < q.AfterEventID {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "replay_until must be >= after_event_id")
	}
	if q.Limit <= 0 {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "limit must be > 0")
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT event_id, ts, name, channel_id, topic_id, topic_id2, entity_type, entity_id, data
		FROM events
		WHERE event_id > ? AND event_id <= ?
	`)
	args := []any{q.AfterEventID, q.ReplayUntil}

	if len(q.ChannelIDs) > 0 || len(q.TopicIDs) > 0 {
		var clauses []string
		if len(q.ChannelIDs) > 0 {
			clauses = append(clauses, "channel_id IN ("+placeholders(len(q.ChannelIDs))+")")
			for _, id := range q.ChannelIDs {
				args = append(args, id)
			}
		}
		if len(q.TopicIDs) > 0 {
			ph := placeholders(len(q.TopicIDs))
			clauses = append(clauses, "topic_id IN ("+ph+")", "topic_id2 IN ("+ph+")")
			for i := 0; i < 2; i++ {
				for _, id := range q.TopicIDs {
					args = append(args, id)
				}
			}
		}
		sb.WriteString(" AND (" + strings.Join(clauses, " OR ") + ")")
	}

	sb.WriteString(" ORDER BY event_id ASC LIMIT ?")
	args = append(args, q.Limit)

	rows, err := s.reader.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("store: replay events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: replay events: %w", err)
	}
	return out, nil
}

// GetEvents reads specific committed events by id, ascending. Used by the
// distributor to load freshly committed rows for fan-out.
func (s *Store) GetEvents(ctx context.Context, fromID, toID int64) ([]domain.Event, error) {
	if toID < fromID {
		return nil, nil
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT event_id, ts, name, channel_id, topic_id, topic_id2, entity_type, entity_id, data
		FROM events
		WHERE event_id >= ? AND event_id <= ?
		ORDER BY event_id ASC
	`, fromID, toID)
	if err != nil {
		return nil, fmt.Errorf("store: get events: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: get events: %w", err)
	}
	return out, nil
}

// MaxEventID returns the highest committed event id, or 0 for an empty
// log. Sessions freeze this value at handshake as their replay boundary.
func (s *Store) MaxEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := s.reader.QueryRowContext(ctx, "SELECT MAX(event_id) FROM events").Scan(&id); err != nil {
		return 0, fmt.Errorf("store: max event id: %w", err)
	}
	if !id.Valid {
		return 0, nil
	}
	return id.Int64, nil
}

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var (
		ev                           domain.Event
		ts, data                     string
		channelID, topicID, topicID2 sql.NullString
	)
	if err := rows.Scan(&ev.EventID, &ts, &ev.Name, &channelID, &topicID, &topicID2, &ev.Entity.Type, &ev.Entity.ID, &data); err != nil {
		return domain.Event{}, fmt.Errorf("store: scan event: %w", err)
	}
	t, err := parseTime(ts)
	if err != nil {
		return domain.Event{}, fmt.Errorf("store: parse event ts: %w", err)
	}
	ev.TS = t
	ev.Scope = domain.EventScope{
		ChannelID: channelID.String,
		TopicID:   topicID.String,
		TopicID2:  topicID2.String,
	}
	ev.Data = json.RawMessage(data)
	return ev, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
