package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/phosphorco/agenthub/internal/domain"
)

// migrations holds one DDL script per schema version, applied in order.
// Version N's script brings a version N-1 store up to N. Scripts must be
// idempotent-safe to interrupt: each runs inside one transaction.
var migrations = []string{
	// v1 — initial schema.
	`
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS channels (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	description TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS topics (
	id         TEXT PRIMARY KEY,
	channel_id TEXT NOT NULL REFERENCES channels(id),
	title      TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	UNIQUE (channel_id, title)
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	seq         INTEGER NOT NULL,
	topic_id    TEXT NOT NULL REFERENCES topics(id),
	channel_id  TEXT NOT NULL REFERENCES channels(id),
	sender      TEXT NOT NULL,
	content_raw TEXT NOT NULL,
	version     INTEGER NOT NULL DEFAULT 1,
	created_at  TEXT NOT NULL,
	edited_at   TEXT,
	deleted_at  TEXT,
	deleted_by  TEXT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_seq ON messages(seq);
CREATE INDEX IF NOT EXISTS idx_messages_topic ON messages(topic_id, seq);

CREATE TABLE IF NOT EXISTS topic_attachments (
	id                TEXT PRIMARY KEY,
	topic_id          TEXT NOT NULL REFERENCES topics(id) ON DELETE CASCADE,
	kind              TEXT NOT NULL,
	key               TEXT,
	value_json        TEXT NOT NULL,
	dedupe_key        TEXT NOT NULL,
	source_message_id TEXT,
	created_at        TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_attachments_dedupe
	ON topic_attachments(topic_id, kind, coalesce(key, ''), dedupe_key);

CREATE TABLE IF NOT EXISTS events (
	event_id    INTEGER PRIMARY KEY AUTOINCREMENT,
	ts          TEXT NOT NULL,
	name        TEXT NOT NULL,
	channel_id  TEXT,
	topic_id    TEXT,
	topic_id2   TEXT,
	entity_type TEXT NOT NULL,
	entity_id   TEXT NOT NULL,
	data        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_channel ON events(channel_id, event_id);
CREATE INDEX IF NOT EXISTS idx_events_topic ON events(topic_id, event_id);
CREATE INDEX IF NOT EXISTS idx_events_topic2 ON events(topic_id2, event_id);

CREATE TRIGGER IF NOT EXISTS events_no_update
BEFORE UPDATE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS events_no_delete
BEFORE DELETE ON events
BEGIN
	SELECT RAISE(ABORT, 'events are append-only');
END;

CREATE TRIGGER IF NOT EXISTS messages_no_delete
BEFORE DELETE ON messages
BEGIN
	SELECT RAISE(ABORT, 'messages cannot be hard-deleted');
END;
`,
}

// migrate brings the schema up to domain.SchemaVersion. A store written
// by a newer binary is rejected rather than downgraded.
func (s *Store) migrate(ctx context.Context) error {
	current, err := s.readSchemaVersion(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return fmt.Errorf("store: schema version %d is newer than this binary supports (%d)", current, len(migrations))
	}

	for v := current; v < len(migrations); v++ {
		tx, err := s.writer.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, migrations[v]); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %d: %w", v+1, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES ('schema_version', ?)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value
		`, strconv.Itoa(v+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record schema version %d: %w", v+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", v+1, err)
		}
	}

	if domain.SchemaVersion != len(migrations) {
		return fmt.Errorf("store: schema version constant %d does not match migration count %d", domain.SchemaVersion, len(migrations))
	}
	return nil
}

// readSchemaVersion returns 0 for a fresh database (no meta table yet).
func (s *Store) readSchemaVersion(ctx context.Context) (int, error) {
	var exists int
	err := s.writer.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'",
	).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("store: probe meta table: %w", err)
	}
	if exists == 0 {
		return 0, nil
	}

	var v string
	err = s.writer.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'schema_version'").Scan(&v)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("store: read schema_version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("store: parse schema_version %q: %w", v, err)
	}
	return n, nil
}
