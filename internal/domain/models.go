package domain

import (
	"time"
)

// Limits enforced by the mutation kernel before any row is written.
const (
	// MaxContentBytes is the maximum size of a message body (64 KiB).
	MaxContentBytes = 64 * 1024

	// MaxAttachmentValueBytes is the maximum size of an attachment's
	// value_json payload (16 KiB).
	MaxAttachmentValueBytes = 16 * 1024
)

// TombstoneContent replaces the body of a logically deleted message.
const TombstoneContent = "[deleted]"

// ProtocolVersion is the hub wire protocol version advertised in
// server.json and /health. Clients reject a mismatch.
const ProtocolVersion = 1

// SchemaVersion is the current store schema version recorded in the meta
// table.
const SchemaVersion = 1

// Channel is a top-level routing bucket for topics.
type Channel struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// Topic is a conversation thread inside a channel. (channel_id, title) is
// unique.
type Topic struct {
	ID        string    `json:"id" db:"id"`
	ChannelID string    `json:"channel_id" db:"channel_id"`
	Title     string    `json:"title" db:"title"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Message is a single posted message. Messages are never hard-deleted; a
// delete tombstones the row (DeletedAt/DeletedBy set, content replaced)
// and bumps Version. Version starts at 1 and advances by exactly one on
// every edit, tombstone delete, and retopic of the message.
type Message struct {
	ID        string     `json:"id" db:"id"`
	Seq       int64      `json:"seq" db:"seq"`
	TopicID   string     `json:"topic_id" db:"topic_id"`
	ChannelID string     `json:"channel_id" db:"channel_id"`
	Sender    string     `json:"sender" db:"sender"`
	Content   string     `json:"content" db:"content_raw"`
	Version   int64      `json:"version" db:"version"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty" db:"edited_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
	DeletedBy string     `json:"deleted_by,omitempty" db:"deleted_by"`
}

// Deleted reports whether the message has been tombstoned.
func (m *Message) Deleted() bool {
	return m.DeletedAt != nil
}

// TopicAttachment is a small structured value pinned to a topic, usually
// produced by enriching a message. Uniqueness over
// (topic_id, kind, coalesce(key,''), dedupe_key) is the dedup contract: a
// second insert with the same tuple returns the existing row and emits no
// event.
type TopicAttachment struct {
	ID              string    `json:"id" db:"id"`
	TopicID         string    `json:"topic_id" db:"topic_id"`
	Kind            string    `json:"kind" db:"kind"`
	Key             string    `json:"key,omitempty" db:"key"`
	ValueJSON       []byte    `json:"value" db:"value_json"`
	DedupeKey       string    `json:"dedupe_key" db:"dedupe_key"`
	SourceMessageID string    `json:"source_message_id,omitempty" db:"source_message_id"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// RetopicMode selects which messages move when retopicking from an anchor.
type RetopicMode string

const (
	// RetopicOne moves only the anchor message.
	RetopicOne RetopicMode = "one"
	// RetopicLater moves the anchor and every later message in the topic.
	RetopicLater RetopicMode = "later"
	// RetopicAll moves every message in the topic.
	RetopicAll RetopicMode = "all"
)

// Valid reports whether the mode is one of the three known values.
func (m RetopicMode) Valid() bool {
	switch m {
	case RetopicOne, RetopicLater, RetopicAll:
		return true
	}
	return false
}
