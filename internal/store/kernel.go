package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/phosphorco/agenthub/internal/domain"
)

// CommitPublisher receives the id range of freshly committed events so an
// in-process distributor can fan them out to live sessions. Publish runs
// on the mutating goroutine inside WriteTx.Commit, under the store's
// commit lock, so ranges arrive in strictly ascending id order.
// Implementations must not block.
type CommitPublisher interface {
	PublishCommitted(firstEventID, lastEventID int64)
}

// Publishers fans the post-commit hook out to several consumers in
// order (e.g. the WebSocket distributor and the search indexer).
type Publishers []CommitPublisher

func (ps Publishers) PublishCommitted(firstEventID, lastEventID int64) {
	for _, p := range ps {
		p.PublishCommitted(firstEventID, lastEventID)
	}
}

// SetPublisher wires the post-commit hook. Pass nil to disable fan-out
// (tests that only exercise storage semantics do this).
func (s *Store) SetPublisher(p CommitPublisher) {
	s.publisher = p
}

func (s *Store) publishCommitted(first, last int64) {
	if s.publisher != nil && first > 0 && last >= first {
		s.publisher.PublishCommitted(first, last)
	}
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// CreateChannelResult is returned by CreateChannel.
type CreateChannelResult struct {
	Channel domain.Channel `json:"channel"`
	EventID int64          `json:"event_id"`
}

// CreateTopicResult is returned by CreateTopic.
type CreateTopicResult struct {
	Topic   domain.Topic `json:"topic"`
	EventID int64        `json:"event_id"`
}

// RenameTopicResult is returned by RenameTopic.
type RenameTopicResult struct {
	Topic   domain.Topic `json:"topic"`
	EventID int64        `json:"event_id"`
}

// MessageResult is returned by SendMessage and EditMessage.
type MessageResult struct {
	Message domain.Message `json:"message"`
	EventID int64          `json:"event_id"`
}

// DeleteMessageResult is returned by DeleteMessage. EventID is nil when
// the message was already tombstoned and the call was a no-op.
type DeleteMessageResult struct {
	Message domain.Message `json:"message"`
	EventID *int64         `json:"event_id"`
}

// RetopicResult is returned by RetopicMessage.
type RetopicResult struct {
	AffectedCount int     `json:"affected_count"`
	EventIDs      []int64 `json:"event_ids"`
}

// AddAttachmentResult is returned by AddAttachment. EventID is nil and
// Deduplicated true when an existing row with the same dedup tuple was
// returned instead of a new insert.
type AddAttachmentResult struct {
	Attachment   domain.TopicAttachment `json:"attachment"`
	EventID      *int64                 `json:"event_id"`
	Deduplicated bool                   `json:"deduplicated,omitempty"`
}

// EnrichMessageResult is returned by EnrichMessage.
type EnrichMessageResult struct {
	EventID int64 `json:"event_id"`
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// CreateChannel creates a channel and emits channel.created. Duplicate
// names are rejected.
func (s *Store) CreateChannel(ctx context.Context, name, description string) (*CreateChannelResult, error) {
	if name == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "channel name is required")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ch := domain.Channel{
		ID:          uuid.NewString(),
		Name:        name,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO channels (id, name, description, created_at)
		VALUES (?, ?, ?, ?)
	`, ch.ID, ch.Name, ch.Description, fmtTime(ch.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.NewError(domain.ErrKindInvalidInput, "channel %q already exists", name)
		}
		return nil, fmt.Errorf("store: create channel: %w", err)
	}

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventChannelCreated,
		Scope:  domain.EventScope{ChannelID: ch.ID},
		Entity: domain.EventEntity{Type: "channel", ID: ch.ID},
		Data: map[string]any{
			"channel_id": ch.ID,
			"name":       ch.Name,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit create channel: %w", err)
	}
	return &CreateChannelResult{Channel: ch, EventID: eventID}, nil
}

// CreateTopic creates a topic in a channel and emits topic.created.
// (channel_id, title) must be unique.
func (s *Store) CreateTopic(ctx context.Context, channelID, title string) (*CreateTopicResult, error) {
	if channelID == "" || title == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "channel_id and title are required")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if err := channelExistsTx(ctx, tx.Tx, channelID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	tp := domain.Topic{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO topics (id, channel_id, title, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, tp.ID, tp.ChannelID, tp.Title, fmtTime(tp.CreatedAt), fmtTime(tp.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.NewError(domain.ErrKindInvalidInput, "topic %q already exists in channel", title)
		}
		return nil, fmt.Errorf("store: create topic: %w", err)
	}

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventTopicCreated,
		Scope:  domain.EventScope{ChannelID: channelID, TopicID: tp.ID},
		Entity: domain.EventEntity{Type: "topic", ID: tp.ID},
		Data: map[string]any{
			"topic_id":   tp.ID,
			"channel_id": channelID,
			"title":      title,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit create topic: %w", err)
	}
	return &CreateTopicResult{Topic: tp, EventID: eventID}, nil
}

// RenameTopic changes a topic title and emits topic.renamed with the old
// and new titles.
func (s *Store) RenameTopic(ctx context.Context, topicID, newTitle string) (*RenameTopicResult, error) {
	if topicID == "" || newTitle == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "topic_id and title are required")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tp, err := getTopicTx(ctx, tx.Tx, topicID)
	if err != nil {
		return nil, err
	}

	oldTitle := tp.Title
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE topics SET title = ?, updated_at = ? WHERE id = ?
	`, newTitle, fmtTime(now), topicID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.NewError(domain.ErrKindInvalidInput, "topic %q already exists in channel", newTitle)
		}
		return nil, fmt.Errorf("store: rename topic: %w", err)
	}
	tp.Title = newTitle
	tp.UpdatedAt = now

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventTopicRenamed,
		Scope:  domain.EventScope{ChannelID: tp.ChannelID, TopicID: tp.ID},
		Entity: domain.EventEntity{Type: "topic", ID: tp.ID},
		Data: map[string]any{
			"topic_id":  tp.ID,
			"old_title": oldTitle,
			"new_title": newTitle,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit rename topic: %w", err)
	}
	return &RenameTopicResult{Topic: *tp, EventID: eventID}, nil
}

// SendMessage posts a message to a topic and emits message.created.
func (s *Store) SendMessage(ctx context.Context, topicID, sender, content string) (*MessageResult, error) {
	if topicID == "" || sender == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "topic_id and sender are required")
	}
	if len(content) > domain.MaxContentBytes {
		return nil, domain.NewError(domain.ErrKindPayloadTooLarge, "content exceeds %d bytes", domain.MaxContentBytes)
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tp, err := getTopicTx(ctx, tx.Tx, topicID)
	if err != nil {
		return nil, err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) + 1 FROM messages").Scan(&seq); err != nil {
		return nil, fmt.Errorf("store: next message seq: %w", err)
	}

	msg := domain.Message{
		ID:        uuid.NewString(),
		Seq:       seq,
		TopicID:   tp.ID,
		ChannelID: tp.ChannelID,
		Sender:    sender,
		Content:   content,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO messages (id, seq, topic_id, channel_id, sender, content_raw, version, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, msg.ID, msg.Seq, msg.TopicID, msg.ChannelID, msg.Sender, msg.Content, msg.Version, fmtTime(msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: insert message: %w", err)
	}

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventMessageCreated,
		Scope:  domain.EventScope{ChannelID: msg.ChannelID, TopicID: msg.TopicID},
		Entity: domain.EventEntity{Type: "message", ID: msg.ID},
		Data: map[string]any{
			"message_id": msg.ID,
			"topic_id":   msg.TopicID,
			"channel_id": msg.ChannelID,
			"sender":     msg.Sender,
			"content":    msg.Content,
			"version":    msg.Version,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit send message: %w", err)
	}
	return &MessageResult{Message: msg, EventID: eventID}, nil
}

// EditMessage replaces a message body and emits message.edited. When
// expectedVersion is non-nil it is checked against the current version
// inside the transaction; a mismatch returns a version-conflict error
// carrying the current version and emits nothing. Editing a tombstoned
// message advances its version but the stored body keeps the tombstone
// marker.
func (s *Store) EditMessage(ctx context.Context, messageID, newContent string, expectedVersion *int64) (*MessageResult, error) {
	if messageID == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "message_id is required")
	}
	if len(newContent) > domain.MaxContentBytes {
		return nil, domain.NewError(domain.ErrKindPayloadTooLarge, "content exceeds %d bytes", domain.MaxContentBytes)
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg, err := getMessageTx(ctx, tx.Tx, messageID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != msg.Version {
		return nil, domain.VersionConflict(msg.Version)
	}

	oldContent := msg.Content
	newVersion := msg.Version + 1
	now := time.Now().UTC()

	stored := newContent
	if msg.Deleted() {
		stored = domain.TombstoneContent
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE messages SET content_raw = ?, version = ?, edited_at = ? WHERE id = ?
	`, stored, newVersion, fmtTime(now), messageID)
	if err != nil {
		return nil, fmt.Errorf("store: edit message: %w", err)
	}
	msg.Content = stored
	msg.Version = newVersion
	msg.EditedAt = &now

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventMessageEdited,
		Scope:  domain.EventScope{ChannelID: msg.ChannelID, TopicID: msg.TopicID},
		Entity: domain.EventEntity{Type: "message", ID: msg.ID},
		Data: map[string]any{
			"message_id":  msg.ID,
			"old_content": oldContent,
			"new_content": newContent,
			"version":     newVersion,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit edit message: %w", err)
	}
	return &MessageResult{Message: *msg, EventID: eventID}, nil
}

// DeleteMessage tombstones a message and emits message.deleted. A repeat
// delete is idempotent: the current state is returned with a nil event id
// and nothing changes, preserving the first deleter.
func (s *Store) DeleteMessage(ctx context.Context, messageID, actor string, expectedVersion *int64) (*DeleteMessageResult, error) {
	if messageID == "" || actor == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "message_id and actor are required")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg, err := getMessageTx(ctx, tx.Tx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.Deleted() {
		return &DeleteMessageResult{Message: *msg}, nil
	}
	if expectedVersion != nil && *expectedVersion != msg.Version {
		return nil, domain.VersionConflict(msg.Version)
	}

	newVersion := msg.Version + 1
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE messages
		SET content_raw = ?, version = ?, edited_at = ?, deleted_at = ?, deleted_by = ?
		WHERE id = ?
	`, domain.TombstoneContent, newVersion, fmtTime(now), fmtTime(now), actor, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: delete message: %w", err)
	}
	msg.Content = domain.TombstoneContent
	msg.Version = newVersion
	msg.EditedAt = &now
	msg.DeletedAt = &now
	msg.DeletedBy = actor

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventMessageDeleted,
		Scope:  domain.EventScope{ChannelID: msg.ChannelID, TopicID: msg.TopicID},
		Entity: domain.EventEntity{Type: "message", ID: msg.ID},
		Data: map[string]any{
			"message_id": msg.ID,
			"deleted_by": actor,
			"version":    newVersion,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit delete message: %w", err)
	}
	return &DeleteMessageResult{Message: *msg, EventID: &eventID}, nil
}

// RetopicMessage moves messages from the anchor's topic to another topic
// in the same channel and emits one message.moved_topic per affected
// message. Mode selects the affected set; moving onto the current topic
// is an idempotent no-op.
func (s *Store) RetopicMessage(ctx context.Context, anchorMessageID, toTopicID string, mode domain.RetopicMode, expectedVersion *int64) (*RetopicResult, error) {
	if anchorMessageID == "" || toTopicID == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "message_id and to_topic_id are required")
	}
	if !mode.Valid() {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "mode must be one, later, or all")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	anchor, err := getMessageTx(ctx, tx.Tx, anchorMessageID)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != anchor.Version {
		return nil, domain.VersionConflict(anchor.Version)
	}

	target, err := getTopicTx(ctx, tx.Tx, toTopicID)
	if err != nil {
		return nil, err
	}
	if target.ChannelID != anchor.ChannelID {
		return nil, domain.NewError(domain.ErrKindCrossChannelMove,
			"target topic is in a different channel")
	}
	if anchor.TopicID == toTopicID {
		return &RetopicResult{AffectedCount: 0, EventIDs: []int64{}}, nil
	}

	var affected []*domain.Message
	switch mode {
	case domain.RetopicOne:
		affected = []*domain.Message{anchor}
	case domain.RetopicLater:
		affected, err = listTopicMessagesTx(ctx, tx.Tx, anchor.TopicID, anchor.Seq)
	case domain.RetopicAll:
		affected, err = listTopicMessagesTx(ctx, tx.Tx, anchor.TopicID, 0)
	}
	if err != nil {
		return nil, err
	}

	oldTopicID := anchor.TopicID
	eventIDs := make([]int64, 0, len(affected))
	for _, m := range affected {
		newVersion := m.Version + 1
		if _, err := tx.ExecContext(ctx, `
			UPDATE messages SET topic_id = ?, version = ? WHERE id = ?
		`, toTopicID, newVersion, m.ID); err != nil {
			return nil, fmt.Errorf("store: retopic message %s: %w", m.ID, err)
		}

		eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
			Name: domain.EventMessageMovedTopic,
			Scope: domain.EventScope{
				ChannelID: m.ChannelID,
				TopicID:   oldTopicID,
				TopicID2:  toTopicID,
			},
			Entity: domain.EventEntity{Type: "message", ID: m.ID},
			Data: map[string]any{
				"message_id":   m.ID,
				"old_topic_id": oldTopicID,
				"new_topic_id": toTopicID,
				"channel_id":   m.ChannelID,
				"mode":         string(mode),
				"version":      newVersion,
			},
		})
		if err != nil {
			return nil, err
		}
		eventIDs = append(eventIDs, eventID)
	}

	var firstEventID, lastEventID int64
	if len(eventIDs) > 0 {
		firstEventID, lastEventID = eventIDs[0], eventIDs[len(eventIDs)-1]
	}
	if err := tx.Commit(firstEventID, lastEventID); err != nil {
		return nil, fmt.Errorf("store: commit retopic: %w", err)
	}
	return &RetopicResult{AffectedCount: len(affected), EventIDs: eventIDs}, nil
}

// AddAttachment pins a structured value to a topic and emits
// topic.attachment_added. A second insert with the same
// (topic_id, kind, key, dedupe_key) returns the existing row, flags it
// deduplicated, and emits nothing.
func (s *Store) AddAttachment(ctx context.Context, topicID, kind, key string, valueJSON []byte, dedupeKey, sourceMessageID string) (*AddAttachmentResult, error) {
	if topicID == "" || kind == "" || dedupeKey == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "topic_id, kind, and dedupe_key are required")
	}
	if len(valueJSON) > domain.MaxAttachmentValueBytes {
		return nil, domain.NewError(domain.ErrKindPayloadTooLarge, "value exceeds %d bytes", domain.MaxAttachmentValueBytes)
	}
	if !json.Valid(valueJSON) {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "value must be valid JSON")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	tp, err := getTopicTx(ctx, tx.Tx, topicID)
	if err != nil {
		return nil, err
	}

	if existing, err := getAttachmentByDedupeTx(ctx, tx.Tx, topicID, kind, key, dedupeKey); err != nil {
		return nil, err
	} else if existing != nil {
		return &AddAttachmentResult{Attachment: *existing, Deduplicated: true}, nil
	}

	att := domain.TopicAttachment{
		ID:              uuid.NewString(),
		TopicID:         topicID,
		Kind:            kind,
		Key:             key,
		ValueJSON:       valueJSON,
		DedupeKey:       dedupeKey,
		SourceMessageID: sourceMessageID,
		CreatedAt:       time.Now().UTC(),
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO topic_attachments (id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, att.ID, att.TopicID, att.Kind, nullString(att.Key), string(att.ValueJSON), att.DedupeKey, nullString(att.SourceMessageID), fmtTime(att.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: insert attachment: %w", err)
	}

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventTopicAttachmentAdded,
		Scope:  domain.EventScope{ChannelID: tp.ChannelID, TopicID: topicID},
		Entity: domain.EventEntity{Type: "attachment", ID: att.ID},
		Data: map[string]any{
			"attachment_id": att.ID,
			"topic_id":      topicID,
			"kind":          kind,
			"key":           key,
			"dedupe_key":    dedupeKey,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit add attachment: %w", err)
	}
	return &AddAttachmentResult{Attachment: att, EventID: &eventID}, nil
}

// EnrichMessage appends a message.enriched event carrying enrichment data
// without touching the message row; the version does not advance.
func (s *Store) EnrichMessage(ctx context.Context, messageID string, enrichment map[string]any) (*EnrichMessageResult, error) {
	if messageID == "" {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "message_id is required")
	}
	if enrichment == nil {
		return nil, domain.NewError(domain.ErrKindInvalidInput, "enrichment must be a key/value object")
	}

	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	msg, err := getMessageTx(ctx, tx.Tx, messageID)
	if err != nil {
		return nil, err
	}

	eventID, err := InsertEvent(ctx, tx.Tx, EventRecord{
		Name:   domain.EventMessageEnriched,
		Scope:  domain.EventScope{ChannelID: msg.ChannelID, TopicID: msg.TopicID},
		Entity: domain.EventEntity{Type: "message", ID: msg.ID},
		Data: map[string]any{
			"message_id": msg.ID,
			"enrichment": enrichment,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(eventID, eventID); err != nil {
		return nil, fmt.Errorf("store: commit enrich message: %w", err)
	}
	return &EnrichMessageResult{EventID: eventID}, nil
}

// ---------------------------------------------------------------------------
// Transaction-scoped lookups
// ---------------------------------------------------------------------------

func channelExistsTx(ctx context.Context, tx *sql.Tx, channelID string) error {
	var one int
	err := tx.QueryRowContext(ctx, "SELECT 1 FROM channels WHERE id = ?", channelID).Scan(&one)
	if err == sql.ErrNoRows {
		return domain.NewError(domain.ErrKindNotFound, "channel %s not found", channelID)
	}
	if err != nil {
		return fmt.Errorf("store: lookup channel: %w", err)
	}
	return nil
}

func getTopicTx(ctx context.Context, tx *sql.Tx, topicID string) (*domain.Topic, error) {
	var (
		tp               domain.Topic
		created, updated string
	)
	err := tx.QueryRowContext(ctx, `
		SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE id = ?
	`, topicID).Scan(&tp.ID, &tp.ChannelID, &tp.Title, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.ErrKindNotFound, "topic %s not found", topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: lookup topic: %w", err)
	}
	if tp.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store: parse topic created_at: %w", err)
	}
	if tp.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("store: parse topic updated_at: %w", err)
	}
	return &tp, nil
}

func getMessageTx(ctx context.Context, tx *sql.Tx, messageID string) (*domain.Message, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, seq, topic_id, channel_id, sender, content_raw, version, created_at, edited_at, deleted_at, deleted_by
		FROM messages WHERE id = ?
	`, messageID)
	msg, err := scanMessageRow(row)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.ErrKindNotFound, "message %s not found", messageID)
	}
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// listTopicMessagesTx returns the topic's messages with seq >= minSeq in
// ascending seq order. minSeq 0 selects the whole topic.
func listTopicMessagesTx(ctx context.Context, tx *sql.Tx, topicID string, minSeq int64) ([]*domain.Message, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, seq, topic_id, channel_id, sender, content_raw, version, created_at, edited_at, deleted_at, deleted_by
		FROM messages WHERE topic_id = ? AND seq >= ?
		ORDER BY seq ASC
	`, topicID, minSeq)
	if err != nil {
		return nil, fmt.Errorf("store: list topic messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list topic messages: %w", err)
	}
	return out, nil
}

func getAttachmentByDedupeTx(ctx context.Context, tx *sql.Tx, topicID, kind, key, dedupeKey string) (*domain.TopicAttachment, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at
		FROM topic_attachments
		WHERE topic_id = ? AND kind = ? AND coalesce(key, '') = ? AND dedupe_key = ?
	`, topicID, kind, key, dedupeKey)
	att, err := scanAttachmentRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return att, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessageRow(row rowScanner) (*domain.Message, error) {
	var (
		msg                        domain.Message
		created                    string
		edited, deleted, deletedBy sql.NullString
	)
	err := row.Scan(&msg.ID, &msg.Seq, &msg.TopicID, &msg.ChannelID, &msg.Sender, &msg.Content, &msg.Version, &created, &edited, &deleted, &deletedBy)
	if err != nil {
		return nil, err
	}
	if msg.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store: parse message created_at: %w", err)
	}
	if msg.EditedAt, err = parseNullTime(edited); err != nil {
		return nil, fmt.Errorf("store: parse message edited_at: %w", err)
	}
	if msg.DeletedAt, err = parseNullTime(deleted); err != nil {
		return nil, fmt.Errorf("store: parse message deleted_at: %w", err)
	}
	msg.DeletedBy = deletedBy.String
	return &msg, nil
}

func scanAttachmentRow(row rowScanner) (*domain.TopicAttachment, error) {
	var (
		att            domain.TopicAttachment
		key, source    sql.NullString
		value, created string
	)
	err := row.Scan(&att.ID, &att.TopicID, &att.Kind, &key, &value, &att.DedupeKey, &source, &created)
	if err != nil {
		return nil, err
	}
	att.Key = key.String
	att.SourceMessageID = source.String
	att.ValueJSON = []byte(value)
	if att.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store: parse attachment created_at: %w", err)
	}
	return &att, nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure
// from the driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
