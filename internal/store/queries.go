package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/phosphorco/agenthub/internal/domain"
)

// The read surface runs against the read-only handle so listings proceed
// concurrently with mutations.

// ListChannels returns all channels ordered by name.
func (s *Store) ListChannels(ctx context.Context) ([]domain.Channel, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, name, description, created_at FROM channels ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list channels: %w", err)
	}
	defer rows.Close()

	var out []domain.Channel
	for rows.Next() {
		var (
			ch      domain.Channel
			created string
		)
		if err := rows.Scan(&ch.ID, &ch.Name, &ch.Description, &created); err != nil {
			return nil, fmt.Errorf("store: scan channel: %w", err)
		}
		if ch.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("store: parse channel created_at: %w", err)
		}
		out = append(out, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list channels: %w", err)
	}
	return out, nil
}

// GetChannel fetches a channel by id.
func (s *Store) GetChannel(ctx context.Context, channelID string) (*domain.Channel, error) {
	var (
		ch      domain.Channel
		created string
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT id, name, description, created_at FROM channels WHERE id = ?
	`, channelID).Scan(&ch.ID, &ch.Name, &ch.Description, &created)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.ErrKindNotFound, "channel %s not found", channelID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get channel: %w", err)
	}
	if ch.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store: parse channel created_at: %w", err)
	}
	return &ch, nil
}

// ListTopics returns a channel's topics ordered by creation.
func (s *Store) ListTopics(ctx context.Context, channelID string) ([]domain.Topic, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, channel_id, title, created_at, updated_at
		FROM topics WHERE channel_id = ?
		ORDER BY created_at ASC, id ASC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	defer rows.Close()

	var out []domain.Topic
	for rows.Next() {
		var (
			tp               domain.Topic
			created, updated string
		)
		if err := rows.Scan(&tp.ID, &tp.ChannelID, &tp.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("store: scan topic: %w", err)
		}
		if tp.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("store: parse topic created_at: %w", err)
		}
		if tp.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("store: parse topic updated_at: %w", err)
		}
		out = append(out, tp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	return out, nil
}

// GetTopic fetches a topic by id.
func (s *Store) GetTopic(ctx context.Context, topicID string) (*domain.Topic, error) {
	var (
		tp               domain.Topic
		created, updated string
	)
	err := s.reader.QueryRowContext(ctx, `
		SELECT id, channel_id, title, created_at, updated_at FROM topics WHERE id = ?
	`, topicID).Scan(&tp.ID, &tp.ChannelID, &tp.Title, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, domain.NewError(domain.ErrKindNotFound, "topic %s not found", topicID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get topic: %w", err)
	}
	if tp.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("store: parse topic created_at: %w", err)
	}
	if tp.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("store: parse topic updated_at: %w", err)
	}
	return &tp, nil
}

// ListMessages returns a topic's messages (tombstones included) with
// seq > afterSeq, ascending, capped at limit.
func (s *Store) ListMessages(ctx context.Context, topicID string, afterSeq int64, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, seq, topic_id, channel_id, sender, content_raw, version, created_at, edited_at, deleted_at, deleted_by
		FROM messages WHERE topic_id = ? AND seq > ?
		ORDER BY seq ASC LIMIT ?
	`, topicID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []domain.Message
	for rows.Next() {
		msg, err := scanMessageRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	return out, nil
}

// GetMessage fetches a message by id.
func (s *Store) GetMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	row := s.reader.QueryRowContext(ctx, `
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

// ListAttachments returns a topic's attachments ordered by creation.
func (s *Store) ListAttachments(ctx context.Context, topicID string) ([]domain.TopicAttachment, error) {
	rows, err := s.reader.QueryContext(ctx, `
		SELECT id, topic_id, kind, key, value_json, dedupe_key, source_message_id, created_at
		FROM topic_attachments WHERE topic_id = ?
		ORDER BY created_at ASC, id ASC
	`, topicID)
	if err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	defer rows.Close()

	var out []domain.TopicAttachment
	for rows.Next() {
		att, err := scanAttachmentRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *att)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list attachments: %w", err)
	}
	return out, nil
}
