package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/store"
)

// API is the typed HTTP mutation client. It is independent of the event
// stream: callers usually pair one API with one streaming Client over
// the same descriptor.
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI creates a mutation client for a hub base URL.
func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// CreateChannel creates a channel.
func (a *API) CreateChannel(ctx context.Context, name, description string) (*store.CreateChannelResult, error) {
	var res store.CreateChannelResult
	err := a.do(ctx, http.MethodPost, "/api/v1/channels",
		map[string]any{"name": name, "description": description}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// CreateTopic creates a topic in a channel.
func (a *API) CreateTopic(ctx context.Context, channelID, title string) (*store.CreateTopicResult, error) {
	var res store.CreateTopicResult
	err := a.do(ctx, http.MethodPost, "/api/v1/channels/"+channelID+"/topics",
		map[string]any{"title": title}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// RenameTopic retitles a topic.
func (a *API) RenameTopic(ctx context.Context, topicID, title string) (*store.RenameTopicResult, error) {
	var res store.RenameTopicResult
	err := a.do(ctx, http.MethodPatch, "/api/v1/topics/"+topicID,
		map[string]any{"title": title}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// SendMessage posts a message to a topic.
func (a *API) SendMessage(ctx context.Context, topicID, sender, content string) (*store.MessageResult, error) {
	var res store.MessageResult
	err := a.do(ctx, http.MethodPost, "/api/v1/topics/"+topicID+"/messages",
		map[string]any{"sender": sender, "content": content}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// EditMessage replaces a message body, optionally guarded by
// expectedVersion.
func (a *API) EditMessage(ctx context.Context, messageID, content string, expectedVersion *int64) (*store.MessageResult, error) {
	body := map[string]any{"content": content}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	var res store.MessageResult
	if err := a.do(ctx, http.MethodPatch, "/api/v1/messages/"+messageID, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// DeleteMessage tombstones a message; repeat deletes are no-ops.
func (a *API) DeleteMessage(ctx context.Context, messageID, actor string, expectedVersion *int64) (*store.DeleteMessageResult, error) {
	body := map[string]any{"actor": actor}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	var res store.DeleteMessageResult
	if err := a.do(ctx, http.MethodDelete, "/api/v1/messages/"+messageID, body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// RetopicMessage moves messages to another topic in the same channel.
func (a *API) RetopicMessage(ctx context.Context, messageID, toTopicID string, mode domain.RetopicMode, expectedVersion *int64) (*store.RetopicResult, error) {
	body := map[string]any{"to_topic_id": toTopicID, "mode": string(mode)}
	if expectedVersion != nil {
		body["expected_version"] = *expectedVersion
	}
	var res store.RetopicResult
	if err := a.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID+"/retopic", body, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// AddAttachment pins a structured value to a topic with deduplication.
func (a *API) AddAttachment(ctx context.Context, topicID, kind, key string, value json.RawMessage, dedupeKey, sourceMessageID string) (*store.AddAttachmentResult, error) {
	var res store.AddAttachmentResult
	err := a.do(ctx, http.MethodPost, "/api/v1/topics/"+topicID+"/attachments", map[string]any{
		"kind":              kind,
		"key":               key,
		"value":             value,
		"dedupe_key":        dedupeKey,
		"source_message_id": sourceMessageID,
	}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// EnrichMessage appends a message.enriched event.
func (a *API) EnrichMessage(ctx context.Context, messageID string, enrichment map[string]any) (*store.EnrichMessageResult, error) {
	var res store.EnrichMessageResult
	err := a.do(ctx, http.MethodPost, "/api/v1/messages/"+messageID+"/enrich",
		map[string]any{"enrichment": enrichment}, &res)
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// do performs one JSON request, projecting hub error envelopes into
// MutationError values.
func (a *API) do(ctx context.Context, method, path string, body, target any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("client: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return decodeMutationError(resp)
	}
	if target == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}

func decodeMutationError(resp *http.Response) error {
	var envelope struct {
		Error   string `json:"error"`
		Code    string `json:"code"`
		Details struct {
			CurrentVersion int64 `json:"current_version"`
		} `json:"details"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return &MutationError{
			StatusCode: resp.StatusCode,
			Code:       "internal-error",
			Message:    fmt.Sprintf("http %d with unreadable body", resp.StatusCode),
		}
	}
	return &MutationError{
		StatusCode:     resp.StatusCode,
		Code:           envelope.Code,
		Message:        envelope.Error,
		CurrentVersion: envelope.Details.CurrentVersion,
	}
}
