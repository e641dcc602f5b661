package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/store"
)

// TopicHandlers serves topic rename and attachment routes.
type TopicHandlers struct {
	store *store.Store
}

// NewTopicHandlers creates the handler set.
func NewTopicHandlers(st *store.Store) *TopicHandlers {
	return &TopicHandlers{store: st}
}

type renameTopicRequest struct {
	Title string `json:"title"`
}

// RenameTopic handles PATCH /topics/{topic_id}.
func (h *TopicHandlers) RenameTopic() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topicID := mux.Vars(r)["topic_id"]
		var req renameTopicRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.RenameTopic(r.Context(), topicID, req.Title)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, res)
	})
}

type addAttachmentRequest struct {
	Kind            string          `json:"kind"`
	Key             string          `json:"key,omitempty"`
	Value           json.RawMessage `json:"value"`
	DedupeKey       string          `json:"dedupe_key"`
	SourceMessageID string          `json:"source_message_id,omitempty"`
}

// AddAttachment handles POST /topics/{topic_id}/attachments.
func (h *TopicHandlers) AddAttachment() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topicID := mux.Vars(r)["topic_id"]
		var req addAttachmentRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.AddAttachment(r.Context(), topicID, req.Kind, req.Key, req.Value, req.DedupeKey, req.SourceMessageID)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		status := http.StatusCreated
		if res.Deduplicated {
			status = http.StatusOK
		}
		api.JSON(w, status, res)
	})
}

// ListAttachments handles GET /topics/{topic_id}/attachments.
func (h *TopicHandlers) ListAttachments() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topicID := mux.Vars(r)["topic_id"]
		if _, err := h.store.GetTopic(r.Context(), topicID); err != nil {
			api.KernelError(w, err)
			return
		}
		attachments, err := h.store.ListAttachments(r.Context(), topicID)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, map[string]any{"attachments": attachments})
	})
}
