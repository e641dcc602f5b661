package handlers

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/store"
)

// MessageHandlers serves the message mutation and listing routes.
type MessageHandlers struct {
	store *store.Store
}

// NewMessageHandlers creates the handler set.
func NewMessageHandlers(st *store.Store) *MessageHandlers {
	return &MessageHandlers{store: st}
}

type sendMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

// SendMessage handles POST /topics/{topic_id}/messages.
func (h *MessageHandlers) SendMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topicID := mux.Vars(r)["topic_id"]
		var req sendMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.SendMessage(r.Context(), topicID, req.Sender, req.Content)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusCreated, res)
	})
}

// ListMessages handles GET /topics/{topic_id}/messages?after_seq&limit.
func (h *MessageHandlers) ListMessages() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topicID := mux.Vars(r)["topic_id"]
		if _, err := h.store.GetTopic(r.Context(), topicID); err != nil {
			api.KernelError(w, err)
			return
		}

		var afterSeq int64
		if v := r.URL.Query().Get("after_seq"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n < 0 {
				api.Error(w, http.StatusBadRequest, string(domain.ErrKindInvalidInput), "after_seq must be a non-negative integer")
				return
			}
			afterSeq = n
		}
		limit := 100
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 1000 {
				api.Error(w, http.StatusBadRequest, string(domain.ErrKindInvalidInput), "limit must be in [1, 1000]")
				return
			}
			limit = n
		}

		messages, err := h.store.ListMessages(r.Context(), topicID, afterSeq, limit)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, map[string]any{"messages": messages})
	})
}

// GetMessage handles GET /messages/{message_id}.
func (h *MessageHandlers) GetMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg, err := h.store.GetMessage(r.Context(), mux.Vars(r)["message_id"])
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, map[string]any{"message": msg})
	})
}

type editMessageRequest struct {
	Content         string `json:"content"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// EditMessage handles PATCH /messages/{message_id}.
func (h *MessageHandlers) EditMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["message_id"]
		var req editMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.EditMessage(r.Context(), messageID, req.Content, req.ExpectedVersion)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, res)
	})
}

type deleteMessageRequest struct {
	Actor           string `json:"actor"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// DeleteMessage handles DELETE /messages/{message_id}. The delete is a
// tombstone: the row survives with markers set and the body replaced.
func (h *MessageHandlers) DeleteMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["message_id"]
		var req deleteMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.DeleteMessage(r.Context(), messageID, req.Actor, req.ExpectedVersion)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, res)
	})
}

type retopicRequest struct {
	ToTopicID       string `json:"to_topic_id"`
	Mode            string `json:"mode"`
	ExpectedVersion *int64 `json:"expected_version,omitempty"`
}

// RetopicMessage handles POST /messages/{message_id}/retopic.
func (h *MessageHandlers) RetopicMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["message_id"]
		var req retopicRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.RetopicMessage(r.Context(), messageID, req.ToTopicID, domain.RetopicMode(req.Mode), req.ExpectedVersion)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, res)
	})
}

type enrichMessageRequest struct {
	Enrichment map[string]any `json:"enrichment"`
}

// EnrichMessage handles POST /messages/{message_id}/enrich.
func (h *MessageHandlers) EnrichMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		messageID := mux.Vars(r)["message_id"]
		var req enrichMessageRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.EnrichMessage(r.Context(), messageID, req.Enrichment)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, res)
	})
}
