package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/store"
)

// ChannelHandlers serves channel creation/listing and the channel-scoped
// topic routes.
type ChannelHandlers struct {
	store *store.Store
}

// NewChannelHandlers creates the handler set.
func NewChannelHandlers(st *store.Store) *ChannelHandlers {
	return &ChannelHandlers{store: st}
}

type createChannelRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// CreateChannel handles POST /channels.
func (h *ChannelHandlers) CreateChannel() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req createChannelRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.CreateChannel(r.Context(), req.Name, req.Description)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusCreated, res)
	})
}

// ListChannels handles GET /channels.
func (h *ChannelHandlers) ListChannels() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channels, err := h.store.ListChannels(r.Context())
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, map[string]any{"channels": channels})
	})
}

type createTopicRequest struct {
	Title string `json:"title"`
}

// CreateTopic handles POST /channels/{channel_id}/topics.
func (h *ChannelHandlers) CreateTopic() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channelID := mux.Vars(r)["channel_id"]
		var req createTopicRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		res, err := h.store.CreateTopic(r.Context(), channelID, req.Title)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusCreated, res)
	})
}

// ListTopics handles GET /channels/{channel_id}/topics.
func (h *ChannelHandlers) ListTopics() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		channelID := mux.Vars(r)["channel_id"]
		if _, err := h.store.GetChannel(r.Context(), channelID); err != nil {
			api.KernelError(w, err)
			return
		}
		topics, err := h.store.ListTopics(r.Context(), channelID)
		if err != nil {
			api.KernelError(w, err)
			return
		}
		api.JSON(w, http.StatusOK, map[string]any{"topics": topics})
	})
}
