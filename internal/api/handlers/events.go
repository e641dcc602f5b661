package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/store"
)

// EventsHandler serves GET /events — the replay query over HTTP, for
// clients that want history without holding a WebSocket open.
type EventsHandler struct {
	store *store.Store
}

// NewEventsHandler creates the handler.
func NewEventsHandler(st *store.Store) *EventsHandler {
	return &EventsHandler{store: st}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after, ok := parseInt64Param(w, q.Get("after_event_id"), 0, "after_event_id")
	if !ok {
		return
	}

	until, ok := parseInt64Param(w, q.Get("until"), -1, "until")
	if !ok {
		return
	}
	if until < 0 {
		max, err := h.store.MaxEventID(r.Context())
		if err != nil {
			api.KernelError(w, err)
			return
		}
		until = max
	}

	limit := 500
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 5000 {
			api.Error(w, http.StatusBadRequest, string(domain.ErrKindInvalidInput), "limit must be in [1, 5000]")
			return
		}
		limit = n
	}

	if until < after {
		api.JSON(w, http.StatusOK, map[string]any{"events": []domain.Event{}, "until": until})
		return
	}

	events, err := h.store.ReplayEvents(r.Context(), store.ReplayQuery{
		AfterEventID: after,
		ReplayUntil:  until,
		ChannelIDs:   splitIDs(q.Get("channel_ids")),
		TopicIDs:     splitIDs(q.Get("topic_ids")),
		Limit:        limit,
	})
	if err != nil {
		api.KernelError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	api.JSON(w, http.StatusOK, map[string]any{"events": events, "until": until})
}

func parseInt64Param(w http.ResponseWriter, raw string, fallback int64, name string) (int64, bool) {
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		api.Error(w, http.StatusBadRequest, string(domain.ErrKindInvalidInput), name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func splitIDs(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
