package handlers

import (
	"net/http"
	"strconv"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/search"
	"github.com/phosphorco/agenthub/internal/store"
)

// SearchHandler serves GET /search over the message full-text index.
// When search is disabled the endpoint reports service unavailability
// rather than an empty result, so clients can tell "no hits" from "not
// indexed".
type SearchHandler struct {
	index *search.Index
	store *store.Store
}

// NewSearchHandler creates the handler. index may be nil when search is
// disabled.
func NewSearchHandler(index *search.Index, st *store.Store) *SearchHandler {
	return &SearchHandler{index: index, store: st}
}

func (h *SearchHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.index == nil {
		api.Error(w, http.StatusServiceUnavailable, string(domain.ErrKindStoreBusy), "search is disabled")
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		api.Error(w, http.StatusBadRequest, string(domain.ErrKindInvalidInput), "q is required")
		return
	}

	limit := 25
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 200 {
			api.Error(w, http.StatusBadRequest, string(domain.ErrKindInvalidInput), "limit must be in [1, 200]")
			return
		}
		limit = n
	}

	hits, err := h.index.Query(q, r.URL.Query().Get("topic_id"), limit)
	if err != nil {
		api.KernelError(w, err)
		return
	}

	// Project hits back through the store so results carry current
	// message state (a hit can race a delete).
	results := make([]map[string]any, 0, len(hits))
	for _, hit := range hits {
		msg, err := h.store.GetMessage(r.Context(), hit.MessageID)
		if err != nil {
			continue
		}
		results = append(results, map[string]any{
			"message": msg,
			"score":   hit.Score,
		})
	}
	api.JSON(w, http.StatusOK, map[string]any{"results": results})
}
