package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/domain"
)

// decodeJSON decodes a request body into target, writing the error
// response itself on failure. A body rejected by http.MaxBytesReader
// maps to 413, everything else malformed to 400.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			api.Error(w, http.StatusRequestEntityTooLarge,
				string(domain.ErrKindPayloadTooLarge), "request body too large")
			return false
		}
		api.Error(w, http.StatusBadRequest,
			string(domain.ErrKindInvalidInput), "malformed JSON body")
		return false
	}
	return true
}
