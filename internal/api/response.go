package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/phosphorco/agenthub/internal/domain"
)

// ErrorResponse is the standard error envelope returned to clients. Code
// is drawn from the kernel's error taxonomy.
type ErrorResponse struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// JSON writes a JSON response with the given HTTP status code.
// If encoding fails the error is logged, but the status code has already
// been sent on the wire so the client will receive the original status
// with a potentially truncated body.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)

	if data == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response",
			"error", err,
		)
	}
}

// Error writes a standardised error response.
func Error(w http.ResponseWriter, status int, code string, message string) {
	JSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// ErrorWithDetails writes a standardised error response that includes
// additional structured details.
func ErrorWithDetails(w http.ResponseWriter, status int, code string, message string, details interface{}) {
	JSON(w, status, ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	})
}

// KernelError projects a typed kernel error to the wire. Unclassified
// failures are logged and reported as internal-error without detail.
func KernelError(w http.ResponseWriter, err error) {
	e := domain.AsError(err)
	if e == nil {
		slog.Error("unclassified handler error", "error", err)
		Error(w, http.StatusInternalServerError, string(domain.ErrKindInternal), "internal error")
		return
	}

	switch e.Kind {
	case domain.ErrKindInvalidInput:
		Error(w, http.StatusBadRequest, string(e.Kind), e.Message)
	case domain.ErrKindPayloadTooLarge:
		Error(w, http.StatusRequestEntityTooLarge, string(e.Kind), e.Message)
	case domain.ErrKindMissingAuth, domain.ErrKindInvalidAuth:
		Error(w, http.StatusUnauthorized, string(e.Kind), e.Message)
	case domain.ErrKindNotFound:
		Error(w, http.StatusNotFound, string(e.Kind), e.Message)
	case domain.ErrKindVersionConflict:
		ErrorWithDetails(w, http.StatusConflict, string(e.Kind), e.Message,
			map[string]int64{"current_version": e.CurrentVersion})
	case domain.ErrKindCrossChannelMove:
		Error(w, http.StatusConflict, string(e.Kind), e.Message)
	case domain.ErrKindRateLimited:
		if e.RetryAfterSec > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(e.RetryAfterSec))
		}
		Error(w, http.StatusTooManyRequests, string(e.Kind), e.Message)
	case domain.ErrKindStoreBusy:
		Error(w, http.StatusServiceUnavailable, string(e.Kind), e.Message)
	default:
		slog.Error("internal handler error", "error", err)
		Error(w, http.StatusInternalServerError, string(domain.ErrKindInternal), "internal error")
	}
}
