package middleware

import (
	"net/http"
	"strings"
)

// MaxJSONBodySize is the maximum allowed size for JSON request bodies
// (1 MiB). Message content has its own tighter limit enforced by the
// mutation kernel.
const MaxJSONBodySize int64 = 1 << 20

// BodyLimitMiddleware restricts request body size and rejects a non-JSON
// content type on requests that carry a body. A body sent without a
// Content-Type header is accepted.
func BodyLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > 0 {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !strings.HasPrefix(ct, "application/json") {
				writeError(w, http.StatusUnsupportedMediaType, "invalid-input", "content type must be application/json")
				return
			}
		}
		if r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, MaxJSONBodySize)
		}
		next.ServeHTTP(w, r)
	})
}
