package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"
)

// RecoveryMiddleware turns a panic in a downstream handler into a logged
// internal-error response instead of a dead connection. It sits
// outermost in the chain so nothing above it can be skipped. Panics on
// hijacked WebSocket connections cannot be answered with a status code;
// the write below then fails silently and the session just drops.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}

			slog.Error("handler panic",
				"panic", rec,
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"stack", string(debug.Stack()),
			)

			writeError(w, http.StatusInternalServerError, "internal-error", "internal server error")
		}()

		next.ServeHTTP(w, r)
	})
}
