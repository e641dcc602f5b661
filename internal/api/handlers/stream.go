package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/phosphorco/agenthub/internal/api/middleware"
	"github.com/phosphorco/agenthub/internal/streaming"
)

// newUpgrader creates a websocket.Upgrader. The hub binds to loopback
// and authenticates by token, so all origins are accepted; browser-based
// agents carry the token like everyone else.
func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}
}

// StreamHandler handles GET /api/v1/ws -- upgrades to WebSocket. The
// route sits outside the HTTP auth middleware: auth failures must be
// reported on the socket with close code 4401, which requires the
// upgrade to complete first.
type StreamHandler struct {
	dist       *streaming.Distributor
	auth       *middleware.AuthMiddleware
	instanceID string
	upgrader   websocket.Upgrader
}

// NewStreamHandler creates the WebSocket endpoint handler.
func NewStreamHandler(dist *streaming.Distributor, auth *middleware.AuthMiddleware, instanceID string) *StreamHandler {
	return &StreamHandler{
		dist:       dist,
		auth:       auth,
		instanceID: instanceID,
		upgrader:   newUpgrader(),
	}
}

func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	token := r.URL.Query().Get("token")
	if token == "" || !h.auth.TokenValid(token) {
		msg := websocket.FormatCloseMessage(streaming.CloseUnauthorized, "invalid credentials")
		_ = conn.WriteMessage(websocket.CloseMessage, msg)
		conn.Close()
		return
	}

	streaming.ServeSession(r.Context(), conn, h.dist, h.instanceID, slog.Default())
}
