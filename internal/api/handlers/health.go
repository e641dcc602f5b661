package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/phosphorco/agenthub/internal/api"
	"github.com/phosphorco/agenthub/internal/domain"
	"github.com/phosphorco/agenthub/internal/store"
)

// HealthResponse is the JSON body returned by the health endpoint.
// Clients use it to validate a discovered hub before trusting its
// descriptor: a protocol version mismatch or an old schema means the
// workspace needs a different binary.
type HealthResponse struct {
	Status          string `json:"status"`
	InstanceID      string `json:"instance_id"`
	DBID            string `json:"db_id"`
	SchemaVersion   int    `json:"schema_version"`
	ProtocolVersion int    `json:"protocol_version"`
	PID             int    `json:"pid"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
}

// HealthHandler implements GET /api/v1/health.
type HealthHandler struct {
	store      *store.Store
	instanceID string
	startedAt  time.Time
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(st *store.Store, instanceID string, startedAt time.Time) *HealthHandler {
	return &HealthHandler{store: st, instanceID: instanceID, startedAt: startedAt}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	schemaVersion, err := h.store.SchemaVersion(r.Context())
	if err != nil {
		api.KernelError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, HealthResponse{
		Status:          "ok",
		InstanceID:      h.instanceID,
		DBID:            h.store.DBID(),
		SchemaVersion:   schemaVersion,
		ProtocolVersion: domain.ProtocolVersion,
		PID:             os.Getpid(),
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
	})
}
