package api

import (
	"context"
	"net/http"
	"time"

	"github.com/docfox/docfox/internal/log"
)

// healthCheckTimeout bounds each dependency probe.
const healthCheckTimeout = 5 * time.Second

// healthHandler reports whether the service and its dependencies are
// usable. The vector store is required; the embedder check is skipped
// when no embedder was configured.
type healthHandler struct {
	index    pinger
	embedder pinger
	ingest   ingestManager
	logger   log.Logger
}

// healthResponse is the wire shape of GET /health.
type healthResponse struct {
	Status      string `json:"status"`
	Database    string `json:"database"`
	Embedder    string `json:"embedder,omitempty"`
	ActiveTasks int    `json:"active_tasks"`
}

func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:      "ok",
		Database:    "ok",
		ActiveTasks: h.ingest.Active(),
	}
	status := http.StatusOK

	if err := h.index.Ping(ctx); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		resp.Database = "unavailable"
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}

	if h.embedder != nil {
		resp.Embedder = "ok"
		if err := h.embedder.Ping(ctx); err != nil {
			h.logger.Warn("embedder health check failed", "error", err)
			resp.Embedder = "unavailable"
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}
