package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docfox/docfox/internal/ingest"
	"github.com/docfox/docfox/internal/log"
)

// maxIngestBody bounds the ingest request body size.
const maxIngestBody = 64 << 10

// ingestHandler serves the ingestion task endpoints. Tasks run in the
// background; these handlers only start, inspect, and cancel them.
type ingestHandler struct {
	manager ingestManager
	logger  log.Logger
}

// taskListResponse is the wire shape of GET /api/ingest/status.
type taskListResponse struct {
	Tasks  []ingest.Task `json:"tasks"`
	Active int           `json:"active"`
}

func (h *ingestHandler) start(w http.ResponseWriter, r *http.Request) {
	var req ingest.Request
	r.Body = http.MaxBytesReader(w, r.Body, maxIngestBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body")
		return
	}

	task, err := h.manager.Start(req)
	if err != nil {
		// Start fails only on bad input or during shutdown.
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, task)
}

func (h *ingestHandler) list(w http.ResponseWriter, _ *http.Request) {
	tasks := h.manager.List()
	if tasks == nil {
		tasks = []ingest.Task{}
	}
	writeJSON(w, http.StatusOK, taskListResponse{Tasks: tasks, Active: h.manager.Active()})
}

func (h *ingestHandler) get(w http.ResponseWriter, r *http.Request) {
	task, err := h.manager.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "task_not_found", "unknown task id")
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (h *ingestHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.manager.Cancel(id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "cancelling"})
	case errors.Is(err, ingest.ErrTaskNotFound):
		writeError(w, http.StatusNotFound, "task_not_found", "unknown task id")
	case errors.Is(err, ingest.ErrTaskFinished):
		writeError(w, http.StatusConflict, "task_finished", err.Error())
	default:
		h.logger.Error("cancel failed", "task_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "cancel_failed", "failed to cancel task")
	}
}
