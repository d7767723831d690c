package api

import (
	"net/http"

	"github.com/docfox/docfox/internal/log"
	"github.com/docfox/docfox/internal/vecstore"
)

// collectionHandler serves the collection inventory endpoints.
type collectionHandler struct {
	store  collectionStore
	logger log.Logger
}

// collectionListResponse is the wire shape of GET /api/collections.
type collectionListResponse struct {
	Collections []vecstore.CollectionInfo `json:"collections"`
}

func (h *collectionHandler) list(w http.ResponseWriter, r *http.Request) {
	infos, err := h.store.Collections(r.Context())
	if err != nil {
		h.logger.Error("list collections failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "vector store unavailable")
		return
	}
	if infos == nil {
		infos = []vecstore.CollectionInfo{}
	}
	writeJSON(w, http.StatusOK, collectionListResponse{Collections: infos})
}

func (h *collectionHandler) drop(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	deleted, err := h.store.DropCollection(r.Context(), name)
	if err != nil {
		h.logger.Error("drop collection failed", "collection", name, "error", err)
		writeError(w, http.StatusServiceUnavailable, "store_unavailable", "vector store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collection": name, "chunks_deleted": deleted})
}
