package handlers

import (
	"net/http"
	"strings"

	"shukku-list-backend/internal/services"
)

// MetadataHandler serves product previews
type MetadataHandler struct {
	fetcher *services.MetadataFetcher
}

// NewMetadataHandler creates a new metadata handler
func NewMetadataHandler(fetcher *services.MetadataFetcher) *MetadataHandler {
	return &MetadataHandler{fetcher: fetcher}
}

// GetMetadata handles GET /metadata?url=
func (h *MetadataHandler) GetMetadata(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		respondError(w, "Missing URL", http.StatusBadRequest)
		return
	}

	meta, err := h.fetcher.Fetch(r.Context(), rawURL)
	if err != nil {
		respondError(w, "Failed to fetch metadata", http.StatusInternalServerError)
		return
	}

	respondJSON(w, http.StatusOK, meta)
}
