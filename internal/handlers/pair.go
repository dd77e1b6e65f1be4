package handlers

import (
	"encoding/json"
	"net/http"

	"shukku-list-backend/internal/middleware"
	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/services"
)

// PairHandler handles pair-related HTTP requests
type PairHandler struct {
	pairService *services.PairService
}

// NewPairHandler creates a new pair handler
func NewPairHandler(pairService *services.PairService) *PairHandler {
	return &PairHandler{
		pairService: pairService,
	}
}

// JoinPairRequest represents the request body for joining a pair
type JoinPairRequest struct {
	InviteCode string `json:"invite_code"`
}

// JoinPair handles POST /api/v1/pairs/join
func (h *PairHandler) JoinPair(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req JoinPairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.InviteCode == "" {
		respondError(w, "invite_code is required", http.StatusBadRequest)
		return
	}

	pair, err := h.pairService.JoinByInviteCode(ctx, userID, req.InviteCode)
	if err != nil {
		respondServiceError(w, err, "Failed to join pair")
		return
	}

	respondJSON(w, http.StatusOK, models.NewListView(pair))
}

// ResetList handles DELETE /api/v1/users/me/list
func (h *PairHandler) ResetList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pair, err := h.pairService.ResetList(ctx, userID)
	if err != nil {
		respondServiceError(w, err, "Failed to reset list")
		return
	}

	respondJSON(w, http.StatusOK, models.NewListView(pair))
}
