package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"shukku-list-backend/internal/middleware"
	"shukku-list-backend/internal/services"

	"github.com/rs/zerolog/log"
)

// NotifyHandler triggers notifications for a pair
type NotifyHandler struct {
	notifier *services.Notifier
}

// NewNotifyHandler creates a new notify handler
func NewNotifyHandler(notifier *services.Notifier) *NotifyHandler {
	return &NotifyHandler{notifier: notifier}
}

// NotifyRequest represents the request body for a notification
type NotifyRequest struct {
	PairID  string            `json:"pairId"`
	Payload *services.Payload `json:"payload"`
}

// NoTokensResponse is returned when no member has a push token
type NoTokensResponse struct {
	OK           bool   `json:"ok"`
	Message      string `json:"message"`
	SuccessCount int    `json:"successCount"`
	FailureCount int    `json:"failureCount"`
}

// Notify handles POST /notify
func (h *NotifyHandler) Notify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req NotifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PairID == "" || req.Payload == nil {
		respondError(w, "Missing pairId or payload", http.StatusBadRequest)
		return
	}

	payload := *req.Payload
	if payload.ExcludeUID == "" {
		payload.ExcludeUID = middleware.GetUserID(ctx)
	}

	res, err := h.notifier.Notify(ctx, req.PairID, payload)
	if err != nil {
		if errors.Is(err, services.ErrPairNotFound) {
			respondError(w, "Pair not found", http.StatusNotFound)
			return
		}
		log.Error().Err(err).Str("pair_id", req.PairID).Msg("Failed to send notification")
		respondError(w, "Failed to send notification", http.StatusInternalServerError)
		return
	}

	if !res.Sent {
		respondJSON(w, http.StatusOK, NoTokensResponse{OK: true, Message: "No tokens to send"})
		return
	}

	respondJSON(w, http.StatusOK, res)
}
