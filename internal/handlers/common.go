package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"shukku-list-backend/internal/repository"
	"shukku-list-backend/internal/services"

	"github.com/rs/zerolog/log"
)

var errUnknownMessage = fmt.Errorf("unknown message type: %w", services.ErrInvalidInput)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// errorStatus maps service errors to a status code and a client message
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrItemNotFound):
		return http.StatusNotFound, "Item not found"
	case errors.Is(err, services.ErrPairNotFound):
		return http.StatusNotFound, "Pair not found"
	case errors.Is(err, services.ErrPairFull):
		return http.StatusConflict, "Pair is full"
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, repository.ErrVersionConflict):
		return http.StatusConflict, "List changed concurrently, try again"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// respondServiceError logs unexpected failures and sends the mapped status
func respondServiceError(w http.ResponseWriter, err error, msg string) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
	}
	respondError(w, message, status)
}
