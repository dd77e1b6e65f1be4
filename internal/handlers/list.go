package handlers

import (
	"encoding/json"
	"net/http"

	"shukku-list-backend/internal/middleware"
	"shukku-list-backend/internal/models"
	"shukku-list-backend/internal/services"

	"github.com/go-chi/chi/v5"
)

// ListHandler handles list HTTP requests for the caller's current list
type ListHandler struct {
	pairService *services.PairService
	listService *services.ListService
}

// NewListHandler creates a new list handler
func NewListHandler(pairService *services.PairService, listService *services.ListService) *ListHandler {
	return &ListHandler{
		pairService: pairService,
		listService: listService,
	}
}

// AddItemRequest represents the request body for adding an item
type AddItemRequest struct {
	Text string `json:"text"`
	Qty  *int   `json:"qty"`
}

// AddItemResponse carries the new item and the resulting list
type AddItemResponse struct {
	Item *models.Item     `json:"item"`
	List *models.ListView `json:"list"`
}

// GetList handles GET /api/v1/list
func (h *ListHandler) GetList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pair, err := h.pairService.Attach(ctx, userID)
	if err != nil {
		respondServiceError(w, err, "Failed to load list")
		return
	}

	respondJSON(w, http.StatusOK, models.NewListView(pair))
}

// AddItem handles POST /api/v1/list/items
func (h *ListHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	qty := 1
	if req.Qty != nil {
		qty = *req.Qty
	}

	pair, err := h.pairService.Attach(ctx, userID)
	if err != nil {
		respondServiceError(w, err, "Failed to load list")
		return
	}

	updated, item, err := h.listService.AddItem(ctx, pair.ID, userID, req.Text, qty)
	if err != nil {
		respondServiceError(w, err, "Failed to add item")
		return
	}

	respondJSON(w, http.StatusOK, AddItemResponse{Item: item, List: models.NewListView(updated)})
}

// ToggleItem handles POST /api/v1/list/items/{item_id}/toggle
func (h *ListHandler) ToggleItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to toggle item", func(pairID, userID string) (*models.Pair, error) {
		return h.listService.ToggleItem(r.Context(), pairID, userID, chi.URLParam(r, "item_id"))
	})
}

// DeleteItem handles DELETE /api/v1/list/items/{item_id}
func (h *ListHandler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to delete item", func(pairID, userID string) (*models.Pair, error) {
		return h.listService.DeleteItem(r.Context(), pairID, userID, chi.URLParam(r, "item_id"))
	})
}

// ClearDone handles POST /api/v1/list/clear-done
func (h *ListHandler) ClearDone(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "Failed to clear done items", func(pairID, userID string) (*models.Pair, error) {
		return h.listService.ClearCompleted(r.Context(), pairID, userID)
	})
}

func (h *ListHandler) mutate(w http.ResponseWriter, r *http.Request, failMsg string, op func(pairID, userID string) (*models.Pair, error)) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	pair, err := h.pairService.Attach(ctx, userID)
	if err != nil {
		respondServiceError(w, err, "Failed to load list")
		return
	}

	updated, err := op(pair.ID, userID)
	if err != nil {
		respondServiceError(w, err, failMsg)
		return
	}

	respondJSON(w, http.StatusOK, models.NewListView(updated))
}
