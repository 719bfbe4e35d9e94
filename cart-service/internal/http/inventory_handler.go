package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// StockSource answers raw stock queries for the inventory proxy.
type StockSource interface {
	QueryStock(ctx context.Context, ids []string) (map[string]int, error)
}

// InventoryHandler exposes stock counts to the storefront without handing it
// the upstream credentials.
type InventoryHandler struct {
	stock   StockSource
	timeout time.Duration
	log     *slog.Logger
}

func NewInventoryHandler(stock StockSource, timeout time.Duration, log *slog.Logger) *InventoryHandler {
	if log == nil {
		log = slog.Default()
	}
	return &InventoryHandler{stock: stock, timeout: timeout, log: log}
}

type InventoryRequestDTO struct {
	CatalogItemVariationIDs json.RawMessage `json:"catalogItemVariationIds"`
}

type InventoryCountDTO struct {
	CatalogObjectID string `json:"catalogObjectId"`
	Quantity        int    `json:"quantity"`
}

type InventoryResponseDTO struct {
	Counts []InventoryCountDTO `json:"counts"`
}

// Counts returns one count per requested id, in request order. Ids the
// upstream does not know report zero.
func (h *InventoryHandler) Counts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req InventoryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	var ids []string
	if len(req.CatalogItemVariationIDs) == 0 || req.CatalogItemVariationIDs[0] != '[' ||
		json.Unmarshal(req.CatalogItemVariationIDs, &ids) != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return
	}

	resp := InventoryResponseDTO{Counts: make([]InventoryCountDTO, 0, len(ids))}
	if len(ids) == 0 {
		respondJSON(w, http.StatusOK, resp)
		return
	}

	stock, err := h.stock.QueryStock(ctx, ids)
	if err != nil {
		h.log.ErrorContext(ctx, "inventory proxy query failed", "ids", len(ids), "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	for _, id := range ids {
		resp.Counts = append(resp.Counts, InventoryCountDTO{
			CatalogObjectID: id,
			Quantity:        max(0, stock[id]),
		})
	}
	respondJSON(w, http.StatusOK, resp)
}
