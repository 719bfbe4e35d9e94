package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/service"
	"github.com/fjod/storefront/cart-service/internal/store"
)

type ErrorResponse struct {
	Error     string                   `json:"error"`
	Code      string                   `json:"code,omitempty"`
	Details   string                   `json:"details,omitempty"`
	Shortages domain.ValidationOutcome `json:"shortages,omitempty"`
	Cart      *store.State             `json:"cart,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleCartError maps store and service errors to HTTP. state, when given,
// is attached so the client can render the blocked cart.
func handleCartError(w http.ResponseWriter, err error, state *store.State) {
	var (
		stockErr   *store.StockInsufficientError
		gatewayErr *store.GatewayUnavailableError
	)

	switch {
	case errors.As(err, &stockErr):
		respondJSON(w, http.StatusConflict, ErrorResponse{
			Error:     stockErr.Error(),
			Code:      "stock_insufficient",
			Shortages: stockErr.Shortages,
			Cart:      state,
		})
	case errors.As(err, &gatewayErr):
		respondJSON(w, http.StatusServiceUnavailable, ErrorResponse{
			Error:   store.GatewayFailureMessage,
			Code:    "inventory_unavailable",
			Details: gatewayErr.Error(),
			Cart:    state,
		})
	case errors.Is(err, store.ErrValidationInProgress):
		respondError(w, http.StatusConflict, "validation_in_progress", err.Error())
	case errors.Is(err, store.ErrEmptyCart):
		respondError(w, http.StatusBadRequest, "empty_cart", err.Error())
	case errors.Is(err, service.ErrItemNotFound):
		respondError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, service.ErrInvalidItem):
		respondError(w, http.StatusBadRequest, "invalid_item", err.Error())
	case errors.Is(err, service.ErrServiceStopped), errors.Is(err, store.ErrStoreClosed):
		respondError(w, http.StatusServiceUnavailable, "service_unavailable", "cart service is shutting down")
	default:
		slog.Error("cart request failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
