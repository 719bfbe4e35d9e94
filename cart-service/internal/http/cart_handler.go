package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

// CartService is what the handlers need from the session manager.
type CartService interface {
	GetCart(ctx context.Context, sessionID string) (store.State, error)
	AddItem(ctx context.Context, sessionID string, item domain.LineItem) (store.State, error)
	UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) (store.State, error)
	RemoveItem(ctx context.Context, sessionID, itemID string) (store.State, error)
	ClearCart(ctx context.Context, sessionID string) (store.State, error)
	Validate(ctx context.Context, sessionID string) (store.State, error)
	Checkout(ctx context.Context, sessionID string) (store.State, error)
	Subscribe(ctx context.Context, sessionID string, fn func(store.State)) (unsubscribe func(), done <-chan struct{}, err error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	if log == nil {
		log = slog.Default()
	}
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ID                     string          `json:"id"`
	Name                   string          `json:"name"`
	UnitPrice              decimal.Decimal `json:"unit_price"`
	Quantity               int             `json:"quantity"`
	RequiresInventoryCheck bool            `json:"requires_inventory_check"`
	HasVariants            bool            `json:"has_variants"`
}

type UpdateQuantityRequestDTO struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	state, err := h.carts.GetCart(ctx, sessionID)
	if err != nil {
		handleCartError(w, err, nil)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "id is required")
		return
	}
	if req.Quantity <= 0 || req.Quantity > domain.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity",
			fmt.Sprintf("quantity must be between 1 and %d", domain.MaxLineQuantity))
		return
	}
	if req.UnitPrice.IsNegative() {
		respondError(w, http.StatusBadRequest, "invalid_price", "unit_price must not be negative")
		return
	}

	state, err := h.carts.AddItem(ctx, sessionID, domain.LineItem{
		ID:                     req.ID,
		Name:                   req.Name,
		UnitPrice:              req.UnitPrice,
		Quantity:               req.Quantity,
		RequiresInventoryCheck: req.RequiresInventoryCheck,
		HasVariants:            req.HasVariants,
	})
	if err != nil {
		handleCartError(w, err, nil)
		return
	}

	respondJSON(w, http.StatusCreated, state)
}

// UpdateQuantity sets an item's quantity. Zero removes the item; the stored
// quantity may be lower than requested when stock is known to be short.
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id is required")
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil || *req.Quantity < 0 || *req.Quantity > domain.MaxLineQuantity {
		respondError(w, http.StatusBadRequest, "invalid_quantity",
			fmt.Sprintf("quantity must be between 0 and %d", domain.MaxLineQuantity))
		return
	}

	state, err := h.carts.UpdateQuantity(ctx, sessionID, itemID, *req.Quantity)
	if err != nil {
		handleCartError(w, err, nil)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	itemID := chi.URLParam(r, "item_id")
	if itemID == "" {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item_id is required")
		return
	}

	state, err := h.carts.RemoveItem(ctx, sessionID, itemID)
	if err != nil {
		handleCartError(w, err, nil)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	state, err := h.carts.ClearCart(ctx, sessionID)
	if err != nil {
		handleCartError(w, err, nil)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// Validate runs a reconciliation. Shortages are part of a successful
// response; only a failed inventory query is an error.
func (h *CartHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	state, err := h.carts.Validate(ctx, sessionID)
	if err != nil {
		handleCartError(w, err, &state)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// Checkout is called by the checkout flow before it creates a payment.
func (h *CartHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	state, err := h.carts.Checkout(ctx, sessionID)
	if err != nil {
		handleCartError(w, err, &state)
		return
	}

	respondJSON(w, http.StatusOK, state)
}

// Events streams the cart state as server-sent events, starting with the
// current state. Deliveries older than the last one sent are skipped.
func (h *CartHandler) Events(w http.ResponseWriter, r *http.Request) {
	sessionID := getSessionID(r.Context())
	if sessionID == "" {
		respondError(w, http.StatusUnauthorized, "no_session", "missing cart session")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	updates := make(chan store.State, 16)
	unsubscribe, done, err := h.carts.Subscribe(r.Context(), sessionID, func(st store.State) {
		select {
		case updates <- st:
		default:
			// slow client, it will catch up on the next change
		}
	})
	if err != nil {
		handleCartError(w, err, nil)
		return
	}
	defer unsubscribe()

	current, err := h.carts.GetCart(r.Context(), sessionID)
	if err != nil {
		handleCartError(w, err, nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, current); err != nil {
		return
	}
	flusher.Flush()
	last := current.Version

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			// the client reconnects and resubscribes to a live store
			return
		case st := <-updates:
			if st.Version <= last {
				continue
			}
			if err := writeEvent(w, st); err != nil {
				h.log.DebugContext(r.Context(), "event stream closed", "session_id", sessionID, "error", err)
				return
			}
			flusher.Flush()
			last = st.Version
		}
	}
}

func writeEvent(w http.ResponseWriter, st store.State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: cart\nid: %d\ndata: %s\n\n", st.Version, data)
	return err
}
