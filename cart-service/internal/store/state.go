package store

import "github.com/fjod/storefront/cart-service/internal/domain"

// Phase is where the cart sits in its reconciliation cycle.
type Phase string

const (
	// PhaseIdle: no inventory-tracked items, nothing to check.
	PhaseIdle Phase = "idle"
	// PhaseNeedsCheck: tracked items changed since the last reconciliation.
	PhaseNeedsCheck Phase = "needs_check"
	PhaseValidating Phase = "validating"
	PhaseClean      Phase = "clean"
	// PhaseBlocked: the last reconciliation found shortages or failed.
	PhaseBlocked Phase = "blocked"
)

// State is a read-only copy of the store handed to readers and subscribers.
type State struct {
	SessionID   string                   `json:"session_id"`
	Version     uint64                   `json:"version"`
	Items       []domain.LineItem        `json:"items"`
	Totals      domain.Totals            `json:"totals"`
	Inventory   domain.InventorySnapshot `json:"inventory"`
	Outcome     domain.ValidationOutcome `json:"outcome"`
	Error       string                   `json:"error,omitempty"`
	Validating  bool                     `json:"validating"`
	NeedsCheck  bool                     `json:"needs_check"`
	Phase       Phase                    `json:"phase"`
	CanCheckout bool                     `json:"can_checkout"`
}
