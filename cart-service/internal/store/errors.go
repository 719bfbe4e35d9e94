package store

import (
	"errors"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

var (
	ErrStoreClosed          = errors.New("cart store is closed")
	ErrValidationInProgress = errors.New("inventory validation already in progress")
	ErrEmptyCart            = errors.New("cart is empty, nothing to checkout")
)

// GatewayFailureMessage is shown when stock could not be fetched at all.
const GatewayFailureMessage = "Could not load stock information. Please refresh the page and try again."

// StockInsufficientError lists the tracked items whose cart quantity exceeds
// the stock reported by the latest reconciliation.
type StockInsufficientError struct {
	Shortages domain.ValidationOutcome
}

func (e *StockInsufficientError) Error() string {
	return e.Shortages.Message()
}

// GatewayUnavailableError means the inventory query failed outright. The
// caller should retry the validation.
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	if e.Err == nil {
		return "inventory gateway unavailable"
	}
	return "inventory gateway unavailable: " + e.Err.Error()
}

func (e *GatewayUnavailableError) Unwrap() error {
	return e.Err
}
