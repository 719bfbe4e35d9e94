package store

import (
	"context"
	"time"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

// ValidateInventory reconciles tracked items against the gateway. A call made
// while another is in flight returns nil without querying. On gateway failure
// the store records the generic failure and a *GatewayUnavailableError is
// returned so a checkout in progress can abort.
func (s *Store) ValidateInventory(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStoreClosed
	}

	ids := domain.TrackedIDs(s.items)
	if len(ids) == 0 {
		s.resetInventoryLocked()
		st := s.publishLocked()
		s.mu.Unlock()
		s.notify(st)
		return nil
	}

	if s.validating {
		s.mu.Unlock()
		return nil
	}

	s.runSeq++
	run := s.runSeq
	s.inflight = run
	s.validating = true
	s.outcome = nil
	st := s.publishLocked()
	s.mu.Unlock()
	s.notify(st)

	log := s.opts.log.With("session_id", s.sessionID, "tracked", len(ids))
	start := time.Now()

	queryCtx := ctx
	if s.opts.validationTimeout > 0 {
		var cancel context.CancelFunc
		queryCtx, cancel = context.WithTimeout(ctx, s.opts.validationTimeout)
		defer cancel()
	}
	stock, err := s.gateway.QueryStock(queryCtx, ids)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		log.DebugContext(ctx, "discarding inventory result for closed cart")
		return ErrStoreClosed
	}
	if s.inflight != run {
		// cart was cleared while the query was running
		s.mu.Unlock()
		log.DebugContext(ctx, "discarding stale inventory result")
		return nil
	}
	s.inflight = 0
	s.validating = false

	if err != nil {
		s.failed = true
		st := s.publishLocked()
		s.mu.Unlock()
		s.notify(st)

		log.WarnContext(ctx, "inventory validation failed", "error", err, "duration", time.Since(start))
		return &GatewayUnavailableError{Err: err}
	}

	// Rebuild from the items present now, not the ids sent.
	s.inventory, s.outcome = domain.BuildSnapshot(s.items, stock)
	s.failed = false
	s.needsCheck = false
	shortages := len(s.outcome)
	st = s.publishLocked()
	s.mu.Unlock()
	s.notify(st)

	log.DebugContext(ctx, "inventory validated", "shortages", shortages, "duration", time.Since(start))
	return nil
}

// EnsureCheckout runs a fresh reconciliation and reports whether the cart may
// be submitted. It returns ErrValidationInProgress when another check is still
// running, a *StockInsufficientError when quantities exceed stock and a
// *GatewayUnavailableError when stock could not be read.
func (s *Store) EnsureCheckout(ctx context.Context) error {
	s.mu.Lock()
	validating := s.validating
	empty := len(s.items) == 0
	s.mu.Unlock()

	if validating {
		return ErrValidationInProgress
	}
	if empty {
		return ErrEmptyCart
	}

	if err := s.ValidateInventory(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.validating:
		return ErrValidationInProgress
	case !s.outcome.IsEmpty():
		shortages := make(domain.ValidationOutcome, len(s.outcome))
		copy(shortages, s.outcome)
		return &StockInsufficientError{Shortages: shortages}
	case s.failed:
		return &GatewayUnavailableError{}
	}
	return nil
}

// publishLocked bumps the version for a change that does not touch the
// persisted item list.
func (s *Store) publishLocked() State {
	s.version++
	return s.stateLocked()
}
