package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/fjod/storefront/cart-service/internal/domain"
)

// InventoryGateway answers stock queries for tracked items. Ids missing
// from the result are treated as out of stock.
type InventoryGateway interface {
	QueryStock(ctx context.Context, ids []string) (map[string]int, error)
}

// SnapshotStore persists the item list of one session.
type SnapshotStore interface {
	Load(ctx context.Context, sessionID string) ([]byte, error)
	Save(ctx context.Context, sessionID string, data []byte) error
	Delete(ctx context.Context, sessionID string) error
}

// Store holds the cart of one session together with the derived inventory
// state. Mutations are atomic and never fail; only ValidateInventory talks
// to the network.
type Store struct {
	mu sync.Mutex

	sessionID string
	items     []domain.LineItem
	inventory domain.InventorySnapshot
	outcome   domain.ValidationOutcome
	// gateway failure of the last reconciliation
	failed     bool
	validating bool
	needsCheck bool
	// id of the reconciliation allowed to apply its result, 0 when none
	inflight uint64
	runSeq   uint64
	version  uint64
	closed   bool
	done     chan struct{}

	gateway   InventoryGateway
	snapshots SnapshotStore
	opts      options

	subMu   sync.Mutex
	subs    map[int]func(State)
	nextSub int
}

// New returns an empty store. snapshots may be nil for a cart that is never
// persisted.
func New(sessionID string, snapshots SnapshotStore, gateway InventoryGateway, opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		sessionID: sessionID,
		gateway:   gateway,
		snapshots: snapshots,
		opts:      o,
		done:      make(chan struct{}),
		subs:      make(map[int]func(State)),
	}
}

// Open hydrates a store from the persisted snapshot of sessionID. A missing
// or malformed snapshot yields an empty cart; only storage errors fail.
func Open(ctx context.Context, sessionID string, snapshots SnapshotStore, gateway InventoryGateway, opts ...Option) (*Store, error) {
	s := New(sessionID, snapshots, gateway, opts...)
	if snapshots == nil {
		return s, nil
	}

	data, err := snapshots.Load(ctx, sessionID)
	if errors.Is(err, domain.ErrSnapshotNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart snapshot: %w", err)
	}

	items, err := domain.DecodeSnapshot(data)
	if err != nil {
		s.opts.log.WarnContext(ctx, "discarding unreadable cart snapshot", "session_id", sessionID, "error", err)
	}

	s.items = items
	s.needsCheck = len(domain.TrackedIDs(items)) > 0
	return s, nil
}

func (s *Store) SessionID() string {
	return s.sessionID
}

// AddItem merges item into the cart and returns the quantity now held for
// its id. An existing line takes the incoming flags and the summed quantity,
// saturating at domain.MaxLineQuantity. With clamping on, a tracked line
// never grows past its last known stock.
func (s *Store) AddItem(item domain.LineItem) int {
	s.mu.Lock()
	if item.ID == "" || item.Quantity <= 0 {
		q := s.quantityLocked(item.ID)
		s.mu.Unlock()
		return q
	}

	item.Quantity = min(item.Quantity, domain.MaxLineQuantity)
	idx := s.indexLocked(item.ID)
	if idx >= 0 {
		existing := s.items[idx].Quantity
		inc := item.Quantity
		if limit, ok := s.limitLocked(item.ID, item.RequiresInventoryCheck); ok {
			inc = min(inc, max(0, limit-existing))
		}
		wasTracked := s.items[idx].RequiresInventoryCheck
		s.items[idx].Quantity = domain.AddQuantity(existing, inc)
		s.items[idx].HasVariants = item.HasVariants
		s.items[idx].RequiresInventoryCheck = item.RequiresInventoryCheck
		if wasTracked && !item.RequiresInventoryCheck {
			s.untrackLocked(item.ID)
		}
	} else {
		s.items = append(s.items, item)
	}

	if item.RequiresInventoryCheck {
		s.needsCheck = true
	}
	q := s.quantityLocked(item.ID)
	st := s.changedLocked()
	s.mu.Unlock()

	s.notify(st)
	return q
}

// RemoveItem deletes the line for id. When no tracked items remain all
// inventory state is dropped.
func (s *Store) RemoveItem(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return
	}
	s.removeLocked(idx)
	st := s.changedLocked()
	s.mu.Unlock()

	s.notify(st)
}

// UpdateQuantity sets the quantity of id and returns the quantity actually
// stored. A quantity below one, including one clamped down to zero, removes
// the line.
func (s *Store) UpdateQuantity(id string, quantity int) int {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return 0
	}

	item := s.items[idx]
	quantity = min(quantity, domain.MaxLineQuantity)
	if limit, ok := s.limitLocked(id, item.RequiresInventoryCheck); ok {
		quantity = min(quantity, limit)
	}

	if quantity < 1 {
		s.removeLocked(idx)
		quantity = 0
	} else {
		s.items[idx].Quantity = quantity
		if item.RequiresInventoryCheck {
			s.needsCheck = true
		}
	}
	st := s.changedLocked()
	s.mu.Unlock()

	s.notify(st)
	return quantity
}

// ClearCart empties the cart and resets every piece of inventory state.
// A reconciliation still in flight will not apply its result.
func (s *Store) ClearCart() {
	s.mu.Lock()
	s.items = nil
	s.resetInventoryLocked()
	s.validating = false
	s.inflight = 0
	st := s.changedLocked()
	s.mu.Unlock()

	s.notify(st)
}

// MaxAllowed reports the largest quantity the cart may hold for id, when
// one is known.
func (s *Store) MaxAllowed(id string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return 0, false
	}
	return s.limitLocked(id, s.items[idx].RequiresInventoryCheck)
}

func (s *Store) Item(id string) (domain.LineItem, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.LineItem{}, false
	}
	return s.items[idx], true
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

// CanCheckout is the checkout gate: nothing in flight and nothing blocking.
func (s *Store) CanCheckout() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.canCheckoutLocked()
}

// Subscribe registers fn to receive the state after every change. Calls
// happen outside the store lock; use State.Version to drop stale deliveries.
func (s *Store) Subscribe(fn func(State)) (unsubscribe func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

// Close disposes the store. Subscribers are dropped and a reconciliation
// that returns afterwards is discarded.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.done)
	s.mu.Unlock()

	s.subMu.Lock()
	s.subs = make(map[int]func(State))
	s.subMu.Unlock()
}

// Done is closed once the store has been disposed.
func (s *Store) Done() <-chan struct{} {
	return s.done
}

func (s *Store) indexLocked(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) quantityLocked(id string) int {
	if idx := s.indexLocked(id); idx >= 0 {
		return s.items[idx].Quantity
	}
	return 0
}

// limitLocked is the single rule for how many units of id may be held.
func (s *Store) limitLocked(id string, tracked bool) (int, bool) {
	if !s.opts.clamp || !tracked {
		return 0, false
	}
	level, ok := s.inventory[id]
	if !ok {
		return 0, false
	}
	return level.AvailableQuantity, true
}

func (s *Store) removeLocked(idx int) {
	id := s.items[idx].ID
	s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
	s.untrackLocked(id)
}

// untrackLocked drops the inventory state held for id once it is no longer
// a tracked line.
func (s *Store) untrackLocked(id string) {
	if len(domain.TrackedIDs(s.items)) == 0 {
		s.resetInventoryLocked()
		return
	}
	delete(s.inventory, id)
	s.outcome = s.outcome.Without(id)
}

func (s *Store) resetInventoryLocked() {
	s.inventory = nil
	s.outcome = nil
	s.failed = false
	s.needsCheck = false
}

func (s *Store) canCheckoutLocked() bool {
	return !s.validating && s.outcome.IsEmpty() && !s.failed
}

func (s *Store) phaseLocked() Phase {
	switch {
	case s.validating:
		return PhaseValidating
	case len(domain.TrackedIDs(s.items)) == 0:
		return PhaseIdle
	case !s.outcome.IsEmpty() || s.failed:
		return PhaseBlocked
	case s.needsCheck:
		return PhaseNeedsCheck
	default:
		return PhaseClean
	}
}

// errorLocked prefers the itemized shortage text over the generic failure.
func (s *Store) errorLocked() string {
	if !s.outcome.IsEmpty() {
		return s.outcome.Message()
	}
	if s.failed {
		return GatewayFailureMessage
	}
	return ""
}

func (s *Store) stateLocked() State {
	items := make([]domain.LineItem, len(s.items))
	copy(items, s.items)

	var inventory domain.InventorySnapshot
	if s.inventory != nil {
		inventory = make(domain.InventorySnapshot, len(s.inventory))
		for id, level := range s.inventory {
			inventory[id] = level
		}
	}

	var outcome domain.ValidationOutcome
	if !s.outcome.IsEmpty() {
		outcome = make(domain.ValidationOutcome, len(s.outcome))
		copy(outcome, s.outcome)
	}

	return State{
		SessionID:   s.sessionID,
		Version:     s.version,
		Items:       items,
		Totals:      domain.CalculateTotals(items),
		Inventory:   inventory,
		Outcome:     outcome,
		Error:       s.errorLocked(),
		Validating:  s.validating,
		NeedsCheck:  s.needsCheck,
		Phase:       s.phaseLocked(),
		CanCheckout: s.canCheckoutLocked(),
	}
}

// changedLocked persists the item list and returns the state to publish.
func (s *Store) changedLocked() State {
	s.version++
	s.persistLocked()
	return s.stateLocked()
}

func (s *Store) persistLocked() {
	if s.snapshots == nil {
		return
	}
	data, err := domain.EncodeSnapshot(s.items)
	if err != nil {
		s.opts.log.Error("encode cart snapshot failed", "session_id", s.sessionID, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.persistTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, s.sessionID, data); err != nil {
		s.opts.log.Error("persist cart snapshot failed", "session_id", s.sessionID, "error", err)
	}
}

func (s *Store) notify(st State) {
	s.subMu.Lock()
	fns := make([]func(State), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
