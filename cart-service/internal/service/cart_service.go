package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fjod/storefront/cart-service/internal/domain"
	"github.com/fjod/storefront/cart-service/internal/store"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultIdleTTL is how long an untouched session stays in memory.
	DefaultIdleTTL = 30 * time.Minute
	// CleanupInterval is how often idle sessions are evicted
	CleanupInterval = time.Minute
)

var (
	ErrItemNotFound   = errors.New("item not found in cart")
	ErrInvalidItem    = errors.New("item id and positive quantity are required")
	ErrServiceStopped = errors.New("cart service is stopped")
)

type session struct {
	store    *store.Store
	lastSeen time.Time
	// open subscriptions; a watched session is never idle
	watchers int
}

// CartService owns one store.Store per cart session. Stores are hydrated on
// first use and evicted after sitting idle; their snapshots stay in storage.
type CartService struct {
	snapshots store.SnapshotStore
	gateway   store.InventoryGateway
	storeOpts []store.Option
	log       *slog.Logger
	idleTTL   time.Duration
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	stopped  bool
	sfg      singleflight.Group // collapses concurrent hydration of one session

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

func NewCartService(snapshots store.SnapshotStore, gateway store.InventoryGateway, log *slog.Logger, idleTTL time.Duration, opts ...store.Option) *CartService {
	if log == nil {
		log = slog.Default()
	}
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	s := &CartService{
		snapshots:   snapshots,
		gateway:     gateway,
		storeOpts:   append([]store.Option{store.WithLogger(log)}, opts...),
		log:         log,
		idleTTL:     idleTTL,
		now:         time.Now,
		sessions:    make(map[string]*session),
		stopCleanup: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// Cart returns the live store for sessionID, hydrating it if needed.
func (s *CartService) Cart(ctx context.Context, sessionID string) (*store.Store, error) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil, ErrServiceStopped
	}
	if sess, ok := s.sessions[sessionID]; ok {
		sess.lastSeen = s.now()
		s.mu.Unlock()
		return sess.store, nil
	}
	s.mu.Unlock()

	v, err, _ := s.sfg.Do(sessionID, func() (interface{}, error) {
		st, err := store.Open(ctx, sessionID, s.snapshots, s.gateway, s.storeOpts...)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if s.stopped {
			st.Close()
			return nil, ErrServiceStopped
		}
		if existing, ok := s.sessions[sessionID]; ok {
			st.Close()
			return existing.store, nil
		}
		s.sessions[sessionID] = &session{store: st, lastSeen: s.now()}
		s.log.DebugContext(ctx, "cart session hydrated", "session_id", sessionID, "items", len(st.State().Items))
		return st, nil
	})
	if err != nil {
		return nil, fmt.Errorf("open cart %s: %w", sessionID, err)
	}

	return v.(*store.Store), nil
}

func (s *CartService) GetCart(ctx context.Context, sessionID string) (store.State, error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	return cart.State(), nil
}

func (s *CartService) AddItem(ctx context.Context, sessionID string, item domain.LineItem) (store.State, error) {
	if item.ID == "" || item.Quantity <= 0 {
		return store.State{}, ErrInvalidItem
	}
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	cart.AddItem(item)
	return cart.State(), nil
}

func (s *CartService) UpdateQuantity(ctx context.Context, sessionID, itemID string, quantity int) (store.State, error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	if _, ok := cart.Item(itemID); !ok {
		return store.State{}, ErrItemNotFound
	}
	cart.UpdateQuantity(itemID, quantity)
	return cart.State(), nil
}

func (s *CartService) RemoveItem(ctx context.Context, sessionID, itemID string) (store.State, error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	if _, ok := cart.Item(itemID); !ok {
		return store.State{}, ErrItemNotFound
	}
	cart.RemoveItem(itemID)
	return cart.State(), nil
}

func (s *CartService) ClearCart(ctx context.Context, sessionID string) (store.State, error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	cart.ClearCart()
	return cart.State(), nil
}

// Validate runs a reconciliation and returns the resulting state. The state
// is returned even when the gateway failed.
func (s *CartService) Validate(ctx context.Context, sessionID string) (store.State, error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	errValidate := cart.ValidateInventory(ctx)
	return cart.State(), errValidate
}

// Checkout applies the checkout gate to a fresh reconciliation.
func (s *CartService) Checkout(ctx context.Context, sessionID string) (store.State, error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return store.State{}, err
	}
	errCheckout := cart.EnsureCheckout(ctx)
	if errCheckout != nil {
		s.log.InfoContext(ctx, "checkout blocked", "session_id", sessionID, "reason", errCheckout)
	}
	return cart.State(), errCheckout
}

// CompleteOrder empties the cart of a session whose order went through. The
// session does not need to be loaded.
func (s *CartService) CompleteOrder(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	sess, ok := s.sessions[sessionID]
	s.mu.Unlock()

	if ok {
		sess.store.ClearCart()
	}
	if s.snapshots == nil {
		return nil
	}
	if err := s.snapshots.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("delete cart snapshot: %w", err)
	}
	return nil
}

// Subscribe delivers every state change of sessionID to fn until
// unsubscribe is called. The session is kept in memory meanwhile; done is
// closed if the store is disposed regardless, as on shutdown.
func (s *CartService) Subscribe(ctx context.Context, sessionID string, fn func(store.State)) (unsubscribe func(), done <-chan struct{}, err error) {
	cart, err := s.Cart(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.Lock()
	sess, watched := s.sessions[sessionID]
	watched = watched && sess.store == cart
	if watched {
		sess.watchers++
	}
	s.mu.Unlock()

	cancel := cart.Subscribe(fn)
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if !watched {
				return
			}
			s.mu.Lock()
			defer s.mu.Unlock()
			sess.watchers--
			sess.lastSeen = s.now()
		})
	}, cart.Done(), nil
}

// Sessions reports how many carts are held in memory.
func (s *CartService) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *CartService) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *CartService) evictIdle() {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var evicted []*store.Store
	for id, sess := range s.sessions {
		if sess.watchers == 0 && sess.lastSeen.Before(cutoff) {
			evicted = append(evicted, sess.store)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, st := range evicted {
		st.Close()
	}
	if len(evicted) > 0 {
		s.log.Debug("evicted idle cart sessions", "count", len(evicted))
	}
}

// Close stops the cleanup loop and disposes every loaded store.
func (s *CartService) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	sessions := s.sessions
	s.sessions = make(map[string]*session)
	s.mu.Unlock()

	close(s.stopCleanup)
	s.wg.Wait()

	for _, sess := range sessions {
		sess.store.Close()
	}
	return nil
}
