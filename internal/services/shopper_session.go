package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/topmanuais/api/internal/domain"
)

// ShopperSession owns the cart and checkout of one anonymous shopper. Cart edits go
// through the checkout so they are rejected while a submission is in flight.
type ShopperSession struct {
	id       string
	catalog  CatalogService
	cart     *CartStore
	checkout *CheckoutSession
	now      func() time.Time

	mu       sync.Mutex
	lastSeen time.Time
}

// ShopperSessionDeps wires one shopper session.
type ShopperSessionDeps struct {
	ID       string
	Catalog  CatalogService
	Checkout CheckoutSessionDeps
	Clock    func() time.Time
}

// NewShopperSession constructs a session with an empty cart and a fresh checkout.
func NewShopperSession(deps ShopperSessionDeps) (*ShopperSession, error) {
	id := strings.TrimSpace(deps.ID)
	if id == "" {
		return nil, errors.New("shopper session: id is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("shopper session: catalog is required")
	}

	clock := utcClock(deps.Clock)
	checkoutDeps := deps.Checkout
	checkoutDeps.SessionID = id
	if checkoutDeps.Clock == nil {
		checkoutDeps.Clock = clock
	}
	checkout, err := NewCheckoutSession(checkoutDeps)
	if err != nil {
		return nil, err
	}

	return &ShopperSession{
		id:       id,
		catalog:  deps.Catalog,
		cart:     NewCartStore(clock),
		checkout: checkout,
		now:      clock,
		lastSeen: clock(),
	}, nil
}

// ID returns the opaque session identifier.
func (s *ShopperSession) ID() string { return s.id }

// Checkout exposes the checkout state machine.
func (s *ShopperSession) Checkout() *CheckoutSession { return s.checkout }

// Cart returns a snapshot of the cart.
func (s *ShopperSession) Cart() domain.Cart { return s.cart.Snapshot() }

// Touch records activity for idle eviction.
func (s *ShopperSession) Touch() {
	s.mu.Lock()
	s.lastSeen = s.now()
	s.mu.Unlock()
}

// LastSeen returns the time of the latest activity.
func (s *ShopperSession) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// AddItem looks the item up in the catalog and adds it with quantity 1.
func (s *ShopperSession) AddItem(ctx context.Context, itemID string) (AddOutcome, domain.Cart, error) {
	item, err := s.catalog.GetItem(ctx, itemID)
	if err != nil {
		return "", domain.Cart{}, err
	}
	if !item.Active {
		return "", domain.Cart{}, fmt.Errorf("%w: %s", ErrCatalogItemUnavailable, item.ID)
	}

	var outcome AddOutcome
	if err := s.checkout.Mutate(func() bool {
		outcome = s.cart.Add(item)
		return false
	}); err != nil {
		return "", domain.Cart{}, err
	}
	return outcome, s.cart.Snapshot(), nil
}

// RemoveItem deletes the item. Emptying the cart resets the checkout.
func (s *ShopperSession) RemoveItem(itemID string) (domain.Cart, error) {
	err := s.checkout.Mutate(func() bool {
		s.cart.Remove(itemID)
		return s.cart.Len() == 0
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return s.cart.Snapshot(), nil
}

// SetQuantity changes the quantity of an item already in the cart. A quantity below 1
// removes it.
func (s *ShopperSession) SetQuantity(itemID string, qty int) (domain.Cart, error) {
	found := false
	err := s.checkout.Mutate(func() bool {
		found = s.cart.SetQuantity(itemID, qty)
		return found && s.cart.Len() == 0
	})
	if err != nil {
		return domain.Cart{}, err
	}
	if !found {
		return domain.Cart{}, fmt.Errorf("%w: %s", ErrCartItemNotFound, strings.TrimSpace(itemID))
	}
	return s.cart.Snapshot(), nil
}

// ClearCart empties the cart and resets the checkout.
func (s *ShopperSession) ClearCart() error {
	return s.checkout.Mutate(func() bool {
		s.cart.Clear()
		return true
	})
}

// Submit runs the checkout against this session's cart.
func (s *ShopperSession) Submit(ctx context.Context) (CheckoutResult, error) {
	return s.checkout.Submit(ctx, s.cart)
}
