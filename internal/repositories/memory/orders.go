package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/repositories"
)

// Store keeps orders and their entitlements in process memory. Orders and
// entitlements share one lock so Create is atomic and Consume is a
// compare-and-increment under that lock.
type Store struct {
	mu           sync.RWMutex
	orders       map[string]domain.Order
	orderNumbers map[string]string
	entitlements map[string]domain.DownloadEntitlement
	byOrder      map[string][]string
}

// NewStore constructs an empty order store.
func NewStore() *Store {
	return &Store{
		orders:       make(map[string]domain.Order),
		orderNumbers: make(map[string]string),
		entitlements: make(map[string]domain.DownloadEntitlement),
		byOrder:      make(map[string][]string),
	}
}

// Orders exposes the store as a repositories.OrderRepository.
func (s *Store) Orders() repositories.OrderRepository { return orderRepository{store: s} }

// Entitlements exposes the store as a repositories.EntitlementRepository.
func (s *Store) Entitlements() repositories.EntitlementRepository {
	return entitlementRepository{store: s}
}

type orderRepository struct {
	store *Store
}

func (r orderRepository) Create(_ context.Context, order domain.Order) error {
	s := r.store
	id := strings.TrimSpace(order.ID)
	if id == "" {
		return conflict("orders.create", "order id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[id]; exists {
		return conflict("orders.create", "order %s already exists", id)
	}
	if _, exists := s.orderNumbers[order.OrderNumber]; exists {
		return conflict("orders.create", "order number %s already exists", order.OrderNumber)
	}
	for _, ent := range order.Entitlements {
		if _, exists := s.entitlements[ent.ID]; exists {
			return conflict("orders.create", "entitlement %s already exists", ent.ID)
		}
	}

	stored := order
	stored.LineItems = append([]domain.OrderLineItem(nil), order.LineItems...)
	stored.Entitlements = nil
	s.orders[id] = stored
	s.orderNumbers[order.OrderNumber] = id

	ids := make([]string, 0, len(order.Entitlements))
	for _, ent := range order.Entitlements {
		s.entitlements[ent.ID] = ent
		ids = append(ids, ent.ID)
	}
	s.byOrder[id] = ids
	return nil
}

func (r orderRepository) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[strings.TrimSpace(orderID)]
	if !ok {
		return domain.Order{}, notFound("orders.get", "order %s not found", orderID)
	}
	order.LineItems = append([]domain.OrderLineItem(nil), order.LineItems...)
	order.Entitlements = s.entitlementsForLocked(order.ID)
	return order, nil
}

func (s *Store) entitlementsForLocked(orderID string) []domain.DownloadEntitlement {
	ids := s.byOrder[orderID]
	out := make([]domain.DownloadEntitlement, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entitlements[id])
	}
	return out
}

type entitlementRepository struct {
	store *Store
}

func (r entitlementRepository) FindByID(_ context.Context, entitlementID string) (domain.DownloadEntitlement, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	ent, ok := s.entitlements[strings.TrimSpace(entitlementID)]
	if !ok {
		return domain.DownloadEntitlement{}, repositories.NewEntitlementError("memory.entitlements.get", repositories.EntitlementErrorNotFound, entitlementID)
	}
	return ent, nil
}

func (r entitlementRepository) ListByOrder(_ context.Context, orderID string) ([]domain.DownloadEntitlement, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	orderID = strings.TrimSpace(orderID)
	if _, ok := s.orders[orderID]; !ok {
		return nil, notFound("entitlements.list", "order %s not found", orderID)
	}
	out := s.entitlementsForLocked(orderID)
	sort.SliceStable(out, func(i, j int) bool { return out[i].IssuedAt.Before(out[j].IssuedAt) })
	return out, nil
}

func (r entitlementRepository) Consume(_ context.Context, entitlementID string, now time.Time) (domain.DownloadEntitlement, error) {
	const op = "memory.entitlements.consume"
	s := r.store
	id := strings.TrimSpace(entitlementID)

	s.mu.Lock()
	defer s.mu.Unlock()

	ent, ok := s.entitlements[id]
	if !ok {
		return domain.DownloadEntitlement{}, repositories.NewEntitlementError(op, repositories.EntitlementErrorNotFound, id)
	}
	switch ent.Availability(now) {
	case domain.EntitlementExpired:
		return domain.DownloadEntitlement{}, repositories.NewEntitlementError(op, repositories.EntitlementErrorExpired, id)
	case domain.EntitlementExhausted:
		return domain.DownloadEntitlement{}, repositories.NewEntitlementError(op, repositories.EntitlementErrorExhausted, id)
	}

	usedAt := now.UTC()
	ent.DownloadCount++
	ent.LastUsedAt = &usedAt
	s.entitlements[id] = ent
	return ent, nil
}
