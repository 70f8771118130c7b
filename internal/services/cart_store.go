package services

import (
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
)

// AddOutcome reports what Add did with the item.
type AddOutcome string

const (
	// AddOutcomeAdded means a new entry with quantity 1 was inserted.
	AddOutcomeAdded AddOutcome = "added"
	// AddOutcomeAlreadyInCart means the item was present and the cart is unchanged.
	AddOutcomeAlreadyInCart AddOutcome = "already_in_cart"
)

// CartStore is the in-memory cart of one shopper. Entries keep insertion order and
// there is at most one entry per item ID.
type CartStore struct {
	mu      sync.Mutex
	entries []domain.CartEntry
	now     func() time.Time
}

// NewCartStore constructs an empty cart. A nil clock defaults to time.Now.
func NewCartStore(clock func() time.Time) *CartStore {
	return &CartStore{now: utcClock(clock)}
}

// Add inserts the item with quantity 1 unless it is already present. The item ID is
// stored trimmed so lookups by a padded ID find the same entry.
func (c *CartStore) Add(item domain.CatalogItem) AddOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	item.ID = strings.TrimSpace(item.ID)
	if c.indexLocked(item.ID) >= 0 {
		return AddOutcomeAlreadyInCart
	}
	c.entries = append(c.entries, domain.CartEntry{Item: item, Quantity: 1, AddedAt: c.now()})
	return AddOutcomeAdded
}

// Remove deletes the entry for itemID. Missing items are ignored.
func (c *CartStore) Remove(itemID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(itemID)
}

// SetQuantity replaces the quantity of an existing entry. A quantity below 1 removes it.
// It reports whether an entry for itemID existed.
func (c *CartStore) SetQuantity(itemID string, qty int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.indexLocked(itemID)
	if idx < 0 {
		return false
	}
	if qty < 1 {
		c.removeLocked(itemID)
		return true
	}
	c.entries[idx].Quantity = qty
	return true
}

// Clear empties the cart.
func (c *CartStore) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
}

// Contains reports whether an entry for itemID exists.
func (c *CartStore) Contains(itemID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexLocked(itemID) >= 0
}

// Len returns the number of distinct entries.
func (c *CartStore) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Snapshot returns a copy of the entries with aggregates computed from them.
func (c *CartStore) Snapshot() domain.Cart {
	c.mu.Lock()
	defer c.mu.Unlock()

	entries := make([]domain.CartEntry, len(c.entries))
	copy(entries, c.entries)
	return summarizeCart(entries)
}

func summarizeCart(entries []domain.CartEntry) domain.Cart {
	total := decimal.Zero
	count := 0
	for _, entry := range entries {
		total = total.Add(entry.Subtotal())
		count += entry.Quantity
	}
	return domain.Cart{Entries: entries, Total: total, ItemCount: count}
}

func (c *CartStore) indexLocked(itemID string) int {
	id := strings.TrimSpace(itemID)
	for i, entry := range c.entries {
		if entry.Item.ID == id {
			return i
		}
	}
	return -1
}

func (c *CartStore) removeLocked(itemID string) {
	idx := c.indexLocked(itemID)
	if idx < 0 {
		return
	}
	c.entries = append(c.entries[:idx], c.entries[idx+1:]...)
}
