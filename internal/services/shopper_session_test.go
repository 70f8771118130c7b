package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/payments"
	"github.com/topmanuais/api/internal/repositories/memory"
)

func newShopperFixture(t *testing.T, items ...domain.CatalogItem) (*ShopperSession, *checkoutFixture) {
	t.Helper()
	if len(items) == 0 {
		items = []domain.CatalogItem{sampleItem()}
	}
	repo, err := memory.NewCatalogRepository(items)
	if err != nil {
		t.Fatalf("catalog repo: %v", err)
	}
	catalog, err := NewCatalogService(CatalogServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("catalog service: %v", err)
	}
	f := newCheckoutFixture(t)
	session, err := NewShopperSession(ShopperSessionDeps{ID: "sess-1", Catalog: catalog, Checkout: f.deps, Clock: fixedClock})
	if err != nil {
		t.Fatalf("shopper session: %v", err)
	}
	return session, f
}

func driveToReview(t *testing.T, c *CheckoutSession) {
	t.Helper()
	name, email := "Ana", "ana@x.com"
	if _, err := c.UpdateCustomer(domain.CustomerPatch{Name: &name, Email: &email}); err != nil {
		t.Fatalf("update customer: %v", err)
	}
	if _, err := c.SubmitCustomer(); err != nil {
		t.Fatalf("submit customer: %v", err)
	}
	if _, err := c.SelectPaymentMethod("pix", ""); err != nil {
		t.Fatalf("select payment: %v", err)
	}
}

func TestShopperSessionAddItem(t *testing.T) {
	inactive := sampleItem()
	inactive.ID = "old-1"
	inactive.Active = false
	session, _ := newShopperFixture(t, sampleItem(), inactive)
	ctx := context.Background()

	outcome, cart, err := session.AddItem(ctx, "init-1")
	if err != nil || outcome != AddOutcomeAdded || cart.ItemCount != 1 {
		t.Fatalf("unexpected add result %s %+v %v", outcome, cart, err)
	}
	outcome, cart, err = session.AddItem(ctx, "init-1")
	if err != nil || outcome != AddOutcomeAlreadyInCart || len(cart.Entries) != 1 {
		t.Fatalf("duplicate add must be informational, got %s %v", outcome, err)
	}
	if _, _, err := session.AddItem(ctx, "nope"); !errors.Is(err, ErrCatalogItemNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, _, err := session.AddItem(ctx, "old-1"); !errors.Is(err, ErrCatalogItemUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestShopperSessionEmptyingCartResetsCheckout(t *testing.T) {
	session, _ := newShopperFixture(t)
	ctx := context.Background()
	if _, _, err := session.AddItem(ctx, "init-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	driveToReview(t, session.Checkout())

	if _, err := session.RemoveItem("init-1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	state := session.Checkout().State()
	if state.Stage != domain.CheckoutStageCollectingCustomer || state.Customer.Name != "" || state.PaymentMethod != "" {
		t.Fatalf("expected reset checkout, got %+v", state)
	}
}

func TestShopperSessionSetQuantity(t *testing.T) {
	session, _ := newShopperFixture(t)
	if _, _, err := session.AddItem(context.Background(), "init-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	cart, err := session.SetQuantity("init-1", 3)
	if err != nil || cart.ItemCount != 3 || cart.Total.StringFixed(2) != "419.70" {
		t.Fatalf("unexpected cart %+v err %v", cart, err)
	}
	if _, err := session.SetQuantity("missing", 2); !errors.Is(err, ErrCartItemNotFound) {
		t.Fatalf("expected cart item not found, got %v", err)
	}
	cart, err = session.SetQuantity("init-1", 0)
	if err != nil || !cart.IsEmpty() {
		t.Fatalf("quantity 0 must remove, got %+v %v", cart, err)
	}
}

func TestShopperSessionSubmitClearsCartOnlyOnSuccess(t *testing.T) {
	session, f := newShopperFixture(t)
	ctx := context.Background()
	if _, _, err := session.AddItem(ctx, "init-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	driveToReview(t, session.Checkout())

	attempts := 0
	f.processor.fn = func(context.Context, payments.AuthorizationRequest) (payments.Authorization, error) {
		attempts++
		if attempts == 1 {
			return payments.Authorization{DeclineReason: "do_not_honor"}, nil
		}
		return payments.Authorization{Approved: true, Reference: "pay-ok"}, nil
	}

	if _, err := session.Submit(ctx); err == nil {
		t.Fatalf("expected decline")
	}
	if session.Cart().IsEmpty() {
		t.Fatalf("cart must survive a failed submission")
	}

	result, err := session.Submit(ctx)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !session.Cart().IsEmpty() {
		t.Fatalf("cart must be cleared after the order")
	}
	if len(result.Order.LineItems) != 1 || result.Order.LineItems[0].ItemID != "init-1" {
		t.Fatalf("unexpected order lines %+v", result.Order.LineItems)
	}
}

func TestShopperSessionRejectsCartEditsWhileProcessing(t *testing.T) {
	session, f := newShopperFixture(t)
	ctx := context.Background()
	if _, _, err := session.AddItem(ctx, "init-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	driveToReview(t, session.Checkout())

	release := make(chan struct{})
	f.processor.fn = func(context.Context, payments.AuthorizationRequest) (payments.Authorization, error) {
		<-release
		return payments.Authorization{Approved: true, Reference: "pay-1"}, nil
	}
	done := make(chan error, 1)
	go func() {
		_, err := session.Submit(ctx)
		done <- err
	}()
	waitFor(t, session.Checkout().Processing)

	if _, err := session.RemoveItem("init-1"); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	if _, _, err := session.AddItem(ctx, "init-1"); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	if err := session.ClearCart(); !errors.Is(err, ErrConcurrentModification) {
		t.Fatalf("expected concurrent modification, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("submit: %v", err)
	}
}

func TestShopperSessionAddAfterOrderStartsFreshCheckout(t *testing.T) {
	session, _ := newShopperFixture(t)
	ctx := context.Background()
	if _, _, err := session.AddItem(ctx, "init-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	driveToReview(t, session.Checkout())
	if _, err := session.Submit(ctx); err != nil {
		t.Fatalf("submit: %v", err)
	}

	if _, _, err := session.AddItem(ctx, "init-1"); err != nil {
		t.Fatalf("add after order: %v", err)
	}
	if stage := session.Checkout().State().Stage; stage != domain.CheckoutStageCollectingCustomer {
		t.Fatalf("expected fresh checkout, got %s", stage)
	}
}

func TestSessionRegistryLifecycle(t *testing.T) {
	now := testNow
	clock := func() time.Time { return now }
	repo, _ := memory.NewCatalogRepository([]domain.CatalogItem{sampleItem()})
	catalog, _ := NewCatalogService(CatalogServiceDeps{Repository: repo})
	f := newCheckoutFixture(t)

	var sizes []int
	seq := 0
	registry, err := NewSessionRegistry(SessionRegistryDeps{
		Factory: func(id string) (*ShopperSession, error) {
			return NewShopperSession(ShopperSessionDeps{ID: id, Catalog: catalog, Checkout: f.deps, Clock: clock})
		},
		IdleTTL: time.Hour,
		Clock:   clock,
		IDGenerator: func() string {
			seq++
			return "sess-" + string(rune('a'+seq-1))
		},
		ActiveSessions: func(n int) { sizes = append(sizes, n) },
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	ctx := context.Background()

	first, created, err := registry.GetOrCreate(ctx, "forged-id")
	if err != nil || !created || first.ID() != "sess-a" {
		t.Fatalf("unknown ids must get a fresh session, got %v %v %v", first, created, err)
	}
	again, created, err := registry.GetOrCreate(ctx, "sess-a")
	if err != nil || created || again != first {
		t.Fatalf("expected existing session")
	}
	second, _, _ := registry.GetOrCreate(ctx, "")
	if registry.Len() != 2 {
		t.Fatalf("expected two sessions, got %d", registry.Len())
	}

	now = now.Add(50 * time.Minute)
	second.Touch()
	now = now.Add(20 * time.Minute)

	if removed := registry.SweepIdle(ctx, now); removed != 1 {
		t.Fatalf("expected one eviction, got %d", removed)
	}
	if _, ok := registry.Get("sess-a"); ok {
		t.Fatalf("idle session must be evicted")
	}
	if _, ok := registry.Get(second.ID()); !ok {
		t.Fatalf("active session must be kept")
	}
	if got := sizes[len(sizes)-1]; got != 1 {
		t.Fatalf("expected gauge update to 1, got %d", got)
	}
}

func TestSessionRegistryKeepsProcessingSessions(t *testing.T) {
	now := testNow
	clock := func() time.Time { return now }
	repo, _ := memory.NewCatalogRepository([]domain.CatalogItem{sampleItem()})
	catalog, _ := NewCatalogService(CatalogServiceDeps{Repository: repo})
	f := newCheckoutFixture(t)
	release := make(chan struct{})
	f.processor.fn = func(context.Context, payments.AuthorizationRequest) (payments.Authorization, error) {
		<-release
		return payments.Authorization{Approved: true, Reference: "pay-1"}, nil
	}
	registry, _ := NewSessionRegistry(SessionRegistryDeps{
		Factory: func(id string) (*ShopperSession, error) {
			return NewShopperSession(ShopperSessionDeps{ID: id, Catalog: catalog, Checkout: f.deps, Clock: clock})
		},
		IdleTTL: time.Minute,
		Clock:   clock,
	})
	ctx := context.Background()
	session, _, _ := registry.GetOrCreate(ctx, "")
	if _, _, err := session.AddItem(ctx, "init-1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	driveToReview(t, session.Checkout())

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = session.Submit(ctx)
	}()
	waitFor(t, session.Checkout().Processing)

	if removed := registry.SweepIdle(ctx, now.Add(time.Hour)); removed != 0 {
		t.Fatalf("processing session must not be evicted")
	}
	close(release)
	<-done
}
