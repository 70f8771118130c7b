package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/notifications"
	"github.com/topmanuais/api/internal/payments"
	"github.com/topmanuais/api/internal/repositories/memory"
)

var testNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func sampleItem() domain.CatalogItem {
	return domain.CatalogItem{
		ID:          "init-1",
		Title:       "Manual de Exemplo",
		UnitPrice:   decimal.RequireFromString("139.90"),
		DownloadRef: "manuals/init-1/manual.pdf",
		Active:      true,
	}
}

func cartWith(items ...domain.CatalogItem) domain.Cart {
	store := NewCartStore(fixedClock)
	for _, item := range items {
		store.Add(item)
	}
	return store.Snapshot()
}

type stubProcessor struct {
	mu       sync.Mutex
	requests []payments.AuthorizationRequest
	fn       func(ctx context.Context, req payments.AuthorizationRequest) (payments.Authorization, error)
}

func (s *stubProcessor) Authorize(ctx context.Context, req payments.AuthorizationRequest) (payments.Authorization, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.fn == nil {
		return payments.Authorization{Approved: true, Reference: "pay_" + req.IdempotencyKey, Provider: "stub"}, nil
	}
	return s.fn(ctx, req)
}

func (s *stubProcessor) calls() []payments.AuthorizationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]payments.AuthorizationRequest(nil), s.requests...)
}

type stubDispatcher struct {
	mu   sync.Mutex
	msgs []notifications.OrderConfirmation
	err  error
}

func (s *stubDispatcher) SendOrderConfirmation(_ context.Context, msg notifications.OrderConfirmation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return s.err
}

func (s *stubDispatcher) sent() []notifications.OrderConfirmation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.OrderConfirmation(nil), s.msgs...)
}

type countingIssuer struct {
	OrderIssuer
	mu        sync.Mutex
	finalized int
	failNext  error
}

func (c *countingIssuer) Finalize(ctx context.Context, draft OrderDraft, auth payments.Authorization) (domain.Order, error) {
	c.mu.Lock()
	c.finalized++
	failure := c.failNext
	c.failNext = nil
	c.mu.Unlock()
	if failure != nil {
		return domain.Order{}, failure
	}
	return c.OrderIssuer.Finalize(ctx, draft, auth)
}

func (c *countingIssuer) finalizeCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.finalized
}

type recordingMetrics struct {
	mu        sync.Mutex
	checkouts []string
	payments  []string
	consumes  []string
	notified  []string
}

func (m *recordingMetrics) ObserveCheckout(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkouts = append(m.checkouts, outcome)
}

func (m *recordingMetrics) ObservePayment(_ string, result string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments = append(m.payments, result)
}

func (m *recordingMetrics) ObserveConsume(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumes = append(m.consumes, result)
}

func (m *recordingMetrics) ObserveNotification(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notified = append(m.notified, result)
}

type checkoutFixture struct {
	store      *memory.Store
	processor  *stubProcessor
	dispatcher *stubDispatcher
	issuer     *countingIssuer
	metrics    *recordingMetrics
	deps       CheckoutSessionDeps
}

func newCheckoutFixture(t *testing.T) *checkoutFixture {
	t.Helper()
	store := memory.NewStore()
	counters, err := NewCounterService(CounterServiceDeps{Repository: memory.NewCounterRepository(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("counter service: %v", err)
	}
	issuer, err := NewOrderIssuer(OrderIssuerDeps{Orders: store.Orders(), Counters: counters, Clock: fixedClock})
	if err != nil {
		t.Fatalf("order issuer: %v", err)
	}
	f := &checkoutFixture{
		store:      store,
		processor:  &stubProcessor{},
		dispatcher: &stubDispatcher{},
		issuer:     &countingIssuer{OrderIssuer: issuer},
		metrics:    &recordingMetrics{},
	}
	f.deps = CheckoutSessionDeps{
		SessionID:     "sess-1",
		Payments:      f.processor,
		Issuer:        f.issuer,
		Dispatcher:    f.dispatcher,
		PublicBaseURL: "https://loja.example.com/",
		Clock:         fixedClock,
		Metrics:       f.metrics,
	}
	return f
}

func (f *checkoutFixture) session(t *testing.T) *CheckoutSession {
	t.Helper()
	session, err := NewCheckoutSession(f.deps)
	if err != nil {
		t.Fatalf("new checkout session: %v", err)
	}
	return session
}

// reviewing drives a fresh session to REVIEWING with Ana paying by PIX.
func (f *checkoutFixture) reviewing(t *testing.T) *CheckoutSession {
	t.Helper()
	session := f.session(t)
	name, email := "Ana", "ana@x.com"
	if _, err := session.UpdateCustomer(domain.CustomerPatch{Name: &name, Email: &email}); err != nil {
		t.Fatalf("update customer: %v", err)
	}
	if _, err := session.SubmitCustomer(); err != nil {
		t.Fatalf("submit customer: %v", err)
	}
	if _, err := session.SelectPaymentMethod("PIX", ""); err != nil {
		t.Fatalf("select payment: %v", err)
	}
	return session
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
