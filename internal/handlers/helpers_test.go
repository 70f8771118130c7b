package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/notifications"
	"github.com/topmanuais/api/internal/payments"
	"github.com/topmanuais/api/internal/platform/idempotency"
	"github.com/topmanuais/api/internal/platform/storage"
	"github.com/topmanuais/api/internal/repositories/memory"
	"github.com/topmanuais/api/internal/services"
)

var testNow = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

type stubProcessor struct {
	mu      sync.Mutex
	decline string
	calls   int
}

func (p *stubProcessor) Authorize(_ context.Context, req payments.AuthorizationRequest) (payments.Authorization, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.decline != "" {
		return payments.Authorization{Approved: false, DeclineReason: p.decline, Provider: "stub"}, nil
	}
	return payments.Authorization{Approved: true, Reference: "pay_" + req.IdempotencyKey, Provider: "stub"}, nil
}

func (p *stubProcessor) setDecline(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decline = reason
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type stubDispatcher struct {
	mu   sync.Mutex
	err  error
	sent []notifications.OrderConfirmation
}

func (d *stubDispatcher) SendOrderConfirmation(_ context.Context, msg notifications.OrderConfirmation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return d.err
}

// testStack is a fully wired API over in-memory storage.
type testStack struct {
	router     http.Handler
	store      *memory.Store
	processor  *stubProcessor
	dispatcher *stubDispatcher
	downloads  services.DownloadService
	registry   *services.SessionRegistry
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	catalogRepo, err := memory.NewCatalogRepository([]domain.CatalogItem{
		{ID: "init-1", Title: "Manual de Iniciação", UnitPrice: decimal.RequireFromString("139.90"), DownloadRef: "manuals/init-1/manual.pdf", Active: true},
		{ID: "adv-2", Title: "Manual Avançado", UnitPrice: decimal.RequireFromString("89.50"), DownloadRef: "manuals/adv-2/manual.pdf", Active: true},
		{ID: "old-3", Title: "Edição Antiga", UnitPrice: decimal.RequireFromString("10.00"), DownloadRef: "manuals/old-3/manual.pdf", Active: false},
	})
	if err != nil {
		t.Fatalf("catalog repo: %v", err)
	}
	catalog, err := services.NewCatalogService(services.CatalogServiceDeps{Repository: catalogRepo})
	if err != nil {
		t.Fatalf("catalog service: %v", err)
	}
	counters, err := services.NewCounterService(services.CounterServiceDeps{Repository: memory.NewCounterRepository(), Clock: fixedClock})
	if err != nil {
		t.Fatalf("counter service: %v", err)
	}
	store := memory.NewStore()
	issuer, err := services.NewOrderIssuer(services.OrderIssuerDeps{Orders: store.Orders(), Counters: counters, Clock: fixedClock, MaxDownloads: 2})
	if err != nil {
		t.Fatalf("order issuer: %v", err)
	}
	links, err := storage.NewPublicLinks("https://files.example.com", time.Hour, fixedClock)
	if err != nil {
		t.Fatalf("links: %v", err)
	}
	downloads, err := services.NewDownloadService(services.DownloadServiceDeps{
		Orders:       store.Orders(),
		Entitlements: store.Entitlements(),
		Links:        links,
		Clock:        fixedClock,
	})
	if err != nil {
		t.Fatalf("download service: %v", err)
	}

	processor := &stubProcessor{}
	dispatcher := &stubDispatcher{}
	registry, err := services.NewSessionRegistry(services.SessionRegistryDeps{
		Clock: fixedClock,
		Factory: func(id string) (*services.ShopperSession, error) {
			return services.NewShopperSession(services.ShopperSessionDeps{
				ID:      id,
				Catalog: catalog,
				Clock:   fixedClock,
				Checkout: services.CheckoutSessionDeps{
					Payments:      processor,
					Issuer:        issuer,
					Dispatcher:    dispatcher,
					PublicBaseURL: "https://loja.example.com/api/v1",
					Clock:         fixedClock,
				},
			})
		},
	})
	if err != nil {
		t.Fatalf("session registry: %v", err)
	}

	orders := NewOrderHandlers(downloads, WithOrderClock(fixedClock))
	checkout := NewCheckoutHandlers(
		WithCheckoutClock(fixedClock),
		WithSubmitMiddleware(idempotency.Middleware(idempotency.NewMemoryStore(),
			idempotency.WithPersistWhen(idempotency.SuccessOnly),
			idempotency.WithClock(fixedClock),
		)),
	)
	router := NewRouter(
		WithCatalogRoutes(NewCatalogHandlers(catalog).Routes),
		WithCartRoutes(NewCartHandlers().Routes),
		WithCheckoutRoutes(checkout.Routes),
		WithOrderRoutes(orders.Routes),
		WithEntitlementRoutes(orders.EntitlementRoutes),
		WithDownloadRoutes(orders.DownloadRoutes),
		WithSessionMiddleware(SessionMiddleware(registry, SessionCookieOptions{})),
	)

	return &testStack{
		router:     router,
		store:      store,
		processor:  processor,
		dispatcher: dispatcher,
		downloads:  downloads,
		registry:   registry,
	}
}

// do sends a request in the given session and returns the recorder.
func (s *testStack) do(t *testing.T, method, path, session string, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set(SessionHeaderName, session)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

// newSession opens a shopper session and returns its ID.
func (s *testStack) newSession(t *testing.T) string {
	t.Helper()
	rr := s.do(t, http.MethodGet, "/api/v1/cart", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 opening session, got %d: %s", rr.Code, rr.Body.String())
	}
	id := rr.Header().Get(SessionHeaderName)
	if id == "" {
		t.Fatalf("expected session header")
	}
	return id
}

// reviewing fills the cart and drives the session's checkout to review.
func (s *testStack) reviewing(t *testing.T, session string) {
	t.Helper()
	steps := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodPost, "/api/v1/cart/items", `{"itemId":"init-1"}`, http.StatusCreated},
		{http.MethodPatch, "/api/v1/checkout/customer", `{"name":"Ana Souza","email":"ana@example.com"}`, http.StatusOK},
		{http.MethodPost, "/api/v1/checkout/customer:confirm", "", http.StatusOK},
		{http.MethodPut, "/api/v1/checkout/payment-method", `{"paymentMethod":"PIX"}`, http.StatusOK},
		{http.MethodPost, "/api/v1/checkout:review", "", http.StatusOK},
	}
	for _, step := range steps {
		rr := s.do(t, step.method, step.path, session, step.body)
		if rr.Code != step.want {
			t.Fatalf("%s %s: expected %d, got %d: %s", step.method, step.path, step.want, rr.Code, rr.Body.String())
		}
	}
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
}

type errorBody struct {
	Error         string              `json:"error"`
	Message       string              `json:"message"`
	Stage         string              `json:"stage"`
	TimedOut      bool                `json:"timedOut"`
	DeclineReason string              `json:"declineReason"`
	Fields        []map[string]string `json:"fields"`
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}
