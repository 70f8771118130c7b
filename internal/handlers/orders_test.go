package handlers

import (
	"net/http"
	"strings"
	"testing"
	"time"
)

// placeOrder runs a full checkout and returns the resulting order.
func placeOrder(t *testing.T, stack *testStack) orderPayload {
	t.Helper()
	session := stack.newSession(t)
	stack.reviewing(t, session)
	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "order")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp submitResponse
	decodeBody(t, rr, &resp)
	return resp.Order
}

func TestOrderHandlersGetOrder(t *testing.T) {
	stack := newTestStack(t)
	order := placeOrder(t, stack)

	rr := stack.do(t, http.MethodGet, "/api/v1/orders/"+order.ID, "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var got orderPayload
	decodeBody(t, rr, &got)
	if got.OrderNumber != order.OrderNumber || got.PaymentStatus != "approved" {
		t.Fatalf("unexpected order %#v", got)
	}
	if len(got.LineItems) != 1 || got.LineItems[0].Subtotal != "139.90" {
		t.Fatalf("unexpected line items %#v", got.LineItems)
	}

	rr = stack.do(t, http.MethodGet, "/api/v1/orders/missing", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersListEntitlements(t *testing.T) {
	stack := newTestStack(t)
	order := placeOrder(t, stack)

	rr := stack.do(t, http.MethodGet, "/api/v1/orders/"+order.ID+"/entitlements", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp struct {
		Entitlements []entitlementPayload `json:"entitlements"`
	}
	decodeBody(t, rr, &resp)
	if len(resp.Entitlements) != 1 {
		t.Fatalf("expected one entitlement, got %d", len(resp.Entitlements))
	}
	ent := resp.Entitlements[0]
	if ent.MaxDownloads != 2 || ent.RemainingDownloads != 2 || ent.ItemID != "init-1" {
		t.Fatalf("unexpected entitlement %#v", ent)
	}
	if !ent.ExpiresAt.After(testNow) {
		t.Fatalf("expected expiry after issue, got %s", ent.ExpiresAt)
	}
}

func TestOrderHandlersConsumeUntilExhausted(t *testing.T) {
	stack := newTestStack(t)
	order := placeOrder(t, stack)
	entID := order.Entitlements[0].ID

	for i := 1; i <= 2; i++ {
		rr := stack.do(t, http.MethodPost, "/api/v1/entitlements/"+entID+":consume", "", "")
		if rr.Code != http.StatusOK {
			t.Fatalf("consume %d: expected 200, got %d: %s", i, rr.Code, rr.Body.String())
		}
		var target downloadTargetPayload
		decodeBody(t, rr, &target)
		if target.DownloadCount != i || target.RemainingDownloads != 2-i {
			t.Fatalf("consume %d: unexpected counters %#v", i, target)
		}
		if !strings.HasPrefix(target.URL, "https://files.example.com/files/") {
			t.Fatalf("unexpected url %q", target.URL)
		}
	}

	rr := stack.do(t, http.MethodPost, "/api/v1/entitlements/"+entID+":consume", "", "")
	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403 once exhausted, got %d", rr.Code)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Error != "entitlement_exhausted" {
		t.Fatalf("unexpected error %#v", body)
	}

	rr = stack.do(t, http.MethodPost, "/api/v1/entitlements/unknown:consume", "", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestOrderHandlersDownloadRedirects(t *testing.T) {
	stack := newTestStack(t)
	order := placeOrder(t, stack)

	rr := stack.do(t, http.MethodGet, "/api/v1/downloads/"+order.Entitlements[0].ID, "", "")
	if rr.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d: %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); !strings.HasPrefix(loc, "https://files.example.com/files/") {
		t.Fatalf("unexpected redirect %q", loc)
	}

	msgs := stack.dispatcher.sent
	if len(msgs) != 1 || len(msgs[0].LineItems) != 1 {
		t.Fatalf("expected confirmation with one line item, got %#v", msgs)
	}
	if want := "https://loja.example.com/api/v1/downloads/" + order.Entitlements[0].ID; msgs[0].LineItems[0].DownloadURL != want {
		t.Fatalf("expected emailed link %q, got %q", want, msgs[0].LineItems[0].DownloadURL)
	}
}

func TestOrderHandlersRateLimitDownloads(t *testing.T) {
	stack := newTestStack(t)
	order := placeOrder(t, stack)

	limited := NewOrderHandlers(stack.downloads, WithOrderClock(fixedClock), WithDownloadRateLimit(1, time.Minute))
	router := NewRouter(WithEntitlementRoutes(limited.EntitlementRoutes))

	path := "/api/v1/entitlements/" + order.Entitlements[0].ID + ":consume"
	if rr := serve(router, http.MethodPost, path); rr.Code != http.StatusOK {
		t.Fatalf("expected first consume to pass, got %d", rr.Code)
	}
	rr := serve(router, http.MethodPost, path)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("expected Retry-After 60, got %q", rr.Header().Get("Retry-After"))
	}
}

func TestClientLimiterRefills(t *testing.T) {
	now := testNow
	limiter := newClientLimiter(2, time.Minute, func() time.Time { return now })

	for i := 0; i < 2; i++ {
		if ok, _ := limiter.Allow("k"); !ok {
			t.Fatalf("expected request %d to pass", i)
		}
	}
	ok, wait := limiter.Allow("k")
	if ok || wait != 30*time.Second {
		t.Fatalf("expected limit with 30s wait, got %v %s", ok, wait)
	}
	if ok, _ := limiter.Allow("other"); !ok {
		t.Fatalf("keys must be independent")
	}

	now = now.Add(30 * time.Second)
	if ok, _ := limiter.Allow("k"); !ok {
		t.Fatalf("expected one token to refill")
	}
	if ok, _ := limiter.Allow("k"); ok {
		t.Fatalf("expected bucket to be empty again")
	}
	if newClientLimiter(0, time.Minute, nil) != nil {
		t.Fatalf("expected disabled limiter")
	}
}
