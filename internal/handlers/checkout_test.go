package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

type checkoutResponse struct {
	Checkout checkoutPayload `json:"checkout"`
	Cart     cartPayload     `json:"cart"`
}

type submitResponse struct {
	Order        orderPayload    `json:"order"`
	Replayed     bool            `json:"replayed"`
	Checkout     checkoutPayload `json:"checkout"`
	Notification *struct {
		Delivered bool   `json:"delivered"`
		Warning   string `json:"warning"`
	} `json:"notification"`
}

func TestCheckoutHandlersSubmitSuccess(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)
	stack.reviewing(t, session)

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "submit-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp submitResponse
	decodeBody(t, rr, &resp)
	if resp.Replayed {
		t.Fatalf("expected a fresh order")
	}
	if !strings.HasPrefix(resp.Order.OrderNumber, "TM-2025-") {
		t.Fatalf("unexpected order number %q", resp.Order.OrderNumber)
	}
	if resp.Order.Total != "139.90" || resp.Order.PaymentMethod != "pix" {
		t.Fatalf("unexpected order %#v", resp.Order)
	}
	if len(resp.Order.Entitlements) != 1 || resp.Order.Entitlements[0].Status != "available" {
		t.Fatalf("expected one available entitlement, got %#v", resp.Order.Entitlements)
	}
	if resp.Checkout.Stage != "done" || resp.Checkout.OrderID != resp.Order.ID {
		t.Fatalf("unexpected checkout state %#v", resp.Checkout)
	}
	if resp.Notification != nil {
		t.Fatalf("expected no notification warning")
	}
	if len(stack.dispatcher.sent) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(stack.dispatcher.sent))
	}

	cart := stack.do(t, http.MethodGet, "/api/v1/cart", session, "")
	var cartResp cartResponse
	decodeBody(t, cart, &cartResp)
	if cartResp.Cart.ItemCount != 0 {
		t.Fatalf("expected cart to be cleared, got %#v", cartResp.Cart)
	}
}

func TestCheckoutHandlersSubmitIdempotentRetry(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)
	stack.reviewing(t, session)

	first := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "submit-1")
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	retry := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "submit-1")
	if retry.Code != http.StatusCreated {
		t.Fatalf("expected stored 201, got %d", retry.Code)
	}
	if retry.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatalf("expected replay header")
	}
	if retry.Body.String() != first.Body.String() {
		t.Fatalf("expected identical body on replay")
	}

	other := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "submit-2")
	if other.Code != http.StatusOK {
		t.Fatalf("expected 200 replay of completed checkout, got %d", other.Code)
	}
	var resp submitResponse
	decodeBody(t, other, &resp)
	if !resp.Replayed {
		t.Fatalf("expected replayed flag")
	}
	if got := stack.processor.callCount(); got != 1 {
		t.Fatalf("expected exactly one authorization, got %d", got)
	}
}

func TestCheckoutHandlersSubmitRequiresIdempotencyKey(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)
	stack.reviewing(t, session)

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", rr.Code)
	}
	if stack.processor.callCount() != 0 {
		t.Fatalf("processor must not be called")
	}
}

func TestCheckoutHandlersDeclineThenRetry(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)
	stack.reviewing(t, session)
	stack.processor.setDecline("insufficient_funds")

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "try-1")
	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Error != "payment_failed" || body.DeclineReason != "insufficient_funds" || body.TimedOut {
		t.Fatalf("unexpected payment error %#v", body)
	}

	state := stack.do(t, http.MethodGet, "/api/v1/checkout", session, "")
	var resp checkoutResponse
	decodeBody(t, state, &resp)
	if resp.Checkout.Stage != "reviewing" || resp.Checkout.Customer.Email != "ana@example.com" || resp.Cart.ItemCount != 1 {
		t.Fatalf("expected reviewing with data intact, got %#v", resp)
	}

	stack.processor.setDecline("")
	rr = stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "try-1")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected retry with same key to run again after a failure, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCheckoutHandlersSubmitEmptyCart(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)

	for _, step := range []struct{ method, path, body string }{
		{http.MethodPatch, "/api/v1/checkout/customer", `{"name":"Ana","email":"ana@example.com"}`},
		{http.MethodPost, "/api/v1/checkout/customer:confirm", ""},
		{http.MethodPut, "/api/v1/checkout/payment-method", `{"paymentMethod":"credit-card","token":"tok_visa"}`},
	} {
		if rr := stack.do(t, step.method, step.path, session, step.body); rr.Code != http.StatusOK {
			t.Fatalf("%s %s: got %d", step.method, step.path, rr.Code)
		}
	}

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "empty")
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", rr.Code, rr.Body.String())
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Error != "cart_empty" || body.Stage != "reviewing" {
		t.Fatalf("unexpected error %#v", body)
	}
	if stack.processor.callCount() != 0 {
		t.Fatalf("processor must not be called for an empty cart")
	}
}

func TestCheckoutHandlersSubmitBeforeReview(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)
	stack.do(t, http.MethodPost, "/api/v1/cart/items", session, `{"itemId":"init-1"}`)

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "early")
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d", rr.Code)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Error != "precondition_failed" || body.Stage != "collecting_customer" {
		t.Fatalf("unexpected error %#v", body)
	}
}

func TestCheckoutHandlersCustomerValidation(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)

	rr := stack.do(t, http.MethodPatch, "/api/v1/checkout/customer", session, `{"name":"","email":"not-an-email"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected partial update to be accepted, got %d", rr.Code)
	}

	rr = stack.do(t, http.MethodPost, "/api/v1/checkout/customer:confirm", session, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if body.Error != "validation_failed" || len(body.Fields) != 2 {
		t.Fatalf("expected two field errors, got %#v", body)
	}

	rr = stack.do(t, http.MethodPatch, "/api/v1/checkout/customer", session, `{"nickname":"x"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestCheckoutHandlersPaymentMethodValidation(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)

	rr := stack.do(t, http.MethodPut, "/api/v1/checkout/payment-method", session, `{"paymentMethod":"pix"}`)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 before customer is confirmed, got %d", rr.Code)
	}

	stack.do(t, http.MethodPatch, "/api/v1/checkout/customer", session, `{"name":"Ana","email":"ana@example.com"}`)
	stack.do(t, http.MethodPost, "/api/v1/checkout/customer:confirm", session, "")

	rr = stack.do(t, http.MethodPut, "/api/v1/checkout/payment-method", session, `{"paymentMethod":"bitcoin"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported method, got %d", rr.Code)
	}
	var body errorBody
	decodeBody(t, rr, &body)
	if len(body.Fields) != 1 || body.Fields[0]["field"] != "paymentMethod" {
		t.Fatalf("unexpected fields %#v", body.Fields)
	}
}

func TestCheckoutHandlersGoBackAndCancel(t *testing.T) {
	stack := newTestStack(t)
	session := stack.newSession(t)
	stack.reviewing(t, session)

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:back", session, `{"stage":"collecting_customer"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp checkoutResponse
	decodeBody(t, rr, &resp)
	if resp.Checkout.Stage != "collecting_customer" || resp.Checkout.Customer.Name != "Ana Souza" || resp.Checkout.PaymentMethod != "pix" {
		t.Fatalf("expected earlier stage with data kept, got %#v", resp.Checkout)
	}
	checkoutID := resp.Checkout.CheckoutID

	rr = stack.do(t, http.MethodPost, "/api/v1/checkout:back", session, `{"stage":"reviewing"}`)
	if rr.Code != http.StatusPreconditionFailed {
		t.Fatalf("expected 412 moving forward, got %d", rr.Code)
	}
	rr = stack.do(t, http.MethodPost, "/api/v1/checkout:back", session, `{"stage":"somewhere"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d", rr.Code)
	}

	rr = stack.do(t, http.MethodDelete, "/api/v1/checkout", session, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var cancelled checkoutResponse
	decodeBody(t, rr, &cancelled)
	if cancelled.Checkout.Stage != "collecting_customer" || cancelled.Checkout.Customer.Name != "" || cancelled.Checkout.PaymentMethod != "" {
		t.Fatalf("expected cleared checkout, got %#v", cancelled.Checkout)
	}
	if cancelled.Checkout.CheckoutID == checkoutID {
		t.Fatalf("expected a new checkout id after cancel")
	}
	if cancelled.Cart.ItemCount != 1 {
		t.Fatalf("cancel must keep the cart, got %#v", cancelled.Cart)
	}
}

func TestCheckoutHandlersDispatchFailureKeepsOrder(t *testing.T) {
	stack := newTestStack(t)
	stack.dispatcher.err = errors.New("smtp down")
	session := stack.newSession(t)
	stack.reviewing(t, session)

	rr := stack.do(t, http.MethodPost, "/api/v1/checkout:submit", session, "", "Idempotency-Key", "k")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	var resp submitResponse
	decodeBody(t, rr, &resp)
	if resp.Notification == nil || resp.Notification.Delivered {
		t.Fatalf("expected notification warning, got %#v", resp.Notification)
	}
	if resp.Order.ID == "" {
		t.Fatalf("expected order to stand")
	}
}

func TestCheckoutHandlersSessionsAreIsolated(t *testing.T) {
	stack := newTestStack(t)
	first := stack.newSession(t)
	second := stack.newSession(t)
	stack.reviewing(t, first)

	rr := stack.do(t, http.MethodGet, "/api/v1/checkout", second, "")
	var resp checkoutResponse
	decodeBody(t, rr, &resp)
	if resp.Checkout.Stage != "collecting_customer" || resp.Cart.ItemCount != 0 {
		t.Fatalf("expected untouched second session, got %#v", resp)
	}
}
