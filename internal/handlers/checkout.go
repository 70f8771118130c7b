package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/platform/requestctx"
	"github.com/topmanuais/api/internal/services"
)

const maxCheckoutBodySize = 8 * 1024

// CheckoutHandlers drives the checkout state machine of the caller's shopper session.
type CheckoutHandlers struct {
	clock            func() time.Time
	submitMiddleware []func(http.Handler) http.Handler
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithCheckoutClock overrides the clock used when rendering entitlements.
func WithCheckoutClock(clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithSubmitMiddleware wraps the submit endpoint, typically with idempotency handling.
func WithSubmitMiddleware(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.submitMiddleware = append(h.submitMiddleware, mw...)
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoints. The action-style paths require mounting at the API root.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/checkout", h.getCheckout)
	r.Delete("/checkout", h.cancel)
	r.Patch("/checkout/customer", h.updateCustomer)
	r.Post("/checkout/customer:confirm", h.confirmCustomer)
	r.Put("/checkout/payment-method", h.selectPaymentMethod)
	r.Post("/checkout:review", h.review)
	r.Post("/checkout:back", h.goBack)

	submit := r
	for _, mw := range h.submitMiddleware {
		if mw != nil {
			submit = submit.With(mw)
		}
	}
	submit.Post("/checkout:submit", h.submit)
}

type customerRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email"`
	Phone *string `json:"phone"`
	TaxID *string `json:"taxId"`
}

type paymentMethodRequest struct {
	PaymentMethod string `json:"paymentMethod"`
	Token         string `json:"token"`
}

type goBackRequest struct {
	Stage string `json:"stage"`
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	writeCheckout(w, http.StatusOK, session.Checkout().State(), session.Cart())
}

func (h *CheckoutHandlers) updateCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req customerRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		writeBadRequest(ctx, w, "request body must be a JSON object with customer fields")
		return
	}
	state, err := session.Checkout().UpdateCustomer(domain.CustomerPatch{
		Name:  req.Name,
		Email: req.Email,
		Phone: req.Phone,
		TaxID: req.TaxID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckout(w, http.StatusOK, state, session.Cart())
}

func (h *CheckoutHandlers) confirmCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	state, err := session.Checkout().SubmitCustomer()
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckout(w, http.StatusOK, state, session.Cart())
}

func (h *CheckoutHandlers) selectPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req paymentMethodRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		writeBadRequest(ctx, w, "request body must be a JSON object with paymentMethod")
		return
	}
	state, err := session.Checkout().SelectPaymentMethod(req.PaymentMethod, req.Token)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckout(w, http.StatusOK, state, session.Cart())
}

func (h *CheckoutHandlers) review(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	state, err := session.Checkout().Review()
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckout(w, http.StatusOK, state, session.Cart())
}

func (h *CheckoutHandlers) goBack(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req goBackRequest
	if err := httpx.DecodeJSON(r, maxCheckoutBodySize, &req); err != nil {
		writeBadRequest(ctx, w, "request body must be a JSON object with stage")
		return
	}
	stage, valid := domain.ParseCheckoutStage(req.Stage)
	if !valid {
		writeBadRequest(ctx, w, "stage is not a known checkout stage")
		return
	}
	state, err := session.Checkout().GoBack(stage)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckout(w, http.StatusOK, state, session.Cart())
}

func (h *CheckoutHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	state, err := session.Checkout().Cancel(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCheckout(w, http.StatusOK, state, session.Cart())
}

func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	result, err := session.Submit(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.NoteOrder(ctx, result.Order.ID)

	payload := map[string]any{
		"order":    buildOrderPayload(result.Order, h.clock().UTC()),
		"replayed": result.Replayed,
		"checkout": buildCheckoutPayload(session.Checkout().State()),
	}
	if result.DispatchError != nil {
		payload["notification"] = map[string]any{
			"delivered": false,
			"warning":   "your order is confirmed but the confirmation email could not be sent; your downloads are available below",
		}
	}
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, status, payload)
}

func writeCheckout(w http.ResponseWriter, status int, state services.CheckoutState, cart domain.Cart) {
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, status, map[string]any{
		"checkout": buildCheckoutPayload(state),
		"cart":     buildCartPayload(cart),
	})
}
