package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/services"
)

const maxCartBodySize = 4 * 1024

// CartHandlers exposes the shopper cart. Requests must pass through SessionMiddleware.
type CartHandlers struct{}

// NewCartHandlers constructs cart handlers.
func NewCartHandlers() *CartHandlers {
	return &CartHandlers{}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Delete("/", h.clearCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{itemId}", h.setQuantity)
	r.Delete("/items/{itemId}", h.removeItem)
}

type addCartItemRequest struct {
	ItemID string `json:"itemId"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	writeCart(w, http.StatusOK, session.Cart(), nil)
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		writeBadRequest(ctx, w, "request body must be a JSON object with itemId")
		return
	}
	itemID := strings.TrimSpace(req.ItemID)
	if itemID == "" {
		writeBadRequest(ctx, w, "itemId is required")
		return
	}

	outcome, cart, err := session.AddItem(ctx, itemID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	status := http.StatusCreated
	alreadyInCart := outcome == services.AddOutcomeAlreadyInCart
	if alreadyInCart {
		status = http.StatusOK
	}
	writeCart(w, status, cart, map[string]any{"alreadyInCart": alreadyInCart})
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	var req setQuantityRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil || req.Quantity == nil {
		writeBadRequest(ctx, w, "request body must be a JSON object with quantity")
		return
	}
	cart, err := session.SetQuantity(chi.URLParam(r, "itemId"), *req.Quantity)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart, nil)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	cart, err := session.RemoveItem(chi.URLParam(r, "itemId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, cart, nil)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if err := session.ClearCart(); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeCart(w, http.StatusOK, session.Cart(), nil)
}

func writeCart(w http.ResponseWriter, status int, cart domain.Cart, extra map[string]any) {
	w.Header().Set("Cache-Control", "no-store")
	payload := map[string]any{"cart": buildCartPayload(cart)}
	for k, v := range extra {
		payload[k] = v
	}
	httpx.WriteJSON(w, status, payload)
}
