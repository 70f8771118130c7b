package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/platform/requestctx"
	"github.com/topmanuais/api/internal/services"
)

const (
	defaultDownloadRateLimit  = 30
	defaultDownloadRateWindow = time.Minute
)

// OrderHandlers exposes orders and their download entitlements. Order and entitlement
// IDs are unguessable and act as the access capability.
type OrderHandlers struct {
	downloads services.DownloadService
	clock     func() time.Time
	limiter   rateLimiter
}

// OrderOption customises OrderHandlers.
type OrderOption func(*OrderHandlers)

// WithOrderClock overrides the clock used to classify entitlements.
func WithOrderClock(clock func() time.Time) OrderOption {
	return func(h *OrderHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithDownloadRateLimit bounds consume and download requests per client address.
// A non-positive limit disables limiting.
func WithDownloadRateLimit(limit int, window time.Duration) OrderOption {
	return func(h *OrderHandlers) {
		h.limiter = newClientLimiter(limit, window, func() time.Time { return h.clock() })
	}
}

// NewOrderHandlers constructs order handlers.
func NewOrderHandlers(downloads services.DownloadService, opts ...OrderOption) *OrderHandlers {
	h := &OrderHandlers{downloads: downloads, clock: time.Now}
	h.limiter = newClientLimiter(defaultDownloadRateLimit, defaultDownloadRateWindow, func() time.Time { return h.clock() })
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/{orderId}", h.getOrder)
	r.Get("/{orderId}/entitlements", h.listEntitlements)
}

// EntitlementRoutes registers the consume action. It must be mounted at the API root.
func (h *OrderHandlers) EntitlementRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/entitlements/{entitlementId}:consume", h.consume)
}

// DownloadRoutes registers the redirecting download link sent in confirmation emails.
func (h *OrderHandlers) DownloadRoutes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/downloads/{entitlementId}", h.download)
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	order, err := h.downloads.GetOrder(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	requestctx.NoteOrder(ctx, order.ID)
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, buildOrderPayload(order, h.clock().UTC()))
}

func (h *OrderHandlers) listEntitlements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) {
		return
	}
	ents, err := h.downloads.ListEntitlements(ctx, chi.URLParam(r, "orderId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	now := h.clock().UTC()
	payload := make([]entitlementPayload, 0, len(ents))
	for _, ent := range ents {
		payload = append(payload, buildEntitlementPayload(ent, now))
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"entitlements": payload})
}

func (h *OrderHandlers) consume(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) || rateLimited(w, r, h.limiter, "consume") {
		return
	}
	target, err := h.downloads.Consume(ctx, chi.URLParam(r, "entitlementId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, buildDownloadTargetPayload(target))
}

func (h *OrderHandlers) download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !h.ready(w, r) || rateLimited(w, r, h.limiter, "download") {
		return
	}
	target, err := h.downloads.Consume(ctx, chi.URLParam(r, "entitlementId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	http.Redirect(w, r, target.URL, http.StatusFound)
}

func (h *OrderHandlers) ready(w http.ResponseWriter, r *http.Request) bool {
	if h.downloads == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("downloads_unavailable", "downloads are unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}
