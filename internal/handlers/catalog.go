package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/services"
)

// CatalogHandlers exposes the read-only catalog.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the /catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listItems)
	r.Get("/{itemId}", h.getItem)
}

func (h *CatalogHandlers) listItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	items, err := h.catalog.ListItems(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	payload := make([]catalogItemPayload, 0, len(items))
	for _, item := range items {
		payload = append(payload, buildCatalogItemPayload(item))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": payload})
}

func (h *CatalogHandlers) getItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog is unavailable", http.StatusServiceUnavailable))
		return
	}
	item, err := h.catalog.GetItem(ctx, chi.URLParam(r, "itemId"))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCatalogItemPayload(item))
}
