package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/services"
)

// writeServiceError maps service errors onto the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	var (
		validation   *services.ValidationError
		precondition *services.PreconditionError
		payment      *services.PaymentError
	)
	switch {
	case errors.As(err, &validation):
		fields := make([]map[string]string, 0, len(validation.Fields))
		for _, f := range validation.Fields {
			fields = append(fields, map[string]string{"field": f.Field, "reason": f.Reason})
		}
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", validation.Error(), http.StatusBadRequest).
			WithDetails(map[string]any{"fields": fields}))
	case errors.Is(err, services.ErrConcurrentModification):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout submission is in progress; retry when it completes", http.StatusConflict))
	case errors.As(err, &precondition):
		code := "precondition_failed"
		if errors.Is(err, services.ErrCartEmpty) {
			code = "cart_empty"
		}
		httpx.WriteError(ctx, w, httpx.NewError(code, precondition.Error(), http.StatusPreconditionFailed).
			WithDetails(map[string]any{"stage": precondition.Stage}))
	case errors.As(err, &payment):
		details := map[string]any{"timedOut": payment.TimedOut}
		if payment.DeclineReason != "" {
			details["declineReason"] = payment.DeclineReason
		}
		httpx.WriteError(ctx, w, httpx.NewError("payment_failed", payment.Error(), http.StatusPaymentRequired).WithDetails(details))
	case errors.Is(err, services.ErrEntitlementExpired):
		httpx.WriteError(ctx, w, httpx.NewError("entitlement_expired", "this download link has expired; contact support", http.StatusGone))
	case errors.Is(err, services.ErrEntitlementExhausted):
		httpx.WriteError(ctx, w, httpx.NewError("entitlement_exhausted", "this download link has reached its download limit; contact support", http.StatusForbidden))
	case errors.Is(err, services.ErrEntitlementNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("entitlement_not_found", "entitlement not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("item_not_found", "catalog item not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCartItemNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_item_not_found", "item is not in the cart", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogItemUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("item_unavailable", "catalog item is not available for sale", http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "a backing service is unavailable; retry shortly", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "unexpected error", http.StatusInternalServerError))
	}
}

func writeBadRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}
