package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/services"
)

type catalogItemPayload struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	UnitPrice   string `json:"unitPrice"`
	Currency    string `json:"currency"`
	Available   bool   `json:"available"`
}

type cartEntryPayload struct {
	ItemID    string    `json:"itemId"`
	Title     string    `json:"title"`
	UnitPrice string    `json:"unitPrice"`
	Quantity  int       `json:"quantity"`
	Subtotal  string    `json:"subtotal"`
	AddedAt   time.Time `json:"addedAt"`
}

type cartPayload struct {
	Items     []cartEntryPayload `json:"items"`
	Total     string             `json:"total"`
	Currency  string             `json:"currency"`
	ItemCount int                `json:"itemCount"`
}

type customerPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
	TaxID string `json:"taxId,omitempty"`
}

type checkoutPayload struct {
	CheckoutID    string          `json:"checkoutId"`
	Stage         string          `json:"stage"`
	Customer      customerPayload `json:"customer"`
	PaymentMethod string          `json:"paymentMethod,omitempty"`
	Processing    bool            `json:"processing"`
	Attempts      int             `json:"attempts"`
	OrderID       string          `json:"orderId,omitempty"`
	OrderNumber   string          `json:"orderNumber,omitempty"`
}

type orderLinePayload struct {
	ItemID    string `json:"itemId"`
	Title     string `json:"title"`
	UnitPrice string `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	Subtotal  string `json:"subtotal"`
}

type entitlementPayload struct {
	ID                 string     `json:"id"`
	OrderID            string     `json:"orderId"`
	ItemID             string     `json:"itemId"`
	Title              string     `json:"title"`
	IssuedAt           time.Time  `json:"issuedAt"`
	ExpiresAt          time.Time  `json:"expiresAt"`
	DownloadCount      int        `json:"downloadCount"`
	MaxDownloads       int        `json:"maxDownloads"`
	RemainingDownloads int        `json:"remainingDownloads"`
	Status             string     `json:"status"`
	LastUsedAt         *time.Time `json:"lastUsedAt,omitempty"`
}

type orderPayload struct {
	ID               string               `json:"id"`
	OrderNumber      string               `json:"orderNumber"`
	Customer         customerPayload      `json:"customer"`
	LineItems        []orderLinePayload   `json:"lineItems"`
	Total            string               `json:"total"`
	Currency         string               `json:"currency"`
	PaymentMethod    string               `json:"paymentMethod"`
	PaymentStatus    string               `json:"paymentStatus"`
	PaymentReference string               `json:"paymentReference,omitempty"`
	Status           string               `json:"status"`
	CreatedAt        time.Time            `json:"createdAt"`
	PaidAt           time.Time            `json:"paidAt"`
	Entitlements     []entitlementPayload `json:"entitlements,omitempty"`
}

type downloadTargetPayload struct {
	EntitlementID      string    `json:"entitlementId"`
	URL                string    `json:"url"`
	ExpiresAt          time.Time `json:"expiresAt"`
	DownloadCount      int       `json:"downloadCount"`
	RemainingDownloads int       `json:"remainingDownloads"`
}

func money(amount decimal.Decimal) string {
	return amount.StringFixed(2)
}

func buildCatalogItemPayload(item domain.CatalogItem) catalogItemPayload {
	return catalogItemPayload{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		UnitPrice:   money(item.UnitPrice),
		Currency:    domain.DefaultCurrency,
		Available:   item.Active,
	}
}

func buildCartPayload(cart domain.Cart) cartPayload {
	items := make([]cartEntryPayload, 0, len(cart.Entries))
	for _, entry := range cart.Entries {
		items = append(items, cartEntryPayload{
			ItemID:    entry.Item.ID,
			Title:     entry.Item.Title,
			UnitPrice: money(entry.Item.UnitPrice),
			Quantity:  entry.Quantity,
			Subtotal:  money(entry.Subtotal()),
			AddedAt:   entry.AddedAt,
		})
	}
	return cartPayload{
		Items:     items,
		Total:     money(cart.Total),
		Currency:  domain.DefaultCurrency,
		ItemCount: cart.ItemCount,
	}
}

func buildCustomerPayload(c domain.CustomerInfo) customerPayload {
	return customerPayload{Name: c.Name, Email: c.Email, Phone: c.Phone, TaxID: c.TaxID}
}

func buildCheckoutPayload(state services.CheckoutState) checkoutPayload {
	return checkoutPayload{
		CheckoutID:    state.CheckoutID,
		Stage:         string(state.Stage),
		Customer:      buildCustomerPayload(state.Customer),
		PaymentMethod: string(state.PaymentMethod),
		Processing:    state.Processing,
		Attempts:      state.Attempts,
		OrderID:       state.OrderID,
		OrderNumber:   state.OrderNumber,
	}
}

func buildEntitlementPayload(ent domain.DownloadEntitlement, now time.Time) entitlementPayload {
	status := "available"
	switch ent.Availability(now) {
	case domain.EntitlementExpired:
		status = "expired"
	case domain.EntitlementExhausted:
		status = "exhausted"
	}
	return entitlementPayload{
		ID:                 ent.ID,
		OrderID:            ent.OrderID,
		ItemID:             ent.ItemID,
		Title:              ent.Title,
		IssuedAt:           ent.IssuedAt,
		ExpiresAt:          ent.ExpiresAt,
		DownloadCount:      ent.DownloadCount,
		MaxDownloads:       ent.MaxDownloads,
		RemainingDownloads: ent.Remaining(),
		Status:             status,
		LastUsedAt:         ent.LastUsedAt,
	}
}

func buildOrderPayload(order domain.Order, now time.Time) orderPayload {
	lines := make([]orderLinePayload, 0, len(order.LineItems))
	for _, line := range order.LineItems {
		lines = append(lines, orderLinePayload{
			ItemID:    line.ItemID,
			Title:     line.Title,
			UnitPrice: money(line.UnitPrice),
			Quantity:  line.Quantity,
			Subtotal:  money(line.Subtotal()),
		})
	}
	payload := orderPayload{
		ID:               order.ID,
		OrderNumber:      order.OrderNumber,
		Customer:         buildCustomerPayload(order.Customer),
		LineItems:        lines,
		Total:            money(order.Total),
		Currency:         order.Currency,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		CreatedAt:        order.CreatedAt,
		PaidAt:           order.PaidAt,
	}
	for _, ent := range order.Entitlements {
		payload.Entitlements = append(payload.Entitlements, buildEntitlementPayload(ent, now))
	}
	return payload
}

func buildDownloadTargetPayload(target domain.DownloadTarget) downloadTargetPayload {
	return downloadTargetPayload{
		EntitlementID:      target.EntitlementID,
		URL:                target.URL,
		ExpiresAt:          target.URLExpiresAt,
		DownloadCount:      target.DownloadCount,
		RemainingDownloads: target.RemainingDownloads,
	}
}
