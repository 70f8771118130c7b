package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultCurrency is the ISO 4217 code used for catalog prices and order totals.
	DefaultCurrency = "BRL"
	// DefaultEntitlementTTL is how long a download entitlement stays usable after issue.
	DefaultEntitlementTTL = 30 * 24 * time.Hour
	// DefaultMaxDownloads caps the number of successful downloads per entitlement.
	DefaultMaxDownloads = 5
)

// CatalogItem describes a downloadable product as exposed by the catalog. The
// checkout pipeline never mutates catalog items.
type CatalogItem struct {
	ID          string
	Title       string
	Description string
	UnitPrice   decimal.Decimal
	DownloadRef string
	Active      bool
}

// CartEntry is a single line in a shopper cart.
type CartEntry struct {
	Item     CatalogItem
	Quantity int
	AddedAt  time.Time
}

// Subtotal returns unit price multiplied by quantity.
func (e CartEntry) Subtotal() decimal.Decimal {
	return e.Item.UnitPrice.Mul(decimal.NewFromInt(int64(e.Quantity)))
}

// Cart is a point-in-time view of a shopper cart with derived aggregates.
type Cart struct {
	Entries   []CartEntry
	Total     decimal.Decimal
	ItemCount int
}

// IsEmpty reports whether the cart has no entries.
func (c Cart) IsEmpty() bool {
	return len(c.Entries) == 0
}

// CustomerInfo captures the purchaser identity required to complete an order.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
	TaxID string
}

// CustomerPatch carries a partial customer form update. Nil fields are left untouched.
type CustomerPatch struct {
	Name  *string
	Email *string
	Phone *string
	TaxID *string
}

// Apply merges the patch into the supplied customer, trimming whitespace.
func (p CustomerPatch) Apply(c CustomerInfo) CustomerInfo {
	if p.Name != nil {
		c.Name = strings.TrimSpace(*p.Name)
	}
	if p.Email != nil {
		c.Email = strings.TrimSpace(*p.Email)
	}
	if p.Phone != nil {
		c.Phone = strings.TrimSpace(*p.Phone)
	}
	if p.TaxID != nil {
		c.TaxID = strings.TrimSpace(*p.TaxID)
	}
	return c
}

// PaymentMethod enumerates supported payment instruments.
type PaymentMethod string

const (
	// PaymentMethodPIX is the Brazilian instant payment rail.
	PaymentMethodPIX PaymentMethod = "pix"
	// PaymentMethodCreditCard is a card payment.
	PaymentMethodCreditCard PaymentMethod = "credit_card"
	// PaymentMethodBoleto is a bank slip payment.
	PaymentMethodBoleto PaymentMethod = "boleto"
)

// Valid reports whether the method is one of the supported values.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodPIX, PaymentMethodCreditCard, PaymentMethodBoleto:
		return true
	default:
		return false
	}
}

// ParsePaymentMethod normalises user input such as "PIX", "credit-card" or "CREDIT_CARD".
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	method := PaymentMethod(normalized)
	if !method.Valid() {
		return "", false
	}
	return method, true
}

// CheckoutStage is the position of a checkout session in its state machine.
type CheckoutStage string

const (
	CheckoutStageCollectingCustomer CheckoutStage = "collecting_customer"
	CheckoutStageCollectingPayment  CheckoutStage = "collecting_payment"
	CheckoutStageReviewing          CheckoutStage = "reviewing"
	CheckoutStageSubmitting         CheckoutStage = "submitting"
	CheckoutStageDone               CheckoutStage = "done"
)

var stageRank = map[CheckoutStage]int{
	CheckoutStageCollectingCustomer: 0,
	CheckoutStageCollectingPayment:  1,
	CheckoutStageReviewing:          2,
	CheckoutStageSubmitting:         3,
	CheckoutStageDone:               4,
}

// Valid reports whether the stage is known.
func (s CheckoutStage) Valid() bool {
	_, ok := stageRank[s]
	return ok
}

// Before reports whether s precedes other in the checkout flow.
func (s CheckoutStage) Before(other CheckoutStage) bool {
	left, okLeft := stageRank[s]
	right, okRight := stageRank[other]
	return okLeft && okRight && left < right
}

// ParseCheckoutStage accepts the wire representation of a stage.
func ParseCheckoutStage(raw string) (CheckoutStage, bool) {
	stage := CheckoutStage(strings.ToLower(strings.TrimSpace(raw)))
	if !stage.Valid() {
		return "", false
	}
	return stage, true
}

// PaymentStatus is the outcome reported by the payment processor.
type PaymentStatus string

const (
	PaymentStatusApproved PaymentStatus = "approved"
	PaymentStatusDeclined PaymentStatus = "declined"
)

// OrderStatus tracks the fulfilment state of an order.
type OrderStatus string

const (
	// OrderStatusCompleted marks a paid order whose entitlements were issued.
	OrderStatusCompleted OrderStatus = "completed"
)

// OrderLineItem is one distinct catalog item and its quantity within an order.
type OrderLineItem struct {
	ItemID      string
	Title       string
	UnitPrice   decimal.Decimal
	Quantity    int
	DownloadRef string
}

// Subtotal returns unit price multiplied by quantity.
func (l OrderLineItem) Subtotal() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the immutable record produced by a successful checkout.
type Order struct {
	ID               string
	OrderNumber      string
	SessionID        string
	Customer         CustomerInfo
	LineItems        []OrderLineItem
	Total            decimal.Decimal
	Currency         string
	PaymentMethod    PaymentMethod
	PaymentStatus    PaymentStatus
	PaymentReference string
	Status           OrderStatus
	CreatedAt        time.Time
	PaidAt           time.Time
	Entitlements     []DownloadEntitlement
}

// EntitlementAvailability classifies whether an entitlement can still be consumed.
type EntitlementAvailability int

const (
	EntitlementAvailable EntitlementAvailability = iota
	EntitlementExpired
	EntitlementExhausted
)

// DownloadEntitlement grants a bounded number of downloads of one purchased item
// until it expires.
type DownloadEntitlement struct {
	ID            string
	OrderID       string
	ItemID        string
	Title         string
	TargetRef     string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	DownloadCount int
	MaxDownloads  int
	LastUsedAt    *time.Time
}

// Availability reports the entitlement state at now. Expiry takes precedence over exhaustion.
func (e DownloadEntitlement) Availability(now time.Time) EntitlementAvailability {
	if !now.Before(e.ExpiresAt) {
		return EntitlementExpired
	}
	if e.DownloadCount >= e.MaxDownloads {
		return EntitlementExhausted
	}
	return EntitlementAvailable
}

// Usable reports whether one more download is allowed at now.
func (e DownloadEntitlement) Usable(now time.Time) bool {
	return e.Availability(now) == EntitlementAvailable
}

// Remaining returns how many downloads are left, never negative.
func (e DownloadEntitlement) Remaining() int {
	if remaining := e.MaxDownloads - e.DownloadCount; remaining > 0 {
		return remaining
	}
	return 0
}

// DownloadTarget is the materialised location returned by a successful consume.
type DownloadTarget struct {
	EntitlementID      string
	TargetRef          string
	URL                string
	URLExpiresAt       time.Time
	DownloadCount      int
	RemainingDownloads int
}
