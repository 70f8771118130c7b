package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/topmanuais/api/internal/domain"
	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
	"github.com/topmanuais/api/internal/repositories"
)

const (
	ordersCollection       = "orders"
	orderNumbersCollection = "orderNumbers"
	entitlementsCollection = "entitlements"
)

type customerDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone,omitempty"`
	TaxID string `firestore:"taxId,omitempty"`
}

type lineItemDocument struct {
	ItemID      string `firestore:"itemId"`
	Title       string `firestore:"title"`
	UnitPrice   string `firestore:"unitPrice"`
	Quantity    int    `firestore:"quantity"`
	DownloadRef string `firestore:"downloadRef"`
}

type orderDocument struct {
	OrderNumber      string             `firestore:"orderNumber"`
	SessionID        string             `firestore:"sessionId,omitempty"`
	Customer         customerDocument   `firestore:"customer"`
	LineItems        []lineItemDocument `firestore:"lineItems"`
	Total            string             `firestore:"total"`
	Currency         string             `firestore:"currency"`
	PaymentMethod    string             `firestore:"paymentMethod"`
	PaymentStatus    string             `firestore:"paymentStatus"`
	PaymentReference string             `firestore:"paymentReference,omitempty"`
	Status           string             `firestore:"status"`
	EntitlementIDs   []string           `firestore:"entitlementIds"`
	CreatedAt        time.Time          `firestore:"createdAt"`
	PaidAt           time.Time          `firestore:"paidAt"`
}

type orderNumberDocument struct {
	OrderID   string    `firestore:"orderId"`
	CreatedAt time.Time `firestore:"createdAt"`
}

// OrderRepository stores orders, their entitlements and an order-number index
// in a single Firestore transaction.
type OrderRepository struct {
	provider     *pfirestore.Provider
	orders       *pfirestore.Collection[orderDocument]
	numbers      *pfirestore.Collection[orderNumberDocument]
	entitlements *EntitlementRepository
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	entitlements, err := NewEntitlementRepository(provider)
	if err != nil {
		return nil, err
	}
	return &OrderRepository{
		provider:     provider,
		orders:       pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
		numbers:      pfirestore.NewCollection[orderNumberDocument](provider, orderNumbersCollection, nil),
		entitlements: entitlements,
	}, nil
}

// Create writes the order, the order-number index and every entitlement atomically.
// Any pre-existing document makes the whole write fail with a conflict.
func (r *OrderRepository) Create(ctx context.Context, order domain.Order) error {
	orderID := strings.TrimSpace(order.ID)
	if orderID == "" || strings.TrimSpace(order.OrderNumber) == "" {
		return pfirestore.WrapError("orders.create", status.Error(codes.InvalidArgument, "order id and number are required"))
	}

	orderRef, err := r.orders.Doc(ctx, orderID)
	if err != nil {
		return err
	}
	numberRef, err := r.numbers.Doc(ctx, order.OrderNumber)
	if err != nil {
		return err
	}
	entRefs := make([]*firestore.DocumentRef, 0, len(order.Entitlements))
	for _, ent := range order.Entitlements {
		ref, err := r.entitlements.entitlements.Doc(ctx, ent.ID)
		if err != nil {
			return err
		}
		entRefs = append(entRefs, ref)
	}

	doc := encodeOrder(order)
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if err := tx.Create(orderRef, doc); err != nil {
			return err
		}
		if err := tx.Create(numberRef, orderNumberDocument{OrderID: orderID, CreatedAt: order.CreatedAt.UTC()}); err != nil {
			return err
		}
		for i, ent := range order.Entitlements {
			if err := tx.Create(entRefs[i], encodeEntitlement(ent)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return pfirestore.WrapError("orders.create", err)
	}
	return nil
}

// FindByID loads the order and its current entitlement state.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	doc, err := r.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := decodeOrder(orderID, doc)
	if err != nil {
		return domain.Order{}, err
	}
	ents, err := r.entitlements.listByOrder(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	order.Entitlements = ents
	return order, nil
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		SessionID:   order.SessionID,
		Customer: customerDocument{
			Name:  order.Customer.Name,
			Email: order.Customer.Email,
			Phone: order.Customer.Phone,
			TaxID: order.Customer.TaxID,
		},
		Total:            order.Total.String(),
		Currency:         order.Currency,
		PaymentMethod:    string(order.PaymentMethod),
		PaymentStatus:    string(order.PaymentStatus),
		PaymentReference: order.PaymentReference,
		Status:           string(order.Status),
		CreatedAt:        order.CreatedAt.UTC(),
		PaidAt:           order.PaidAt.UTC(),
	}
	for _, line := range order.LineItems {
		doc.LineItems = append(doc.LineItems, lineItemDocument{
			ItemID:      line.ItemID,
			Title:       line.Title,
			UnitPrice:   line.UnitPrice.String(),
			Quantity:    line.Quantity,
			DownloadRef: line.DownloadRef,
		})
	}
	for _, ent := range order.Entitlements {
		doc.EntitlementIDs = append(doc.EntitlementIDs, ent.ID)
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) (domain.Order, error) {
	total, err := decimal.NewFromString(doc.Total)
	if err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s total: %w", id, err)
	}
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		SessionID:   doc.SessionID,
		Customer: domain.CustomerInfo{
			Name:  doc.Customer.Name,
			Email: doc.Customer.Email,
			Phone: doc.Customer.Phone,
			TaxID: doc.Customer.TaxID,
		},
		Total:            total,
		Currency:         doc.Currency,
		PaymentMethod:    domain.PaymentMethod(doc.PaymentMethod),
		PaymentStatus:    domain.PaymentStatus(doc.PaymentStatus),
		PaymentReference: doc.PaymentReference,
		Status:           domain.OrderStatus(doc.Status),
		CreatedAt:        doc.CreatedAt.UTC(),
		PaidAt:           doc.PaidAt.UTC(),
	}
	for _, line := range doc.LineItems {
		price, err := decimal.NewFromString(line.UnitPrice)
		if err != nil {
			return domain.Order{}, fmt.Errorf("firestore orders decode %s line %s: %w", id, line.ItemID, err)
		}
		order.LineItems = append(order.LineItems, domain.OrderLineItem{
			ItemID:      line.ItemID,
			Title:       line.Title,
			UnitPrice:   price,
			Quantity:    line.Quantity,
			DownloadRef: line.DownloadRef,
		})
	}
	return order, nil
}
