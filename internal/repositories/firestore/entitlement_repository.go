package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/topmanuais/api/internal/domain"
	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
	"github.com/topmanuais/api/internal/repositories"
)

type entitlementDocument struct {
	ID            string     `firestore:"-"`
	OrderID       string     `firestore:"orderId"`
	ItemID        string     `firestore:"itemId"`
	Title         string     `firestore:"title"`
	TargetRef     string     `firestore:"targetRef"`
	IssuedAt      time.Time  `firestore:"issuedAt"`
	ExpiresAt     time.Time  `firestore:"expiresAt"`
	DownloadCount int        `firestore:"downloadCount"`
	MaxDownloads  int        `firestore:"maxDownloads"`
	LastUsedAt    *time.Time `firestore:"lastUsedAt,omitempty"`
}

// EntitlementRepository reads entitlements and consumes them inside Firestore
// transactions. Firestore retries the transaction when another consume commits
// first, so the bound check always runs against the latest count.
type EntitlementRepository struct {
	provider     *pfirestore.Provider
	entitlements *pfirestore.Collection[entitlementDocument]
	orders       *pfirestore.Collection[orderDocument]
}

var _ repositories.EntitlementRepository = (*EntitlementRepository)(nil)

// NewEntitlementRepository constructs a Firestore-backed entitlement repository.
func NewEntitlementRepository(provider *pfirestore.Provider) (*EntitlementRepository, error) {
	if provider == nil {
		return nil, errors.New("entitlement repository requires firestore provider")
	}
	decode := func(snap *firestore.DocumentSnapshot) (entitlementDocument, error) {
		var doc entitlementDocument
		if err := snap.DataTo(&doc); err != nil {
			return doc, err
		}
		doc.ID = snap.Ref.ID
		return doc, nil
	}
	return &EntitlementRepository{
		provider:     provider,
		entitlements: pfirestore.NewCollection[entitlementDocument](provider, entitlementsCollection, decode),
		orders:       pfirestore.NewCollection[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// FindByID returns the entitlement or an EntitlementError with the not-found code.
func (r *EntitlementRepository) FindByID(ctx context.Context, entitlementID string) (domain.DownloadEntitlement, error) {
	id := strings.TrimSpace(entitlementID)
	doc, err := r.entitlements.Get(ctx, id)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.DownloadEntitlement{}, repositories.NewEntitlementError("entitlements.get", repositories.EntitlementErrorNotFound, id)
		}
		return domain.DownloadEntitlement{}, err
	}
	return decodeEntitlement(doc), nil
}

// ListByOrder returns the order's entitlements ordered by issue time.
func (r *EntitlementRepository) ListByOrder(ctx context.Context, orderID string) ([]domain.DownloadEntitlement, error) {
	orderID = strings.TrimSpace(orderID)
	if _, err := r.orders.Get(ctx, orderID); err != nil {
		return nil, err
	}
	return r.listByOrder(ctx, orderID)
}

func (r *EntitlementRepository) listByOrder(ctx context.Context, orderID string) ([]domain.DownloadEntitlement, error) {
	docs, err := r.entitlements.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("orderId", "==", orderID).OrderBy("issuedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.DownloadEntitlement, 0, len(docs))
	for _, doc := range docs {
		out = append(out, decodeEntitlement(doc))
	}
	return out, nil
}

// Consume reads, checks and increments the download counter in one transaction.
func (r *EntitlementRepository) Consume(ctx context.Context, entitlementID string, now time.Time) (domain.DownloadEntitlement, error) {
	const op = "entitlements.consume"
	id := strings.TrimSpace(entitlementID)
	ref, err := r.entitlements.Doc(ctx, id)
	if err != nil {
		return domain.DownloadEntitlement{}, err
	}

	now = now.UTC()
	var consumed domain.DownloadEntitlement
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NewEntitlementError(op, repositories.EntitlementErrorNotFound, id)
		}
		if err != nil {
			return err
		}
		doc, err := r.entitlements.Decode(snap)
		if err != nil {
			return err
		}
		current := decodeEntitlement(doc)
		switch current.Availability(now) {
		case domain.EntitlementExpired:
			return repositories.NewEntitlementError(op, repositories.EntitlementErrorExpired, id)
		case domain.EntitlementExhausted:
			return repositories.NewEntitlementError(op, repositories.EntitlementErrorExhausted, id)
		}

		current.DownloadCount++
		current.LastUsedAt = &now
		consumed = current
		return tx.Update(ref, []firestore.Update{
			{Path: "downloadCount", Value: current.DownloadCount},
			{Path: "lastUsedAt", Value: now},
		})
	})
	if err != nil {
		var entErr *repositories.EntitlementError
		if errors.As(err, &entErr) {
			return domain.DownloadEntitlement{}, entErr
		}
		return domain.DownloadEntitlement{}, pfirestore.WrapError(op, err)
	}
	return consumed, nil
}

func encodeEntitlement(ent domain.DownloadEntitlement) entitlementDocument {
	return entitlementDocument{
		OrderID:       ent.OrderID,
		ItemID:        ent.ItemID,
		Title:         ent.Title,
		TargetRef:     ent.TargetRef,
		IssuedAt:      ent.IssuedAt.UTC(),
		ExpiresAt:     ent.ExpiresAt.UTC(),
		DownloadCount: ent.DownloadCount,
		MaxDownloads:  ent.MaxDownloads,
		LastUsedAt:    ent.LastUsedAt,
	}
}

func decodeEntitlement(doc entitlementDocument) domain.DownloadEntitlement {
	ent := domain.DownloadEntitlement{
		ID:            doc.ID,
		OrderID:       doc.OrderID,
		ItemID:        doc.ItemID,
		Title:         doc.Title,
		TargetRef:     doc.TargetRef,
		IssuedAt:      doc.IssuedAt.UTC(),
		ExpiresAt:     doc.ExpiresAt.UTC(),
		DownloadCount: doc.DownloadCount,
		MaxDownloads:  doc.MaxDownloads,
	}
	if doc.LastUsedAt != nil {
		used := doc.LastUsedAt.UTC()
		ent.LastUsedAt = &used
	}
	return ent
}
