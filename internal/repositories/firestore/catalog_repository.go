package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"

	domain "github.com/topmanuais/api/internal/domain"
	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
	"github.com/topmanuais/api/internal/repositories"
)

const catalogCollection = "catalogItems"

type catalogDocument struct {
	ID          string `firestore:"-"`
	Title       string `firestore:"title"`
	Description string `firestore:"description"`
	Price       string `firestore:"price"`
	DownloadRef string `firestore:"downloadRef"`
	Active      bool   `firestore:"active"`
	Position    int    `firestore:"position"`
}

// CatalogRepository reads catalog items maintained outside this service.
type CatalogRepository struct {
	items *pfirestore.Collection[catalogDocument]
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)

// NewCatalogRepository constructs a Firestore-backed catalog reader.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	decode := func(snap *firestore.DocumentSnapshot) (catalogDocument, error) {
		var doc catalogDocument
		if err := snap.DataTo(&doc); err != nil {
			return doc, err
		}
		doc.ID = snap.Ref.ID
		return doc, nil
	}
	return &CatalogRepository{
		items: pfirestore.NewCollection[catalogDocument](provider, catalogCollection, decode),
	}, nil
}

// GetItem returns the item including inactive ones; callers decide whether to sell it.
func (r *CatalogRepository) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	doc, err := r.items.Get(ctx, strings.TrimSpace(itemID))
	if err != nil {
		return domain.CatalogItem{}, err
	}
	return decodeCatalogItem(doc)
}

// ListItems returns every item ordered by position.
func (r *CatalogRepository) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	docs, err := r.items.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.OrderBy("position", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.CatalogItem, 0, len(docs))
	for _, doc := range docs {
		item, err := decodeCatalogItem(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func decodeCatalogItem(doc catalogDocument) (domain.CatalogItem, error) {
	price, err := decimal.NewFromString(strings.TrimSpace(doc.Price))
	if err != nil {
		return domain.CatalogItem{}, fmt.Errorf("firestore catalog decode %s price: %w", doc.ID, err)
	}
	return domain.CatalogItem{
		ID:          doc.ID,
		Title:       doc.Title,
		Description: doc.Description,
		UnitPrice:   price,
		DownloadRef: doc.DownloadRef,
		Active:      doc.Active,
	}, nil
}
