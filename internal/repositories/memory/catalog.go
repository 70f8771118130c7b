package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	domain "github.com/topmanuais/api/internal/domain"
)

// CatalogRepository serves a fixed set of catalog items loaded at start-up.
type CatalogRepository struct {
	items map[string]domain.CatalogItem
	order []string
}

// NewCatalogRepository indexes the supplied items by ID. Duplicate IDs are rejected.
func NewCatalogRepository(items []domain.CatalogItem) (*CatalogRepository, error) {
	repo := &CatalogRepository{items: make(map[string]domain.CatalogItem, len(items))}
	for _, item := range items {
		id := strings.TrimSpace(item.ID)
		if id == "" {
			return nil, errors.New("catalog: item id is required")
		}
		if _, dup := repo.items[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate item id %q", id)
		}
		if item.UnitPrice.IsNegative() {
			return nil, fmt.Errorf("catalog: item %q has a negative price", id)
		}
		item.ID = id
		repo.items[id] = item
		repo.order = append(repo.order, id)
	}
	return repo, nil
}

// GetItem returns the item or a not-found error.
func (r *CatalogRepository) GetItem(_ context.Context, itemID string) (domain.CatalogItem, error) {
	item, ok := r.items[strings.TrimSpace(itemID)]
	if !ok {
		return domain.CatalogItem{}, notFound("catalog.get", "item %s not found", itemID)
	}
	return item, nil
}

// ListItems returns items in load order.
func (r *CatalogRepository) ListItems(context.Context) ([]domain.CatalogItem, error) {
	out := make([]domain.CatalogItem, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.items[id])
	}
	return out, nil
}

// SeedCatalog is the built-in catalog used when no catalog file is configured.
func SeedCatalog() []domain.CatalogItem {
	return []domain.CatalogItem{
		{
			ID:          "init-1",
			Title:       "Manual de Exemplo",
			Description: "Manual de serviço de exemplo",
			UnitPrice:   decimal.RequireFromString("139.90"),
			DownloadRef: "manuals/init-1/manual.pdf",
			Active:      true,
		},
	}
}

type catalogFile struct {
	Items []catalogFileItem `yaml:"items"`
}

type catalogFileItem struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Price       string `yaml:"price"`
	DownloadRef string `yaml:"downloadRef"`
	Active      *bool  `yaml:"active"`
}

// LoadCatalogFile parses a YAML catalog:
//
//	items:
//	  - id: init-1
//	    title: Manual de Exemplo
//	    price: "139.90"
//	    downloadRef: manuals/init-1/manual.pdf
func LoadCatalogFile(path string) ([]domain.CatalogItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes catalog YAML. Items default to active.
func ParseCatalog(data []byte) ([]domain.CatalogItem, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}

	items := make([]domain.CatalogItem, 0, len(file.Items))
	for i, raw := range file.Items {
		price, err := decimal.NewFromString(strings.TrimSpace(raw.Price))
		if err != nil {
			return nil, fmt.Errorf("catalog: item %d (%s) has invalid price %q: %w", i, raw.ID, raw.Price, err)
		}
		active := true
		if raw.Active != nil {
			active = *raw.Active
		}
		items = append(items, domain.CatalogItem{
			ID:          strings.TrimSpace(raw.ID),
			Title:       strings.TrimSpace(raw.Title),
			Description: strings.TrimSpace(raw.Description),
			UnitPrice:   price,
			DownloadRef: strings.TrimSpace(raw.DownloadRef),
			Active:      active,
		})
	}
	return items, nil
}
