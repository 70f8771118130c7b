package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/repositories"
)

// CatalogServiceDeps wires the catalog repository.
type CatalogServiceDeps struct {
	Repository repositories.CatalogRepository
	Logger     Logger
}

type catalogService struct {
	repo   repositories.CatalogRepository
	group  singleflight.Group
	logger Logger
}

// NewCatalogService constructs a read-only catalog lookup. Concurrent lookups of the
// same item share one repository call.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Repository == nil {
		return nil, errors.New("catalog service: repository is required")
	}
	return &catalogService{repo: deps.Repository, logger: loggerOrNoop(deps.Logger)}, nil
}

func (s *catalogService) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	id := strings.TrimSpace(itemID)
	if id == "" {
		return domain.CatalogItem{}, fmt.Errorf("%w: item id is required", ErrInvalidInput)
	}

	value, err, shared := s.group.Do(id, func() (any, error) {
		return s.repo.GetItem(ctx, id)
	})
	if err != nil {
		translated := translateRepositoryError(err, ErrCatalogItemNotFound)
		if !errors.Is(translated, ErrCatalogItemNotFound) {
			s.logger(ctx, "catalog_lookup_failed", map[string]any{"itemId": id, "shared": shared, "error": err.Error()})
		}
		return domain.CatalogItem{}, translated
	}
	return value.(domain.CatalogItem), nil
}

func (s *catalogService) ListItems(ctx context.Context) ([]domain.CatalogItem, error) {
	items, err := s.repo.ListItems(ctx)
	if err != nil {
		return nil, translateRepositoryError(err, nil)
	}
	return items, nil
}
