package repositories

import (
	"context"
	"time"

	domain "github.com/topmanuais/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CatalogRepository is the read-only view of the product catalog.
type CatalogRepository interface {
	GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error)
	ListItems(ctx context.Context) ([]domain.CatalogItem, error)
}

// OrderRepository persists immutable orders. Create stores the order together with its
// entitlements in one atomic write and fails with a conflict when the order ID or
// order number already exists.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
}

// EntitlementRepository reads and consumes download entitlements.
type EntitlementRepository interface {
	FindByID(ctx context.Context, entitlementID string) (domain.DownloadEntitlement, error)
	ListByOrder(ctx context.Context, orderID string) ([]domain.DownloadEntitlement, error)
	// Consume increments the download counter iff the entitlement is usable at now.
	// Implementations must make the check and the increment atomic and return an
	// *EntitlementError without mutating state when the entitlement is not usable.
	Consume(ctx context.Context, entitlementID string, now time.Time) (domain.DownloadEntitlement, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for readiness checks.
type HealthRepository interface {
	Collect(ctx context.Context) (HealthReport, error)
}

// HealthReport summarises dependency probes.
type HealthReport struct {
	Status    string
	Checks    map[string]HealthCheck
	CheckedAt time.Time
}

// HealthCheck is the outcome of a single dependency probe.
type HealthCheck struct {
	Status  string
	Latency time.Duration
	Error   string
}
