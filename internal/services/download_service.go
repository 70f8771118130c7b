package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/topmanuais/api/internal/domain"
	"github.com/topmanuais/api/internal/repositories"
)

// DownloadServiceDeps wires order lookup and entitlement consumption.
type DownloadServiceDeps struct {
	Orders       repositories.OrderRepository
	Entitlements repositories.EntitlementRepository
	Links        DownloadLinkSigner
	Clock        func() time.Time
	Logger       Logger
	Metrics      Instrumentation
}

type downloadService struct {
	orders       repositories.OrderRepository
	entitlements repositories.EntitlementRepository
	links        DownloadLinkSigner
	now          func() time.Time
	logger       Logger
	metrics      Instrumentation
}

// NewDownloadService constructs the download page service.
func NewDownloadService(deps DownloadServiceDeps) (DownloadService, error) {
	if deps.Orders == nil {
		return nil, errors.New("download service: order repository is required")
	}
	if deps.Entitlements == nil {
		return nil, errors.New("download service: entitlement repository is required")
	}
	if deps.Links == nil {
		return nil, errors.New("download service: link signer is required")
	}
	return &downloadService{
		orders:       deps.Orders,
		entitlements: deps.Entitlements,
		links:        deps.Links,
		now:          utcClock(deps.Clock),
		logger:       loggerOrNoop(deps.Logger),
		metrics:      instrumentationOrNoop(deps.Metrics),
	}, nil
}

func (s *downloadService) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return domain.Order{}, translateRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *downloadService) ListEntitlements(ctx context.Context, orderID string) ([]domain.DownloadEntitlement, error) {
	order, err := s.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	entitlements, err := s.entitlements.ListByOrder(ctx, order.ID)
	if err != nil {
		return nil, translateRepositoryError(err, ErrOrderNotFound)
	}
	return entitlements, nil
}

// Consume spends one download and returns a short lived URL for the file. The link is
// signed before the counter moves so a signing failure costs the shopper nothing.
func (s *downloadService) Consume(ctx context.Context, entitlementID string) (domain.DownloadTarget, error) {
	id := strings.TrimSpace(entitlementID)
	if id == "" {
		return domain.DownloadTarget{}, fmt.Errorf("%w: entitlement id is required", ErrInvalidInput)
	}

	current, err := s.entitlements.FindByID(ctx, id)
	if err != nil {
		return domain.DownloadTarget{}, s.consumeFailed(ctx, id, err)
	}
	now := s.now()
	switch current.Availability(now) {
	case domain.EntitlementExpired:
		return domain.DownloadTarget{}, s.consumeFailed(ctx, id, repositories.NewEntitlementError("entitlement.consume", repositories.EntitlementErrorExpired, id))
	case domain.EntitlementExhausted:
		return domain.DownloadTarget{}, s.consumeFailed(ctx, id, repositories.NewEntitlementError("entitlement.consume", repositories.EntitlementErrorExhausted, id))
	}

	url, urlExpiresAt, err := s.links.SignDownload(ctx, current.TargetRef)
	if err != nil {
		s.metrics.ObserveConsume("error")
		s.logger(ctx, "entitlement_sign_failed", map[string]any{"entitlementId": id, "error": err.Error()})
		return domain.DownloadTarget{}, fmt.Errorf("%w: sign download link: %v", ErrUnavailable, err)
	}

	updated, err := s.entitlements.Consume(ctx, id, now)
	if err != nil {
		return domain.DownloadTarget{}, s.consumeFailed(ctx, id, err)
	}

	s.metrics.ObserveConsume("ok")
	s.logger(ctx, "entitlement_consumed", map[string]any{
		"entitlementId": id,
		"orderId":       updated.OrderID,
		"downloadCount": updated.DownloadCount,
	})
	return domain.DownloadTarget{
		EntitlementID:      updated.ID,
		TargetRef:          updated.TargetRef,
		URL:                url,
		URLExpiresAt:       urlExpiresAt,
		DownloadCount:      updated.DownloadCount,
		RemainingDownloads: updated.Remaining(),
	}, nil
}

func (s *downloadService) consumeFailed(ctx context.Context, entitlementID string, err error) error {
	var entErr *repositories.EntitlementError
	if errors.As(err, &entErr) {
		switch entErr.Code {
		case repositories.EntitlementErrorExpired:
			s.metrics.ObserveConsume("expired")
			return fmt.Errorf("%w: %s", ErrEntitlementExpired, entitlementID)
		case repositories.EntitlementErrorExhausted:
			s.metrics.ObserveConsume("exhausted")
			return fmt.Errorf("%w: %s", ErrEntitlementExhausted, entitlementID)
		case repositories.EntitlementErrorNotFound:
			s.metrics.ObserveConsume("not_found")
			return fmt.Errorf("%w: %s", ErrEntitlementNotFound, entitlementID)
		}
	}
	translated := translateRepositoryError(err, ErrEntitlementNotFound)
	if errors.Is(translated, ErrEntitlementNotFound) {
		s.metrics.ObserveConsume("not_found")
		return translated
	}
	s.metrics.ObserveConsume("error")
	s.logger(ctx, "entitlement_consume_failed", map[string]any{"entitlementId": entitlementID, "error": err.Error()})
	return translated
}
