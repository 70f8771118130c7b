package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/topmanuais/api/internal/repositories"
)

const defaultOrderNumberPrefix = "TM"

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
	// Prefix precedes the year in order numbers. Defaults to "TM".
	Prefix string
}

type counterService struct {
	repo   repositories.CounterRepository
	clock  func() time.Time
	prefix string
}

// NewCounterService constructs a service that formats order numbers on top of the counter repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	prefix := strings.ToUpper(strings.TrimSpace(deps.Prefix))
	if prefix == "" {
		prefix = defaultOrderNumberPrefix
	}
	return &counterService{
		repo:   deps.Repository,
		clock:  utcClock(deps.Clock),
		prefix: prefix,
	}, nil
}

// NextOrderNumber returns PREFIX-YYYY-NNNNNN using a per-year sequence.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	counterID := fmt.Sprintf("orders:%04d", now.Year())

	value, err := s.repo.Next(ctx, counterID, 1)
	if err != nil {
		if errors.Is(err, repositories.ErrInvalidCounter) {
			return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return "", translateRepositoryError(err, nil)
	}
	return fmt.Sprintf("%s-%04d-%06d", s.prefix, now.Year(), value), nil
}

// translateRepositoryError maps categorised repository failures onto service sentinels.
// notFound may be nil when the caller has no not-found sentinel.
func translateRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound() && notFound != nil:
			return fmt.Errorf("%w: %v", notFound, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	return err
}
