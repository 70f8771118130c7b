package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/topmanuais/api/internal/platform/firestore"
	"github.com/topmanuais/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	Step         int64     `firestore:"step"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	counters *pfirestore.Collection[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		counters: pfirestore.NewCollection[counterDocument](provider, countersCollection, nil),
		clock:    time.Now,
	}, nil
}

// Next atomically increments the counter identified by counterID and returns the next value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if r == nil || r.provider == nil {
		return 0, errors.New("counter repository not initialised")
	}
	id := strings.TrimSpace(counterID)
	step, err := repositories.ValidateCounterStep(id, step)
	if err != nil {
		return 0, err
	}

	ref, err := r.counters.Doc(ctx, id)
	if err != nil {
		return 0, err
	}

	now := r.clock().UTC()
	var nextValue int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snapshot, err := tx.Get(ref)
		switch status.Code(err) {
		case codes.NotFound:
			nextValue = step
			return tx.Create(ref, counterDocument{CurrentValue: step, Step: step, UpdatedAt: now})
		case codes.OK:
		default:
			return err
		}

		doc, err := r.counters.Decode(snapshot)
		if err != nil {
			return err
		}
		doc.CurrentValue += step
		doc.Step = step
		doc.UpdatedAt = now
		nextValue = doc.CurrentValue
		return tx.Set(ref, doc)
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return nextValue, nil
}
