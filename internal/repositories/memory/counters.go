package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/topmanuais/api/internal/repositories"
)

// CounterRepository is a process-local sequence generator.
type CounterRepository struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewCounterRepository constructs an empty counter repository.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{values: make(map[string]int64)}
}

// Next increments the counter by step (1 when step is zero) and returns the new value.
func (r *CounterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	step, err := repositories.ValidateCounterStep(id, step)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[id] += step
	return r.values[id], nil
}
