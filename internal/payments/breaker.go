package payments

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerLogger receives circuit state transitions.
type BreakerLogger func(ctx context.Context, event string, fields map[string]any)

// BreakerConfig tunes the circuit breaker around a processor.
type BreakerConfig struct {
	Name string
	// MaxFailures is the number of consecutive errors that opens the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open before probing again.
	OpenTimeout time.Duration
	Logger      BreakerLogger
}

// BreakerProcessor fails fast while the wrapped processor keeps erroring. Declines
// are successful calls and never trip the circuit.
type BreakerProcessor struct {
	next    Processor
	breaker *gobreaker.CircuitBreaker[Authorization]
}

// NewBreakerProcessor wraps next with a circuit breaker.
func NewBreakerProcessor(next Processor, cfg BreakerConfig) (*BreakerProcessor, error) {
	if next == nil {
		return nil, errors.New("payments: breaker requires a processor")
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	name := cfg.Name
	if name == "" {
		name = "payments"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// A cancelled shopper request says nothing about processor health.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger(context.Background(), "payments.breaker.state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	}
	return &BreakerProcessor{
		next:    next,
		breaker: gobreaker.NewCircuitBreaker[Authorization](settings),
	}, nil
}

// Authorize runs the wrapped processor unless the circuit is open.
func (b *BreakerProcessor) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	return b.breaker.Execute(func() (Authorization, error) {
		return b.next.Authorize(ctx, req)
	})
}

// State reports the current circuit state, for readiness reporting.
func (b *BreakerProcessor) State() string {
	return b.breaker.State().String()
}

// IsOpen reports whether err was produced by an open or saturated circuit.
func IsOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
