package payments

import (
	"context"
	"crypto/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/topmanuais/api/internal/domain"
)

const simulatedProviderName = "simulated"

// SimulatedProcessorConfig configures the SimulatedProcessor.
type SimulatedProcessorConfig struct {
	// Latency is how long each authorization takes before answering.
	Latency time.Duration
	// Declines lists the methods that are always declined.
	Declines []domain.PaymentMethod
	Clock    func() time.Time
	IDGen    func() string
}

// SimulatedProcessor approves every payment after a fixed latency unless its method
// is configured to decline. Repeated idempotency keys replay the first verdict.
type SimulatedProcessor struct {
	latency  time.Duration
	declines map[domain.PaymentMethod]bool
	clock    func() time.Time
	newID    func() string

	mu      sync.Mutex
	results map[string]Authorization
}

// NewSimulatedProcessor builds a SimulatedProcessor.
func NewSimulatedProcessor(cfg SimulatedProcessorConfig) *SimulatedProcessor {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	newID := cfg.IDGen
	if newID == nil {
		newID = func() string {
			return ulid.MustNew(ulid.Timestamp(clock()), rand.Reader).String()
		}
	}
	declines := make(map[domain.PaymentMethod]bool, len(cfg.Declines))
	for _, method := range cfg.Declines {
		declines[method] = true
	}
	return &SimulatedProcessor{
		latency:  cfg.Latency,
		declines: declines,
		clock:    clock,
		newID:    newID,
		results:  make(map[string]Authorization),
	}
}

// Authorize waits for the configured latency, or returns ctx.Err() if ctx ends first.
func (p *SimulatedProcessor) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	if _, err := MinorUnits(req.Amount); err != nil {
		return Authorization{}, err
	}
	if !req.Method.Valid() {
		return Authorization{}, ErrUnsupportedMethod
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		p.mu.Lock()
		prior, ok := p.results[key]
		p.mu.Unlock()
		if ok {
			return prior, nil
		}
	}

	if p.latency > 0 {
		timer := time.NewTimer(p.latency)
		select {
		case <-ctx.Done():
			timer.Stop()
			return Authorization{}, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return Authorization{}, err
	}

	auth := Authorization{Provider: simulatedProviderName}
	if p.declines[req.Method] {
		auth.DeclineReason = DeclineReasonSimulated
	} else {
		auth.Approved = true
		auth.Reference = "sim_" + strings.ToLower(p.newID())
	}

	if key != "" {
		p.mu.Lock()
		if prior, ok := p.results[key]; ok {
			auth = prior
		} else {
			p.results[key] = auth
		}
		p.mu.Unlock()
	}
	return auth, nil
}
