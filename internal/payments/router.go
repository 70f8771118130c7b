package payments

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/topmanuais/api/internal/domain"
)

// Router dispatches authorizations to the processor registered for each payment method.
type Router struct {
	processors       map[domain.PaymentMethod]Processor
	defaultProcessor Processor
}

// RouterOption configures optional behaviour when building a Router.
type RouterOption func(*Router)

// WithDefaultProcessor handles methods without an explicit registration.
func WithDefaultProcessor(p Processor) RouterOption {
	return func(r *Router) {
		r.defaultProcessor = p
	}
}

// NewRouter constructs a Router over the supplied per-method processors.
func NewRouter(processors map[domain.PaymentMethod]Processor, opts ...RouterOption) (*Router, error) {
	r := &Router{processors: make(map[domain.PaymentMethod]Processor, len(processors))}
	for method, p := range processors {
		if !method.Valid() || p == nil {
			return nil, fmt.Errorf("payments: invalid processor registration for method %q", method)
		}
		r.processors[method] = p
	}
	for _, opt := range opts {
		opt(r)
	}
	if len(r.processors) == 0 && r.defaultProcessor == nil {
		return nil, errors.New("payments: at least one processor is required")
	}
	return r, nil
}

func (r *Router) resolve(method domain.PaymentMethod) (Processor, error) {
	if r == nil {
		return nil, errors.New("payments: router is nil")
	}
	if p, ok := r.processors[method]; ok {
		return p, nil
	}
	if r.defaultProcessor != nil {
		return r.defaultProcessor, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, method)
}

// Supports reports whether some processor accepts the method.
func (r *Router) Supports(method domain.PaymentMethod) bool {
	_, err := r.resolve(method)
	return err == nil
}

// Authorize delegates to the resolved processor.
func (r *Router) Authorize(ctx context.Context, req AuthorizationRequest) (Authorization, error) {
	p, err := r.resolve(req.Method)
	if err != nil {
		return Authorization{}, err
	}
	return p.Authorize(ctx, req)
}
