// Package requestctx carries request-scoped values between middleware and handlers.
package requestctx

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type (
	loggerKey      struct{}
	traceKey       struct{}
	sessionKey     struct{}
	annotationsKey struct{}
)

var noopLogger = zap.NewNop()

// TraceInfo is the trace identity of the current request.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

// Annotations collects facts learned deep in the handler chain so outer
// middleware can log them once the request completes.
type Annotations struct {
	mu        sync.Mutex
	sessionID string
	orderID   string
}

func (a *Annotations) SessionID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sessionID
}

func (a *Annotations) OrderID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.orderID
}

// WithAnnotations attaches an empty annotation set to ctx.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{}
	return context.WithValue(ctx, annotationsKey{}, a), a
}

func annotations(ctx context.Context) *Annotations {
	a, _ := ctx.Value(annotationsKey{}).(*Annotations)
	return a
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request logger, or a no-op logger outside a request.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && logger != nil {
		return logger
	}
	return noopLogger
}

// NoopLogger is the shared logger returned when none is set.
func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	info, ok := ctx.Value(traceKey{}).(TraceInfo)
	return info, ok
}

// TraceID returns the trace identifier, or "" when the request is untraced.
func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// WithSessionID records the shopper session resolved for the request.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	if a := annotations(ctx); a != nil {
		a.mu.Lock()
		a.sessionID = sessionID
		a.mu.Unlock()
	}
	return context.WithValue(ctx, sessionKey{}, sessionID)
}

// SessionID returns the shopper session, or "" outside a shopper request.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(sessionKey{}).(string)
	return id
}

// NoteOrder records the order a request produced or served.
func NoteOrder(ctx context.Context, orderID string) {
	if a := annotations(ctx); a != nil {
		a.mu.Lock()
		a.orderID = orderID
		a.mu.Unlock()
	}
}
