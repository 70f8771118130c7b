package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const defaultSessionIdleTTL = 2 * time.Hour

// SessionFactory builds the shopper session for a newly issued ID.
type SessionFactory func(id string) (*ShopperSession, error)

// SessionRegistryDeps wires the session registry.
type SessionRegistryDeps struct {
	Factory     SessionFactory
	IdleTTL     time.Duration
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
	// ActiveSessions, when set, receives the registry size after every change.
	ActiveSessions func(n int)
}

// SessionRegistry maps opaque session IDs to shopper sessions.
type SessionRegistry struct {
	factory  SessionFactory
	idleTTL  time.Duration
	now      func() time.Time
	newID    func() string
	logger   Logger
	onResize func(int)

	mu       sync.RWMutex
	sessions map[string]*ShopperSession
}

// NewSessionRegistry constructs an empty registry.
func NewSessionRegistry(deps SessionRegistryDeps) (*SessionRegistry, error) {
	if deps.Factory == nil {
		return nil, errors.New("session registry: factory is required")
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultSessionIdleTTL
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	onResize := deps.ActiveSessions
	if onResize == nil {
		onResize = func(int) {}
	}
	return &SessionRegistry{
		factory:  deps.Factory,
		idleTTL:  ttl,
		now:      utcClock(deps.Clock),
		newID:    idGen,
		logger:   loggerOrNoop(deps.Logger),
		onResize: onResize,
		sessions: make(map[string]*ShopperSession),
	}, nil
}

// Get returns the live session for id and marks it active.
func (r *SessionRegistry) Get(id string) (*ShopperSession, bool) {
	r.mu.RLock()
	session, ok := r.sessions[strings.TrimSpace(id)]
	r.mu.RUnlock()
	if ok {
		session.Touch()
	}
	return session, ok
}

// GetOrCreate returns the live session for id. Unknown or empty IDs get a new session
// under a freshly issued ID; created reports that case.
func (r *SessionRegistry) GetOrCreate(ctx context.Context, id string) (*ShopperSession, bool, error) {
	if session, ok := r.Get(id); ok {
		return session, false, nil
	}

	session, err := r.factory(r.newID())
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	r.sessions[session.ID()] = session
	size := len(r.sessions)
	r.mu.Unlock()

	r.onResize(size)
	r.logger(ctx, "shopper_session_created", map[string]any{"sessionId": session.ID()})
	return session, true, nil
}

// SweepIdle evicts sessions idle longer than the TTL. Sessions with a submission in
// flight are kept.
func (r *SessionRegistry) SweepIdle(ctx context.Context, now time.Time) int {
	cutoff := now.UTC().Add(-r.idleTTL)

	r.mu.Lock()
	removed := 0
	for id, session := range r.sessions {
		if session.LastSeen().After(cutoff) || session.Checkout().Processing() {
			continue
		}
		delete(r.sessions, id)
		removed++
	}
	size := len(r.sessions)
	r.mu.Unlock()

	if removed > 0 {
		r.onResize(size)
		r.logger(ctx, "shopper_sessions_evicted", map[string]any{"removed": removed, "active": size})
	}
	return removed
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
