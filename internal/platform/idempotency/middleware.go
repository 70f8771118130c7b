package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/topmanuais/api/internal/platform/requestctx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	maxKeyLength      = 255
)

// Logger receives store failures that cannot be reported to the client.
type Logger interface {
	Printf(format string, args ...any)
}

// MiddlewareOption customises the guard.
type MiddlewareOption func(*guard)

// WithHeader overrides the request header carrying the key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL configures how long keys are remembered.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods restricts the HTTP methods that require a key.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithPersistWhen limits which statuses are remembered. A rejected status
// frees the key so the shopper can retry it, e.g. after a declined payment.
func WithPersistWhen(persist func(status int) bool) MiddlewareOption {
	return func(g *guard) {
		g.persist = persist
	}
}

// SuccessOnly persists 2xx responses.
func SuccessOnly(status int) bool {
	return status >= 200 && status < 300
}

// WithClock overrides the time source.
func WithClock(clock func() time.Time) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	methods map[string]struct{}
	clock   func() time.Time
	logger  Logger
	persist func(status int) bool
}

// Middleware makes the wrapped handler run at most once per key and session.
// Later requests with the same key get the stored response replayed.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	g := &guard{
		store:   store,
		header:  defaultHeaderName,
		ttl:     DefaultTTL,
		methods: map[string]struct{}{http.MethodPost: {}, http.MethodPut: {}, http.MethodPatch: {}, http.MethodDelete: {}},
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, guarded := g.methods[r.Method]; !guarded {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	raw := strings.TrimSpace(r.Header.Get(g.header))
	switch {
	case raw == "":
		respondError(w, http.StatusBadRequest, "idempotency_key_required", "missing idempotency key header")
		return
	case len(raw) > maxKeyLength:
		respondError(w, http.StatusBadRequest, "idempotency_key_invalid", "idempotency key is too long")
		return
	}

	body, err := bufferBody(r)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "idempotency_read_body_failed", "unable to read request body")
		return
	}

	owner := sessionScope(r.Context())
	claim := Claim{
		Key:         raw + "|" + owner,
		Fingerprint: fingerprint(r, body, owner),
		At:          g.clock(),
		TTL:         g.ttl,
	}

	outcome, entry, err := g.store.Claim(r.Context(), claim)
	if err != nil {
		g.storeFailure(w, err)
		return
	}
	switch outcome {
	case OutcomeReplay:
		replay(w, entry)
		return
	case OutcomeInFlight:
		respondError(w, http.StatusConflict, "idempotency_in_progress", "another request is processing this idempotency key")
		return
	}

	rec := newCapture()
	next.ServeHTTP(rec, r)
	snap := rec.snapshot()

	if g.persist != nil && !g.persist(snap.Status) {
		g.abandon(r.Context(), claim.Key)
		g.flush(w, rec, raw)
		return
	}

	claim.At = g.clock()
	if err := g.store.Complete(r.Context(), claim, snap); err != nil {
		g.logf("idempotency: persist response for key %s (%s): %v", raw, owner, err)
		g.abandon(r.Context(), claim.Key)
		respondError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to persist idempotency state")
		return
	}
	g.flush(w, rec, raw)
}

func (g *guard) storeFailure(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrFingerprintMismatch) {
		respondError(w, http.StatusConflict, "idempotency_key_conflict", "idempotency key already used for a different request")
		return
	}
	g.logf("idempotency: store error: %v", err)
	respondError(w, http.StatusInternalServerError, "idempotency_store_error", "unable to process idempotency key")
}

func (g *guard) abandon(ctx context.Context, key string) {
	if err := g.store.Abandon(ctx, key); err != nil {
		g.logf("idempotency: release key %s: %v", key, err)
	}
}

func (g *guard) flush(w http.ResponseWriter, c *capture, key string) {
	if err := c.writeTo(w); err != nil {
		g.logf("idempotency: flush response for key %s: %v", key, err)
	}
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

// sessionScope ties keys to the shopper session so two shoppers reusing a key
// never see each other's orders.
func sessionScope(ctx context.Context) string {
	if id := strings.TrimSpace(requestctx.SessionID(ctx)); id != "" {
		return "session:" + id
	}
	return "anonymous"
}

func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

func fingerprint(r *http.Request, body []byte, owner string) string {
	parts := []string{
		strings.ToUpper(r.Method),
		r.URL.Path,
		r.URL.RawQuery,
		r.Header.Get("Content-Type"),
		owner,
	}
	if len(body) > 0 {
		parts = append(parts, digest(body))
	}
	return digest([]byte(strings.Join(parts, "|")))
}

func replay(w http.ResponseWriter, entry Entry) {
	header := w.Header()
	for name, values := range entry.Header {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")

	status := entry.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	if len(entry.Body) > 0 {
		_, _ = w.Write(entry.Body)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}

// capture buffers a handler response until the key outcome is known.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: make(http.Header)}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if c.status == 0 && status > 0 {
		c.status = status
	}
}

func (c *capture) Write(data []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	return c.body.Write(data)
}

func (c *capture) snapshot() Snapshot {
	status := c.status
	if status == 0 {
		status = http.StatusOK
	}
	snap := Snapshot{Status: status, Header: c.header.Clone()}
	if c.body.Len() > 0 {
		snap.Body = c.body.Bytes()
	}
	return snap
}

func (c *capture) writeTo(w http.ResponseWriter) error {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	snap := c.snapshot()
	w.WriteHeader(snap.Status)
	if len(snap.Body) == 0 {
		return nil
	}
	_, err := w.Write(snap.Body)
	return err
}
