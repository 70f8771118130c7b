package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a submission key is remembered.
const DefaultTTL = 24 * time.Hour

// EntryState is the persisted lifecycle of a key.
type EntryState string

const (
	EntryInFlight  EntryState = "in_flight"
	EntryCompleted EntryState = "completed"
)

// Outcome classifies a claim attempt.
type Outcome int

const (
	// OutcomeFresh grants the caller exclusive use of the key.
	OutcomeFresh Outcome = iota
	// OutcomeReplay means a completed response exists and must be replayed verbatim.
	OutcomeReplay
	// OutcomeInFlight means another request holds the key right now.
	OutcomeInFlight
)

// ErrFingerprintMismatch is returned when a key is reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reserved for different request fingerprint")

// Claim identifies one request asking for a key.
type Claim struct {
	Key         string
	Fingerprint string
	At          time.Time
	TTL         time.Duration
}

func (c Claim) normalized() Claim {
	c.Key = strings.TrimSpace(c.Key)
	c.At = c.At.UTC()
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	return c
}

func (c Claim) expiresAt() time.Time {
	return c.At.Add(c.TTL)
}

// Entry is what a store remembers about a key.
type Entry struct {
	Key         string
	Fingerprint string
	State       EntryState
	Status      int
	Header      map[string][]string
	Body        []byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

func (e Entry) expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Snapshot is a captured handler response.
type Snapshot struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists submission keys and the responses they produced.
type Store interface {
	Claim(ctx context.Context, claim Claim) (Outcome, Entry, error)
	Complete(ctx context.Context, claim Claim, snap Snapshot) error
	Abandon(ctx context.Context, key string) error
	Purge(ctx context.Context, now time.Time, limit int) (int, error)
}

// pendingEntry is the record written when a claim succeeds.
func pendingEntry(c Claim) Entry {
	return Entry{
		Key:         c.Key,
		Fingerprint: c.Fingerprint,
		State:       EntryInFlight,
		CreatedAt:   c.At,
		ExpiresAt:   c.expiresAt(),
	}
}

// judge decides the outcome of a claim against what is currently stored.
// It returns the entry to persist when the claim wins.
func judge(current *Entry, c Claim) (Outcome, Entry, error) {
	if current == nil || current.expired(c.At) {
		return OutcomeFresh, pendingEntry(c), nil
	}
	if current.Fingerprint != c.Fingerprint {
		return 0, Entry{}, ErrFingerprintMismatch
	}
	if current.State == EntryCompleted {
		return OutcomeReplay, *current, nil
	}
	return OutcomeInFlight, *current, nil
}

// completedEntry merges a response into the stored entry.
func completedEntry(current *Entry, c Claim, snap Snapshot) (Entry, error) {
	entry := Entry{Key: c.Key, Fingerprint: c.Fingerprint, CreatedAt: c.At}
	if current != nil {
		if current.Fingerprint != c.Fingerprint {
			return Entry{}, ErrFingerprintMismatch
		}
		if !current.CreatedAt.IsZero() {
			entry.CreatedAt = current.CreatedAt
		}
	}
	entry.State = EntryCompleted
	entry.Status = snap.Status
	entry.Header = storableHeader(snap.Header)
	if len(snap.Body) > 0 {
		entry.Body = append([]byte(nil), snap.Body...)
	}
	entry.ExpiresAt = c.expiresAt()
	return entry, nil
}

func documentID(key string) string {
	return digest([]byte(strings.TrimSpace(key)))
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

var hopHeaders = map[string]struct{}{
	"Content-Length":      {},
	"Date":                {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailers":            {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Set-Cookie":          {},
}

// storableHeader drops hop-by-hop headers and cookies; a replay must never
// re-issue the original caller's session cookie.
func storableHeader(h http.Header) map[string][]string {
	out := make(map[string][]string, len(h))
	for name, values := range h {
		name = http.CanonicalHeaderKey(name)
		if _, skip := hopHeaders[name]; skip {
			continue
		}
		out[name] = append([]string(nil), values...)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
