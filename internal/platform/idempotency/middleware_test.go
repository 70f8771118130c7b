package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/topmanuais/api/internal/platform/requestctx"
)

var fixedTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

const submitPath = "/api/v1/checkout:submit"

type submission struct {
	key     string
	body    string
	session string
}

func (s submission) request() *http.Request {
	req := httptest.NewRequest(http.MethodPost, submitPath, strings.NewReader(s.body))
	req.Header.Set("Content-Type", "application/json")
	if s.key != "" {
		req.Header.Set("Idempotency-Key", s.key)
	}
	if s.session != "" {
		req = req.WithContext(requestctx.WithSessionID(req.Context(), s.session))
	}
	return req
}

func send(h http.Handler, s submission) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, s.request())
	return rr
}

func guarded(store Store, next http.HandlerFunc, opts ...MiddlewareOption) http.Handler {
	opts = append([]MiddlewareOption{WithClock(func() time.Time { return fixedTime })}, opts...)
	return Middleware(store, opts...)(next)
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if body.Status != rr.Code {
		t.Fatalf("payload status %d does not match response %d", body.Status, rr.Code)
	}
	return body.Error
}

func TestMiddlewareRejectsBadKeys(t *testing.T) {
	cases := map[string]struct {
		key  string
		code string
	}{
		"missing":   {key: "", code: "idempotency_key_required"},
		"blank":     {key: "   ", code: "idempotency_key_required"},
		"oversized": {key: strings.Repeat("k", maxKeyLength+1), code: "idempotency_key_invalid"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := guarded(NewMemoryStore(), func(http.ResponseWriter, *http.Request) {
				t.Fatal("handler must not run")
			})
			rr := send(h, submission{key: tc.key, body: `{}`})
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rr.Code)
			}
			if got := errorCode(t, rr); got != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, got)
			}
		})
	}
}

func TestMiddlewareIgnoresUnguardedMethods(t *testing.T) {
	var calls int
	h := guarded(NewMemoryStore(), func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/checkout", nil))
	if rr.Code != http.StatusOK || calls != 1 {
		t.Fatalf("expected GET to bypass the guard, got %d after %d calls", rr.Code, calls)
	}
}

func TestMiddlewareReplaysCompletedSubmission(t *testing.T) {
	var calls int
	h := guarded(NewMemoryStore(), func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Set-Cookie", "tm_session=abc")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"orderNumber":"TM-2026-000001"}`))
	})
	sub := submission{key: "chk_1-1", body: `{"acceptTerms":true}`, session: "sess-1"}

	first := send(h, sub)
	second := send(h, sub)

	if calls != 1 {
		t.Fatalf("expected one handler call, got %d", calls)
	}
	if second.Code != http.StatusCreated || second.Body.String() != first.Body.String() {
		t.Fatalf("expected replay of %d %s, got %d %s", first.Code, first.Body, second.Code, second.Body)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("expected replay header")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("expected stored content type, got %q", second.Header().Get("Content-Type"))
	}
	if second.Header().Get("Set-Cookie") != "" {
		t.Fatal("cookies must not be replayed")
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	h := guarded(NewMemoryStore(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if rr := send(h, submission{key: "same", body: `{"acceptTerms":true}`}); rr.Code != http.StatusOK {
		t.Fatalf("expected first submission to pass, got %d", rr.Code)
	}
	rr := send(h, submission{key: "same", body: `{"acceptTerms":false}`})
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "idempotency_key_conflict" {
		t.Fatalf("unexpected code %s", got)
	}
}

func TestMiddlewareReportsInFlightClaim(t *testing.T) {
	store := NewMemoryStore()
	sub := submission{key: "pending", body: `{}`, session: "sess-1"}

	req := sub.request()
	body, err := bufferBody(req)
	if err != nil {
		t.Fatalf("buffer body: %v", err)
	}
	owner := sessionScope(req.Context())
	seed := Claim{Key: sub.key + "|" + owner, Fingerprint: fingerprint(req, body, owner), At: fixedTime, TTL: time.Hour}
	if outcome, _, err := store.Claim(context.Background(), seed); err != nil || outcome != OutcomeFresh {
		t.Fatalf("seed claim: outcome %d err %v", outcome, err)
	}

	h := guarded(store, func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	})
	rr := send(h, sub)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "idempotency_in_progress" {
		t.Fatalf("unexpected code %s", got)
	}
}

func TestMiddlewareAbandonsKeyWhenCompleteFails(t *testing.T) {
	store := &stubStore{completeErr: errors.New("firestore unavailable")}
	h := guarded(store, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})
	rr := send(h, submission{key: "k", body: `{}`})
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if got := errorCode(t, rr); got != "idempotency_store_error" {
		t.Fatalf("unexpected code %s", got)
	}
	if store.abandoned != 1 {
		t.Fatalf("expected key to be abandoned once, got %d", store.abandoned)
	}
}

func TestMiddlewareScopesKeysBySession(t *testing.T) {
	var calls int
	h := guarded(NewMemoryStore(), func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte(requestctx.SessionID(r.Context())))
	})
	for _, session := range []string{"sess-a", "sess-b"} {
		rr := send(h, submission{key: "shared", body: `{}`, session: session})
		if rr.Body.String() != session {
			t.Fatalf("expected response for %s, got %q", session, rr.Body.String())
		}
	}
	if calls != 2 {
		t.Fatalf("expected each session to reach the handler, got %d calls", calls)
	}
}

func TestMiddlewareLetsDeclinesRetry(t *testing.T) {
	statuses := []int{http.StatusPaymentRequired, http.StatusCreated}
	var calls int
	h := guarded(NewMemoryStore(), func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(statuses[calls])
		calls++
	}, WithPersistWhen(SuccessOnly))
	sub := submission{key: "chk_9-1", body: `{}`, session: "sess-1"}

	if rr := send(h, sub); rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected decline to pass through, got %d", rr.Code)
	}
	if rr := send(h, sub); rr.Code != http.StatusCreated {
		t.Fatalf("expected retry to reach the handler, got %d", rr.Code)
	}
	rr := send(h, sub)
	if rr.Code != http.StatusCreated || rr.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected stored success to replay, got %d", rr.Code)
	}
	if calls != 2 {
		t.Fatalf("expected two handler calls, got %d", calls)
	}
}

type stubStore struct {
	completeErr error
	abandoned   int
}

func (s *stubStore) Claim(context.Context, Claim) (Outcome, Entry, error) {
	return OutcomeFresh, Entry{}, nil
}

func (s *stubStore) Complete(context.Context, Claim, Snapshot) error { return s.completeErr }

func (s *stubStore) Abandon(context.Context, string) error {
	s.abandoned++
	return nil
}

func (s *stubStore) Purge(context.Context, time.Time, int) (int, error) { return 0, nil }
