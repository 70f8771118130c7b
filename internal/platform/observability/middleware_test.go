package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/topmanuais/api/internal/platform/requestctx"
)

func TestRequestLoggerMiddlewareRecordsSession(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := zap.New(core)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := requestctx.WithSessionID(r.Context(), "01HSESSION")
		requestctx.NoteOrder(ctx, "01HORDER")
		w.WriteHeader(http.StatusPaymentRequired)
	})
	handler := InjectLoggerMiddleware(logger)(RequestLoggerMiddleware("tm-test")(inner))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/checkout:submit", nil))

	completed := logs.FilterMessage("request completed").All()
	if len(completed) != 1 {
		t.Fatalf("expected one completion entry, got %d", len(completed))
	}
	entry := completed[0]
	if entry.Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for 4xx, got %s", entry.Level)
	}
	fields := entry.ContextMap()
	if fields["session_id"] != "01HSESSION" {
		t.Fatalf("expected session id field, got %v", fields["session_id"])
	}
	if fields["order_id"] != "01HORDER" {
		t.Fatalf("expected order id field, got %v", fields["order_id"])
	}
	if fields["status"] != int64(http.StatusPaymentRequired) {
		t.Fatalf("expected status field 402, got %v", fields["status"])
	}
}

func TestRecoveryMiddlewareWritesJSONError(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	handler := RecoveryMiddleware(zap.New(core))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if payload["error"] != "internal_server_error" {
		t.Fatalf("unexpected error code %v", payload["error"])
	}
	if logs.FilterMessage("panic recovered").Len() != 1 {
		t.Fatalf("expected panic to be logged")
	}
}

func TestEventLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := EventLogger(zap.New(core))

	log(context.Background(), "checkout_completed", map[string]any{"orderId": "ord-1"})
	log(context.Background(), "notification_dispatch_failed", map[string]any{"error": errors.New("timeout")})

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel || entries[0].ContextMap()["orderId"] != "ord-1" {
		t.Fatalf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("expected warn for failed event, got %s", entries[1].Level)
	}
	if entries[1].ContextMap()["error"] != "timeout" {
		t.Fatalf("expected error field, got %v", entries[1].ContextMap()["error"])
	}
}

func TestParseCloudTraceContext(t *testing.T) {
	sc, ok := parseCloudTraceContext("105445aa7843bc8bf206b12000100000/1;o=1")
	if !ok {
		t.Fatal("expected header to parse")
	}
	if sc.TraceID().String() != "105445aa7843bc8bf206b12000100000" {
		t.Fatalf("unexpected trace id %s", sc.TraceID())
	}
	if sc.SpanID().String() != "0000000000000001" {
		t.Fatalf("unexpected span id %s", sc.SpanID())
	}
	if !sc.IsSampled() {
		t.Fatal("expected sampled flag")
	}
	if got := formatCloudTrace(sc); got != "105445aa7843bc8bf206b12000100000/1;o=1" {
		t.Fatalf("expected header to round trip, got %s", got)
	}
	for _, header := range []string{"garbage", "105445aa7843bc8bf206b12000100000/0", "xyz/1;o=1"} {
		if _, ok := parseCloudTraceContext(header); ok {
			t.Fatalf("expected %q to be rejected", header)
		}
	}
}

func TestTraceMiddlewarePrefersTraceparent(t *testing.T) {
	var got requestctx.TraceInfo
	handler := TraceMiddleware("tm-test")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = requestctx.Trace(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	req.Header.Set(cloudTraceHeader, "105445aa7843bc8bf206b12000100000/1;o=1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got.TraceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("expected traceparent trace id, got %s", got.TraceID)
	}
	if got.ProjectID != "tm-test" {
		t.Fatalf("expected project id, got %s", got.ProjectID)
	}
	if rec.Header().Get(cloudTraceHeader) == "" {
		t.Fatal("expected cloud trace header on response")
	}
}
