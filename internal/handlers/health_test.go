package handlers

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/topmanuais/api/internal/repositories"
)

type stubHealthRepository struct {
	report repositories.HealthReport
	err    error
}

func (s stubHealthRepository) Collect(context.Context) (repositories.HealthReport, error) {
	return s.report, s.err
}

func TestHealthHandlersHealthz(t *testing.T) {
	started := testNow.Add(-90 * time.Second)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc123", Environment: "staging", StartedAt: started}),
		WithHealthClock(fixedClock),
	)

	rr := serve(http.HandlerFunc(h.Healthz), http.MethodGet, "/healthz")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body map[string]any
	decodeBody(t, rr, &body)
	if body["version"] != "1.4.0" || body["commitSha"] != "abc123" || body["environment"] != "staging" {
		t.Fatalf("unexpected build info %#v", body)
	}
	if body["uptime"] != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %v", body["uptime"])
	}
}

func TestHealthHandlersReadyz(t *testing.T) {
	tests := []struct {
		name   string
		repo   repositories.HealthRepository
		status int
	}{
		{name: "no repository", repo: nil, status: http.StatusOK},
		{
			name: "all ok",
			repo: stubHealthRepository{report: repositories.HealthReport{
				Status: repositories.HealthStatusOK,
				Checks: map[string]repositories.HealthCheck{"firestore": {Status: repositories.HealthStatusOK}},
			}},
			status: http.StatusOK,
		},
		{
			name: "degraded stays in rotation",
			repo: stubHealthRepository{report: repositories.HealthReport{
				Status: repositories.HealthStatusDegraded,
				Checks: map[string]repositories.HealthCheck{"redis": {Status: repositories.HealthStatusDegraded, Error: "slow"}},
			}},
			status: http.StatusOK,
		},
		{
			name: "failing dependency",
			repo: stubHealthRepository{report: repositories.HealthReport{
				Status: repositories.HealthStatusError,
				Checks: map[string]repositories.HealthCheck{"firestore": {Status: repositories.HealthStatusError, Error: "deadline exceeded"}},
			}},
			status: http.StatusServiceUnavailable,
		},
		{name: "collect error", repo: stubHealthRepository{err: errors.New("boom")}, status: http.StatusServiceUnavailable},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandlers(WithHealthRepository(tc.repo), WithHealthClock(fixedClock))
			rr := serve(http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz")
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHealthHandlersReadyzListsFailures(t *testing.T) {
	h := NewHealthHandlers(WithHealthRepository(stubHealthRepository{report: repositories.HealthReport{
		Status: repositories.HealthStatusError,
		Checks: map[string]repositories.HealthCheck{
			"redis":     {Status: repositories.HealthStatusError, Error: "connection refused"},
			"firestore": {Status: repositories.HealthStatusOK},
		},
	}}))

	rr := serve(http.HandlerFunc(h.Readyz), http.MethodGet, "/readyz")
	var body struct {
		Failures []string `json:"failures"`
	}
	decodeBody(t, rr, &body)
	if len(body.Failures) != 1 || body.Failures[0] != "redis: connection refused" {
		t.Fatalf("unexpected failures %#v", body.Failures)
	}
}
