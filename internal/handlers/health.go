package handlers

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/topmanuais/api/internal/platform/httpx"
	"github.com/topmanuais/api/internal/repositories"
)

// BuildInfo describes the running binary for /healthz.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	clock  func() time.Time
	health repositories.HealthRepository
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithHealthRepository sets the dependency prober used by /readyz.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

// NewHealthHandlers constructs probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock().UTC()
	}
	if h.build.Version == "" {
		h.build.Version = "dev"
	}
	return h
}

// Healthz reports liveness and build metadata.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":      repositories.HealthStatusOK,
		"version":     h.build.Version,
		"commitSha":   h.build.CommitSHA,
		"environment": h.build.Environment,
		"uptime":      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		"timestamp":   now.Format(time.RFC3339),
	})
}

// Readyz probes dependencies. Degraded dependencies keep the instance in rotation; errors take it out.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	w.Header().Set("Cache-Control", "no-store")
	if h.health == nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": repositories.HealthStatusOK, "checks": map[string]any{}})
		return
	}

	report, err := h.health.Collect(ctx)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "readiness probe failed", http.StatusServiceUnavailable))
		return
	}

	checks := make(map[string]any, len(report.Checks))
	var failures []string
	for name, check := range report.Checks {
		entry := map[string]any{
			"status":    check.Status,
			"latencyMs": check.Latency.Milliseconds(),
		}
		if check.Error != "" {
			entry["error"] = check.Error
		}
		checks[name] = entry
		if check.Status == repositories.HealthStatusError {
			failures = append(failures, fmt.Sprintf("%s: %s", name, check.Error))
		}
	}
	sort.Strings(failures)

	if report.Status == repositories.HealthStatusError {
		httpx.WriteError(ctx, w, httpx.NewError("not_ready", "one or more dependencies are unavailable", http.StatusServiceUnavailable).
			WithDetails(map[string]any{"failures": failures}))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    report.Status,
		"checkedAt": report.CheckedAt.UTC().Format(time.RFC3339),
		"checks":    checks,
	})
}
