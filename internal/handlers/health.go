package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	domain "github.com/giftcraft/api/internal/domain"
	"github.com/giftcraft/api/internal/repositories"
)

// BuildInfo captures runtime metadata exposed via health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// ReadinessCheck probes a single dependency.
type ReadinessCheck = repositories.Probe

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	build  BuildInfo
	checks []ReadinessCheck
	clock  func() time.Time
}

// HealthOption customises HealthHandlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo sets the build metadata reported by /healthz.
func WithHealthBuildInfo(info BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = info
	}
}

// WithHealthClock overrides the clock used for uptime and timestamps.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// WithReadinessChecks registers dependency probes for /readyz.
func WithReadinessChecks(checks ...ReadinessCheck) HealthOption {
	return func(h *HealthHandlers) {
		for _, check := range checks {
			if check.Name != "" && check.Check != nil {
				h.checks = append(h.checks, check)
			}
		}
	}
}

// NewHealthHandlers constructs the health endpoints.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	if h.build.StartedAt.IsZero() {
		h.build.StartedAt = h.clock()
	}
	if h.build.Version == "" {
		h.build.Version = "dev"
	}
	return h
}

type healthResponse struct {
	Status      domain.HealthStatus `json:"status"`
	Version     string              `json:"version"`
	CommitSHA   string              `json:"commitSha,omitempty"`
	Environment string              `json:"environment,omitempty"`
	Uptime      string              `json:"uptime"`
	Timestamp   string              `json:"timestamp"`
}

type checkResponse struct {
	Status    domain.HealthStatus `json:"status"`
	LatencyMS int64               `json:"latencyMs"`
	Error     string              `json:"error,omitempty"`
}

type readinessResponse struct {
	Status    domain.HealthStatus      `json:"status"`
	Checks    map[string]checkResponse `json:"checks"`
	Details   []string                 `json:"details,omitempty"`
	Timestamp string                   `json:"timestamp"`
}

// Healthz reports liveness without touching dependencies.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, _ *http.Request) {
	now := h.clock()
	writeJSONResponse(w, http.StatusOK, healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Uptime:      now.Sub(h.build.StartedAt).Round(time.Second).String(),
		Timestamp:   formatTime(now),
	})
}

// Readyz runs every dependency probe and answers 503 unless all pass.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	report := h.probe(r.Context())

	resp := readinessResponse{
		Status:    report.Status,
		Checks:    make(map[string]checkResponse, len(report.Checks)),
		Timestamp: formatTime(report.GeneratedAt),
	}
	names := make([]string, 0, len(report.Checks))
	for name := range report.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		check := report.Checks[name]
		resp.Checks[name] = checkResponse{
			Status:    check.Status,
			LatencyMS: check.Latency.Milliseconds(),
		}
		if check.Status != domain.HealthStatusOK {
			entry := resp.Checks[name]
			entry.Error = check.Detail
			resp.Checks[name] = entry
			resp.Details = append(resp.Details, name+": "+check.Detail)
		}
	}

	status := http.StatusOK
	if report.Status != domain.HealthStatusOK {
		status = http.StatusServiceUnavailable
	}
	writeJSONResponse(w, status, resp)
}

func (h *HealthHandlers) probe(ctx context.Context) domain.ReadinessReport {
	if len(h.checks) == 0 {
		return domain.ReadinessReport{Status: domain.HealthStatusOK, GeneratedAt: h.clock()}
	}
	checker, err := repositories.NewReadinessChecker(h.checks, h.clock)
	if err != nil {
		return domain.ReadinessReport{Status: domain.HealthStatusError, GeneratedAt: h.clock()}
	}
	return checker.Check(ctx)
}
