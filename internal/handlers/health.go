package handlers

import (
	"net/http"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

// BuildInfo identifies the running binary on the health endpoints.
type BuildInfo struct {
	Version     string
	CommitSHA   string
	Environment string
	StartedAt   time.Time
}

// HealthHandlers serves the liveness and readiness endpoints.
type HealthHandlers struct {
	build  BuildInfo
	health repositories.HealthRepository
	clock  func() time.Time
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithHealthBuildInfo attaches build metadata to health responses.
func WithHealthBuildInfo(build BuildInfo) HealthOption {
	return func(h *HealthHandlers) {
		h.build = build
	}
}

// WithHealthRepository wires the dependency prober used by readiness checks.
func WithHealthRepository(repo repositories.HealthRepository) HealthOption {
	return func(h *HealthHandlers) {
		h.health = repo
	}
}

// WithHealthClock overrides the clock, for tests.
func WithHealthClock(clock func() time.Time) HealthOption {
	return func(h *HealthHandlers) {
		if clock != nil {
			h.clock = clock
		}
	}
}

// NewHealthHandlers constructs health handlers with the given options.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{clock: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type healthCheckPayload struct {
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
	CheckedAt string `json:"checkedAt,omitempty"`
}

type healthResponse struct {
	Status      string                        `json:"status"`
	Version     string                        `json:"version,omitempty"`
	CommitSHA   string                        `json:"commitSha,omitempty"`
	Environment string                        `json:"environment,omitempty"`
	Uptime      string                        `json:"uptime,omitempty"`
	Timestamp   string                        `json:"timestamp"`
	Checks      map[string]healthCheckPayload `json:"checks,omitempty"`
}

// Healthz is the liveness probe: the process is up.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	resp := healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Timestamp:   now.Format(time.RFC3339),
	}
	if !h.build.StartedAt.IsZero() {
		resp.Uptime = now.Sub(h.build.StartedAt).Round(time.Second).String()
	}
	writeJSONResponse(w, http.StatusOK, resp)
}

// Readyz probes downstream dependencies. A degraded report still serves
// traffic; only an error report takes the instance out of rotation.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	now := h.clock().UTC()
	resp := healthResponse{
		Status:      domain.HealthStatusOK,
		Version:     h.build.Version,
		CommitSHA:   h.build.CommitSHA,
		Environment: h.build.Environment,
		Timestamp:   now.Format(time.RFC3339),
	}
	if !h.build.StartedAt.IsZero() {
		resp.Uptime = now.Sub(h.build.StartedAt).Round(time.Second).String()
	}

	status := http.StatusOK
	if h.health != nil {
		report, err := h.health.Collect(r.Context())
		if err != nil {
			resp.Status = domain.HealthStatusError
			writeJSONResponse(w, http.StatusServiceUnavailable, resp)
			return
		}
		resp.Status = report.Status
		if report.Environment != "" {
			resp.Environment = report.Environment
		}
		if len(report.Checks) > 0 {
			resp.Checks = make(map[string]healthCheckPayload, len(report.Checks))
			for name, check := range report.Checks {
				resp.Checks[name] = healthCheckPayload{
					Status:    check.Status,
					Detail:    check.Detail,
					Error:     check.Error,
					LatencyMS: check.Latency.Milliseconds(),
					CheckedAt: formatTime(check.CheckedAt),
				}
			}
		}
		if report.Status == domain.HealthStatusError {
			status = http.StatusServiceUnavailable
		}
	}
	writeJSONResponse(w, status, resp)
}
