package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
)

type stubHealthRepository struct {
	collectFn func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	return s.collectFn(ctx)
}

func TestHealthzReportsUptime(t *testing.T) {
	started := time.Date(2026, time.March, 14, 8, 0, 0, 0, time.UTC)
	h := NewHealthHandlers(
		WithHealthBuildInfo(BuildInfo{Version: "1.4.0", CommitSHA: "abc1234", Environment: "test", StartedAt: started}),
		WithHealthClock(func() time.Time { return started.Add(90 * time.Second) }),
	)

	rr := doRequest(h.Healthz, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.HealthStatusOK || resp.Version != "1.4.0" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Uptime != "1m30s" {
		t.Fatalf("unexpected uptime %q", resp.Uptime)
	}
}

func TestReadyzHealthyDependencies(t *testing.T) {
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusOK,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond},
				},
			}, nil
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	rr := doRequest(h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Checks["firestore"].LatencyMS != 12 {
		t.Fatalf("unexpected checks %+v", resp.Checks)
	}
}

func TestReadyzDegradedStillServes(t *testing.T) {
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status: domain.HealthStatusDegraded,
				Checks: map[string]domain.SystemHealthCheck{
					"pubsub": {Status: domain.HealthStatusError, Error: "publish backlog"},
				},
			}, nil
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	rr := doRequest(h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("degraded must stay in rotation, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.HealthStatusDegraded {
		t.Fatalf("unexpected status %q", resp.Status)
	}
}

func TestReadyzErrorReportTakesInstanceOut(t *testing.T) {
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{Status: domain.HealthStatusError}, nil
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	rr := doRequest(h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestReadyzCollectFailure(t *testing.T) {
	repo := &stubHealthRepository{
		collectFn: func(context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, errors.New("probe wiring broken")
		},
	}
	h := NewHealthHandlers(WithHealthRepository(repo))

	rr := doRequest(h.Readyz, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != domain.HealthStatusError {
		t.Fatalf("unexpected status %q", resp.Status)
	}
}
