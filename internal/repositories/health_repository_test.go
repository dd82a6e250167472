package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
)

func TestDependencyHealthRepositoryAllHealthy(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return nil }},
	}, nil)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok status, got %q", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.Checks["firestore"].Status != domain.HealthStatusOK {
		t.Fatalf("expected firestore check ok, got %q", report.Checks["firestore"].Status)
	}
}

func TestDependencyHealthRepositoryDegradedDependency(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: func(context.Context) error { return nil }},
		{Name: "pubsub", Check: func(context.Context) error { return errors.New("publish backlog") }},
	}, nil)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded status, got %q", report.Status)
	}
	check := report.Checks["pubsub"]
	if check.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected pubsub degraded, got %q", check.Status)
	}
	if check.Error != "publish backlog" {
		t.Fatalf("unexpected error detail %q", check.Error)
	}
}

func TestDependencyHealthRepositoryTimeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{
			Name:    "shipping",
			Timeout: 10 * time.Millisecond,
			Check: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			},
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository returned error: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect returned error: %v", err)
	}
	if report.Status != domain.HealthStatusError {
		t.Fatalf("expected error status, got %q", report.Status)
	}
	if report.Checks["shipping"].Detail != "timeout" {
		t.Fatalf("expected timeout detail, got %q", report.Checks["shipping"].Detail)
	}
}

func TestDependencyHealthRepositoryValidation(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil, nil); err == nil {
		t.Fatal("expected error for empty check set")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: " "}}, nil); err == nil {
		t.Fatal("expected error for unnamed check")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "firestore"}}, nil); err == nil {
		t.Fatal("expected error for missing check function")
	}
}
