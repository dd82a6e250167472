package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

type stubInventoryRepo struct {
	reserveFn func(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error)
	releaseFn func(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error)
	getFn     func(ctx context.Context, itemID, variantKey string) (domain.VariantStock, error)
	upsertFn  func(ctx context.Context, stock domain.VariantStock) error
}

func (s *stubInventoryRepo) Reserve(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error) {
	if s.reserveFn == nil {
		return domain.VariantStock{}, nil
	}
	return s.reserveFn(ctx, itemID, variantKey, quantity)
}

func (s *stubInventoryRepo) Release(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error) {
	if s.releaseFn == nil {
		return domain.VariantStock{}, nil
	}
	return s.releaseFn(ctx, itemID, variantKey, quantity)
}

func (s *stubInventoryRepo) Get(ctx context.Context, itemID, variantKey string) (domain.VariantStock, error) {
	if s.getFn == nil {
		return domain.VariantStock{}, nil
	}
	return s.getFn(ctx, itemID, variantKey)
}

func (s *stubInventoryRepo) Upsert(ctx context.Context, stock domain.VariantStock) error {
	if s.upsertFn == nil {
		return nil
	}
	return s.upsertFn(ctx, stock)
}

var _ repositories.InventoryRepository = (*stubInventoryRepo)(nil)

func testClock() time.Time {
	return time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
}

func TestReserveLinesRollsBackOnFailure(t *testing.T) {
	var reserved []string
	var released []string
	repo := &stubInventoryRepo{
		reserveFn: func(_ context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error) {
			key := fmt.Sprintf("%s/%s", itemID, variantKey)
			if itemID == "book-3" {
				return domain.VariantStock{}, &repositories.InventoryError{
					Code:  repositories.InventoryErrorInsufficientStock,
					Short: quantity,
				}
			}
			reserved = append(reserved, key)
			return domain.VariantStock{}, nil
		},
		releaseFn: func(_ context.Context, itemID, variantKey string, _ int64) (domain.VariantStock, error) {
			released = append(released, fmt.Sprintf("%s/%s", itemID, variantKey))
			return domain.VariantStock{}, nil
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Clock: testClock})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	err = svc.ReserveLines(context.Background(), []StockLine{
		{ItemID: "book-1", VariantKey: "hardcover", Quantity: 1},
		{ItemID: "book-2", VariantKey: "paperback", Quantity: 2},
		{ItemID: "book-3", VariantKey: "hardcover", Quantity: 1},
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "book-3") {
		t.Fatalf("error must name the offending item, got %q", err.Error())
	}
	if len(reserved) != 2 {
		t.Fatalf("expected 2 successful reservations before failure, got %d", len(reserved))
	}
	// Rollback releases in reverse reservation order.
	want := []string{"book-2/paperback", "book-1/hardcover"}
	if len(released) != len(want) || released[0] != want[0] || released[1] != want[1] {
		t.Fatalf("unexpected rollback order %v", released)
	}
}

func TestReserveLinesValidation(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: &stubInventoryRepo{}, Clock: testClock})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	cases := []struct {
		name  string
		lines []StockLine
	}{
		{name: "empty", lines: nil},
		{name: "blank item", lines: []StockLine{{VariantKey: "hardcover", Quantity: 1}}},
		{name: "zero quantity", lines: []StockLine{{ItemID: "book-1", VariantKey: "hardcover"}}},
		{name: "negative quantity", lines: []StockLine{{ItemID: "book-1", VariantKey: "hardcover", Quantity: -2}}},
	}
	for _, tc := range cases {
		if err := svc.ReserveLines(context.Background(), tc.lines); !errors.Is(err, ErrInventoryInvalidInput) {
			t.Fatalf("%s: expected ErrInventoryInvalidInput, got %v", tc.name, err)
		}
	}
}

func TestReserveLinesMapsShortfall(t *testing.T) {
	repo := &stubInventoryRepo{
		reserveFn: func(context.Context, string, string, int64) (domain.VariantStock, error) {
			return domain.VariantStock{}, &repositories.InventoryError{
				Code:  repositories.InventoryErrorInsufficientStock,
				Short: 3,
			}
		},
	}
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: repo, Clock: testClock})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}

	err = svc.ReserveLines(context.Background(), []StockLine{{ItemID: "book-1", VariantKey: "hardcover", Quantity: 5}})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	if !strings.Contains(err.Error(), "short by 3") {
		t.Fatalf("expected shortfall in message, got %q", err.Error())
	}
}

func TestSetStockRejectsNegative(t *testing.T) {
	svc, err := NewInventoryService(InventoryServiceDeps{Inventory: &stubInventoryRepo{}, Clock: testClock})
	if err != nil {
		t.Fatalf("NewInventoryService returned error: %v", err)
	}
	err = svc.SetStock(context.Background(), VariantStock{ItemID: "book-1", VariantKey: "hardcover", Available: -1})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected ErrInventoryInvalidInput, got %v", err)
	}
}
