package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oakline-commerce/api/internal/repositories"
)

var (
	// ErrInventoryInvalidInput marks malformed reservation requests.
	ErrInventoryInvalidInput = errors.New("inventory: invalid input")
	// ErrInsufficientStock indicates a reservation could not be satisfied.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrInventoryUnavailable indicates the ledger backend failed.
	ErrInventoryUnavailable = errors.New("inventory: backend unavailable")
)

// InventoryServiceDeps enumerates collaborators for the inventory ledger service.
type InventoryServiceDeps struct {
	Inventory repositories.InventoryRepository
	Clock     func() time.Time
	Logger    func(ctx context.Context, event string, fields map[string]any)
}

type inventoryService struct {
	inventory repositories.InventoryRepository
	clock     func() time.Time
	logger    func(ctx context.Context, event string, fields map[string]any)
}

// NewInventoryService wires the ledger service.
func NewInventoryService(deps InventoryServiceDeps) (InventoryService, error) {
	if deps.Inventory == nil {
		return nil, errors.New("inventory service: inventory repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &inventoryService{
		inventory: deps.Inventory,
		clock:     func() time.Time { return clock().UTC() },
		logger:    deps.Logger,
	}, nil
}

// ReserveLines reserves every line or none: on the first failure all prior
// reservations in this attempt are released before the error surfaces.
func (s *inventoryService) ReserveLines(ctx context.Context, lines []StockLine) error {
	if err := validateLines(lines); err != nil {
		return err
	}

	reserved := make([]StockLine, 0, len(lines))
	for _, line := range lines {
		if _, err := s.inventory.Reserve(ctx, line.ItemID, line.VariantKey, line.Quantity); err != nil {
			s.rollback(ctx, reserved)
			return s.mapLedgerError(line, err)
		}
		reserved = append(reserved, line)
	}
	return nil
}

// ReleaseLines returns stock to the ledger. Increments have no upper bound;
// only backend failures surface.
func (s *inventoryService) ReleaseLines(ctx context.Context, lines []StockLine) error {
	if err := validateLines(lines); err != nil {
		return err
	}
	for _, line := range lines {
		if _, err := s.inventory.Release(ctx, line.ItemID, line.VariantKey, line.Quantity); err != nil {
			return fmt.Errorf("%w: release %s/%s: %v", ErrInventoryUnavailable, line.ItemID, line.VariantKey, err)
		}
	}
	return nil
}

func (s *inventoryService) GetStock(ctx context.Context, itemID, variantKey string) (VariantStock, error) {
	if strings.TrimSpace(itemID) == "" || strings.TrimSpace(variantKey) == "" {
		return VariantStock{}, fmt.Errorf("%w: item id and variant key are required", ErrInventoryInvalidInput)
	}
	stock, err := s.inventory.Get(ctx, itemID, variantKey)
	if err != nil {
		return VariantStock{}, s.mapLedgerError(StockLine{ItemID: itemID, VariantKey: variantKey}, err)
	}
	return stock, nil
}

func (s *inventoryService) SetStock(ctx context.Context, stock VariantStock) error {
	if strings.TrimSpace(stock.ItemID) == "" || strings.TrimSpace(stock.VariantKey) == "" {
		return fmt.Errorf("%w: item id and variant key are required", ErrInventoryInvalidInput)
	}
	if stock.Available < 0 {
		return fmt.Errorf("%w: available must not be negative", ErrInventoryInvalidInput)
	}
	if stock.UpdatedAt.IsZero() {
		stock.UpdatedAt = s.clock()
	}
	if err := s.inventory.Upsert(ctx, stock); err != nil {
		return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
	}
	return nil
}

func (s *inventoryService) rollback(ctx context.Context, reserved []StockLine) {
	for i := len(reserved) - 1; i >= 0; i-- {
		line := reserved[i]
		if _, err := s.inventory.Release(ctx, line.ItemID, line.VariantKey, line.Quantity); err != nil {
			s.log(ctx, "inventory.rollback_failed", map[string]any{
				"itemId":     line.ItemID,
				"variantKey": line.VariantKey,
				"quantity":   line.Quantity,
				"error":      err.Error(),
			})
		}
	}
}

func (s *inventoryService) mapLedgerError(line StockLine, err error) error {
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		switch invErr.Code {
		case repositories.InventoryErrorInsufficientStock:
			return fmt.Errorf("%w: %s/%s short by %d", ErrInsufficientStock, line.ItemID, line.VariantKey, invErr.Short)
		case repositories.InventoryErrorStockNotFound:
			return fmt.Errorf("%w: %s/%s has no stock record", ErrInsufficientStock, line.ItemID, line.VariantKey)
		case repositories.InventoryErrorInvalidQuantity:
			return fmt.Errorf("%w: %v", ErrInventoryInvalidInput, invErr)
		}
	}
	return fmt.Errorf("%w: %v", ErrInventoryUnavailable, err)
}

func (s *inventoryService) log(ctx context.Context, event string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger(ctx, event, fields)
}

func validateLines(lines []StockLine) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: at least one line is required", ErrInventoryInvalidInput)
	}
	for _, line := range lines {
		if strings.TrimSpace(line.ItemID) == "" || strings.TrimSpace(line.VariantKey) == "" {
			return fmt.Errorf("%w: item id and variant key are required", ErrInventoryInvalidInput)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: quantity must be positive for %s/%s", ErrInventoryInvalidInput, line.ItemID, line.VariantKey)
		}
	}
	return nil
}
