package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

// InventoryRepository keeps the stock ledger in process memory. Each variant
// owns its own lock, so concurrent reservations against different variants do
// not contend while reservations against the same variant are serialised.
type InventoryRepository struct {
	mu       sync.Mutex
	variants map[string]*variantRecord
	clock    func() time.Time
}

type variantRecord struct {
	mu    sync.Mutex
	stock domain.VariantStock
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs an empty in-memory ledger.
func NewInventoryRepository(clock func() time.Time) *InventoryRepository {
	if clock == nil {
		clock = time.Now
	}
	return &InventoryRepository{
		variants: make(map[string]*variantRecord),
		clock:    clock,
	}
}

func variantKey(itemID, key string) string {
	return itemID + "#" + key
}

func (r *InventoryRepository) record(itemID, key string, create bool) (*variantRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.variants[variantKey(itemID, key)]
	if !ok && create {
		rec = &variantRecord{stock: domain.VariantStock{ItemID: itemID, VariantKey: key}}
		r.variants[variantKey(itemID, key)] = rec
		ok = true
	}
	return rec, ok
}

// Reserve atomically checks availability and decrements. The variant lock is
// held for the whole check-and-decrement, so two callers racing for the last
// unit cannot both succeed.
func (r *InventoryRepository) Reserve(ctx context.Context, itemID, key string, quantity int64) (domain.VariantStock, error) {
	if err := ctx.Err(); err != nil {
		return domain.VariantStock{}, err
	}
	if quantity <= 0 {
		return domain.VariantStock{}, &repositories.InventoryError{
			Op:      "memory.Reserve",
			Code:    repositories.InventoryErrorInvalidQuantity,
			Message: fmt.Sprintf("quantity must be positive, got %d", quantity),
		}
	}

	rec, ok := r.record(itemID, key, false)
	if !ok {
		return domain.VariantStock{}, &repositories.InventoryError{
			Op:      "memory.Reserve",
			Code:    repositories.InventoryErrorStockNotFound,
			Message: fmt.Sprintf("no stock record for %s/%s", itemID, key),
		}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.stock.Available < quantity {
		return domain.VariantStock{}, &repositories.InventoryError{
			Op:      "memory.Reserve",
			Code:    repositories.InventoryErrorInsufficientStock,
			Message: fmt.Sprintf("requested %d of %s/%s, available %d", quantity, itemID, key, rec.stock.Available),
			Short:   quantity - rec.stock.Available,
		}
	}
	rec.stock.Available -= quantity
	rec.stock.UpdatedAt = r.clock().UTC()
	return rec.stock, nil
}

// Release increments availability. It never fails on quantity bounds; missing
// records are created so a release after an administrative wipe still lands.
func (r *InventoryRepository) Release(ctx context.Context, itemID, key string, quantity int64) (domain.VariantStock, error) {
	if err := ctx.Err(); err != nil {
		return domain.VariantStock{}, err
	}
	if quantity <= 0 {
		return domain.VariantStock{}, &repositories.InventoryError{
			Op:      "memory.Release",
			Code:    repositories.InventoryErrorInvalidQuantity,
			Message: fmt.Sprintf("quantity must be positive, got %d", quantity),
		}
	}

	rec, _ := r.record(itemID, key, true)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.stock.Available += quantity
	rec.stock.UpdatedAt = r.clock().UTC()
	return rec.stock, nil
}

// Get returns the current stock record for a variant.
func (r *InventoryRepository) Get(ctx context.Context, itemID, key string) (domain.VariantStock, error) {
	if err := ctx.Err(); err != nil {
		return domain.VariantStock{}, err
	}
	rec, ok := r.record(itemID, key, false)
	if !ok {
		return domain.VariantStock{}, &repositories.InventoryError{
			Op:      "memory.Get",
			Code:    repositories.InventoryErrorStockNotFound,
			Message: fmt.Sprintf("no stock record for %s/%s", itemID, key),
		}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.stock, nil
}

// Upsert replaces the stock record, creating it when absent.
func (r *InventoryRepository) Upsert(ctx context.Context, stock domain.VariantStock) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rec, _ := r.record(stock.ItemID, stock.VariantKey, true)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if stock.UpdatedAt.IsZero() {
		stock.UpdatedAt = r.clock().UTC()
	}
	rec.stock = stock
	return nil
}
