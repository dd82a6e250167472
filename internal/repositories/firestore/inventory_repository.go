package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/oakline-commerce/api/internal/domain"
	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/repositories"
)

const inventoryCollection = "inventory"

type stockDocument struct {
	ItemID     string    `firestore:"itemId"`
	VariantKey string    `firestore:"variantKey"`
	Available  int64     `firestore:"available"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// InventoryRepository is the Firestore-backed stock ledger. Reserve and
// Release run inside transactions, so concurrent reservations never both
// observe the same pre-decrement count.
type InventoryRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[stockDocument]
	clock    func() time.Time
}

var _ repositories.InventoryRepository = (*InventoryRepository)(nil)

// NewInventoryRepository constructs a Firestore-backed inventory repository.
func NewInventoryRepository(provider *pfirestore.Provider, clock func() time.Time) (*InventoryRepository, error) {
	if provider == nil {
		return nil, errors.New("inventory repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &InventoryRepository{
		provider: provider,
		base:     pfirestore.NewCollection[stockDocument](provider, inventoryCollection),
		clock:    clock,
	}, nil
}

func stockDocID(itemID, variantKey string) string {
	return itemID + "__" + variantKey
}

// Reserve decrements availability by quantity. The decrement and the
// availability check commit atomically; availability never goes negative.
func (r *InventoryRepository) Reserve(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error) {
	if err := requirePositiveQuantity("firestore.Reserve", quantity); err != nil {
		return domain.VariantStock{}, err
	}
	return r.adjust(ctx, itemID, variantKey, -quantity)
}

// Release returns quantity to the ledger. Increments have no upper bound.
func (r *InventoryRepository) Release(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error) {
	if err := requirePositiveQuantity("firestore.Release", quantity); err != nil {
		return domain.VariantStock{}, err
	}
	return r.adjust(ctx, itemID, variantKey, quantity)
}

func requirePositiveQuantity(op string, quantity int64) error {
	if quantity > 0 {
		return nil
	}
	return &repositories.InventoryError{
		Op:      op,
		Code:    repositories.InventoryErrorInvalidQuantity,
		Message: fmt.Sprintf("quantity must be positive, got %d", quantity),
	}
}

func (r *InventoryRepository) adjust(ctx context.Context, itemID, variantKey string, delta int64) (domain.VariantStock, error) {
	itemID = strings.TrimSpace(itemID)
	variantKey = strings.TrimSpace(variantKey)
	if itemID == "" || variantKey == "" {
		return domain.VariantStock{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "item id and variant key are required", nil)
	}
	if delta == 0 {
		return domain.VariantStock{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "quantity must be positive", nil)
	}

	ref, err := r.base.Doc(ctx, stockDocID(itemID, variantKey))
	if err != nil {
		return domain.VariantStock{}, err
	}

	now := r.clock().UTC()
	var result domain.VariantStock
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return repositories.NewInventoryError(repositories.InventoryErrorStockNotFound,
				fmt.Sprintf("no stock record for %s/%s", itemID, variantKey), nil)
		}
		if err != nil {
			return err
		}
		var doc stockDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("inventory decode %s/%s: %w", itemID, variantKey, err)
		}

		next := doc.Available + delta
		if next < 0 {
			invErr := repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock,
				fmt.Sprintf("insufficient stock for %s/%s", itemID, variantKey), nil)
			invErr.Short = -next
			return invErr
		}

		doc.ItemID = itemID
		doc.VariantKey = variantKey
		doc.Available = next
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}
		result = domain.VariantStock{ItemID: itemID, VariantKey: variantKey, Available: next, UpdatedAt: now}
		return nil
	})
	if err != nil {
		var invErr *repositories.InventoryError
		if errors.As(err, &invErr) {
			return domain.VariantStock{}, invErr
		}
		return domain.VariantStock{}, pfirestore.WrapError("inventory.adjust", err)
	}
	return result, nil
}

// Get loads the ledger entry for one variant.
func (r *InventoryRepository) Get(ctx context.Context, itemID, variantKey string) (domain.VariantStock, error) {
	doc, err := r.base.Get(ctx, stockDocID(strings.TrimSpace(itemID), strings.TrimSpace(variantKey)))
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.VariantStock{}, repositories.NewInventoryError(repositories.InventoryErrorStockNotFound,
				fmt.Sprintf("no stock record for %s/%s", itemID, variantKey), err)
		}
		return domain.VariantStock{}, err
	}
	return domain.VariantStock{
		ItemID:     doc.Data.ItemID,
		VariantKey: doc.Data.VariantKey,
		Available:  doc.Data.Available,
		UpdatedAt:  doc.Data.UpdatedAt,
	}, nil
}

// Upsert writes the ledger entry, creating it when absent.
func (r *InventoryRepository) Upsert(ctx context.Context, stock domain.VariantStock) error {
	itemID := strings.TrimSpace(stock.ItemID)
	variantKey := strings.TrimSpace(stock.VariantKey)
	if itemID == "" || variantKey == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidQuantity, "item id and variant key are required", nil)
	}
	updatedAt := stock.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.clock()
	}
	return r.base.Set(ctx, stockDocID(itemID, variantKey), stockDocument{
		ItemID:     itemID,
		VariantKey: variantKey,
		Available:  stock.Available,
		UpdatedAt:  updatedAt.UTC(),
	})
}
