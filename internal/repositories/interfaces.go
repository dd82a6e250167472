package repositories

import (
	"context"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Inventory() InventoryRepository
	Carts() CartRepository
	Discounts() DiscountRepository
	Counters() CounterRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork allows grouping repository operations in a transactional boundary when supported.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// OrderRepository persists order aggregates. Mutate serialises concurrent
// writers per order: the closure observes the current aggregate and its
// result commits atomically, so two racing transitions cannot both apply from
// the same stale status.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error)
	Mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.CursorPage[domain.Order], error)
}

// OrderListFilter narrows and pages order listings.
type OrderListFilter struct {
	UserID        string
	Status        []domain.OrderStatus
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	Pagination    domain.Pagination
}

// InventoryRepository is the stock ledger. Reserve and Release are atomic per
// variant: concurrent reservations never both observe the same pre-decrement
// count, and availability never goes negative.
type InventoryRepository interface {
	Reserve(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error)
	Release(ctx context.Context, itemID, variantKey string, quantity int64) (domain.VariantStock, error)
	Get(ctx context.Context, itemID, variantKey string) (domain.VariantStock, error)
	Upsert(ctx context.Context, stock domain.VariantStock) error
}

// CartRepository owns the customer's pending selection. Clear runs in the
// same unit of work that persists the order created from the snapshot.
type CartRepository interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Replace(ctx context.Context, cart domain.Cart) (domain.Cart, error)
	Clear(ctx context.Context, userID string) error
}

// DiscountRepository reads discount records; codes are stored uppercase.
type DiscountRepository interface {
	FindByCode(ctx context.Context, code string) (domain.Discount, error)
}

// CounterRepository produces monotonic sequence values for order numbering.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
