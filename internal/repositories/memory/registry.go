package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

// Registry bundles the in-memory repositories behind the repositories.Registry
// contract. Used by tests and local development; atomicity across stores is
// provided by the repositories' own locks plus service-level compensation.
type Registry struct {
	orders    *OrderRepository
	inventory *InventoryRepository
	carts     *CartRepository
	discounts *DiscountRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the full in-memory repository set.
func NewRegistry(clock func() time.Time) *Registry {
	if clock == nil {
		clock = time.Now
	}
	health, _ := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "memory", Check: func(context.Context) error { return nil }},
	}, clock)
	return &Registry{
		orders:    NewOrderRepository(),
		inventory: NewInventoryRepository(clock),
		carts:     NewCartRepository(clock),
		discounts: NewDiscountRepository(),
		counters:  NewCounterRepository(),
		health:    health,
	}
}

func (r *Registry) Close(context.Context) error { return nil }

func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) Inventory() repositories.InventoryRepository  { return r.inventory }
func (r *Registry) Carts() repositories.CartRepository           { return r.carts }
func (r *Registry) Discounts() repositories.DiscountRepository   { return r.discounts }
func (r *Registry) Counters() repositories.CounterRepository     { return r.counters }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx executes fn directly; the in-memory stores are individually atomic.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// CartRepository stores carts keyed by user.
type CartRepository struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
	clock func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs an empty cart store.
func NewCartRepository(clock func() time.Time) *CartRepository {
	if clock == nil {
		clock = time.Now
	}
	return &CartRepository{carts: make(map[string]domain.Cart), clock: clock}
}

func (r *CartRepository) Get(ctx context.Context, userID string) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return domain.Cart{}, &orderError{msg: fmt.Sprintf("cart for user %s not found", userID), notFound: true}
	}
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return cart, nil
}

func (r *CartRepository) Replace(ctx context.Context, cart domain.Cart) (domain.Cart, error) {
	if err := ctx.Err(); err != nil {
		return domain.Cart{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	cart.UpdatedAt = r.clock().UTC()
	r.carts[cart.UserID] = cart
	return cart, nil
}

func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.carts, userID)
	return nil
}

// DiscountRepository stores discount codes uppercase.
type DiscountRepository struct {
	mu        sync.Mutex
	discounts map[string]domain.Discount
}

var _ repositories.DiscountRepository = (*DiscountRepository)(nil)

// NewDiscountRepository constructs an empty discount store.
func NewDiscountRepository() *DiscountRepository {
	return &DiscountRepository{discounts: make(map[string]domain.Discount)}
}

// Put stores a discount record keyed by its uppercased code.
func (r *DiscountRepository) Put(discount domain.Discount) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.discounts[strings.ToUpper(discount.Code)] = discount
}

func (r *DiscountRepository) FindByCode(ctx context.Context, code string) (domain.Discount, error) {
	if err := ctx.Err(); err != nil {
		return domain.Discount{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	discount, ok := r.discounts[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return domain.Discount{}, &orderError{msg: fmt.Sprintf("discount %s not found", code), notFound: true}
	}
	return discount, nil
}

// CounterRepository issues monotonic sequence values.
type CounterRepository struct {
	mu       sync.Mutex
	counters map[string]int64
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs an empty counter store.
func NewCounterRepository() *CounterRepository {
	return &CounterRepository{counters: make(map[string]int64)}
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if step <= 0 {
		step = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters[counterID] += step
	return r.counters[counterID], nil
}
