package firestore

import (
	"context"
	"errors"
	"time"

	"google.golang.org/api/iterator"

	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/repositories"
)

// Registry bundles the Firestore repositories behind the
// repositories.Registry contract. Cross-store atomicity is handled per
// repository: order mutations and ledger adjustments each run in their own
// transaction, and services compensate across them.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	inventory *InventoryRepository
	carts     *CartRepository
	discounts *DiscountRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the full Firestore repository set on one provider.
func NewRegistry(provider *pfirestore.Provider, clock func() time.Time) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(provider, clock)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(provider, clock)
	if err != nil {
		return nil, err
	}
	discounts, err := NewDiscountRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider, clock)
	if err != nil {
		return nil, err
	}
	health, err := repositories.NewDependencyHealthRepository([]repositories.DependencyCheck{
		{Name: "firestore", Timeout: 5 * time.Second, Check: pingFirestore(provider)},
	}, clock)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  provider,
		orders:    orders,
		inventory: inventory,
		carts:     carts,
		discounts: discounts,
		counters:  counters,
		health:    health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Orders() repositories.OrderRepository        { return r.orders }
func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }
func (r *Registry) Carts() repositories.CartRepository          { return r.carts }
func (r *Registry) Discounts() repositories.DiscountRepository  { return r.discounts }
func (r *Registry) Counters() repositories.CounterRepository    { return r.counters }
func (r *Registry) Health() repositories.HealthRepository       { return r.health }

// RunInTx executes fn directly. Each repository operation is individually
// transactional; services roll back reservations when a later step fails.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// pingFirestore issues a minimal read to verify connectivity.
func pingFirestore(provider *pfirestore.Provider) func(context.Context) error {
	return func(ctx context.Context) error {
		client, err := provider.Client(ctx)
		if err != nil {
			return err
		}
		iter := client.Collection(countersCollection).Limit(1).Documents(ctx)
		defer iter.Stop()
		if _, err := iter.Next(); err != nil && !errors.Is(err, iterator.Done) {
			return err
		}
		return nil
	}
}
