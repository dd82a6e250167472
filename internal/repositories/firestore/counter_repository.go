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

	pfirestore "github.com/oakline-commerce/api/internal/platform/firestore"
	"github.com/oakline-commerce/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	CurrentValue int64     `firestore:"currentValue"`
	UpdatedAt    time.Time `firestore:"updatedAt"`
}

// CounterRepository issues monotonic sequence values through Firestore
// transactions. Used for daily order numbering.
type CounterRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[counterDocument]
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider, clock func() time.Time) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	if clock == nil {
		clock = time.Now
	}
	return &CounterRepository{
		provider: provider,
		base:     pfirestore.NewCollection[counterDocument](provider, countersCollection),
		clock:    clock,
	}, nil
}

// Next atomically increments the counter and returns the new value. A missing
// counter starts at step.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, errors.New("counter repository: counter id is required")
	}
	if step <= 0 {
		step = 1
	}

	ref, err := r.base.Doc(ctx, id)
	if err != nil {
		return 0, err
	}

	now := r.clock().UTC()
	var next int64
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			next = step
			return tx.Create(ref, counterDocument{CurrentValue: next, UpdatedAt: now})
		}
		if err != nil {
			return err
		}
		var doc counterDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("counters decode %s: %w", id, err)
		}
		next = doc.CurrentValue + step
		return tx.Set(ref, counterDocument{CurrentValue: next, UpdatedAt: now})
	})
	if err != nil {
		return 0, pfirestore.WrapError("counters.next", err)
	}
	return next, nil
}
