package memory

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

type orderRecord struct {
	mu    sync.Mutex
	order domain.Order
}

// OrderRepository stores order aggregates in memory. Mutate holds a per-order
// lock for the duration of the closure, giving the per-order serialisation the
// state machine relies on.
type OrderRepository struct {
	mu     sync.RWMutex
	orders map[string]*orderRecord
	byNum  map[string]string
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs an empty in-memory order store.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders: make(map[string]*orderRecord),
		byNum:  make(map[string]string),
	}
}

type orderError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *orderError) Error() string       { return e.msg }
func (e *orderError) IsNotFound() bool    { return e.notFound }
func (e *orderError) IsConflict() bool    { return e.conflict }
func (e *orderError) IsUnavailable() bool { return e.unavailable }

var _ repositories.RepositoryError = (*orderError)(nil)

// Insert stores a new aggregate; a duplicate id or number is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return &orderError{msg: fmt.Sprintf("order %s already exists", order.ID), conflict: true}
	}
	if _, exists := r.byNum[order.Number]; order.Number != "" && exists {
		return &orderError{msg: fmt.Sprintf("order number %s already exists", order.Number), conflict: true}
	}
	r.orders[order.ID] = &orderRecord{order: cloneOrder(order)}
	if order.Number != "" {
		r.byNum[order.Number] = order.ID
	}
	return nil
}

// FindByID returns a copy of the aggregate.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	rec, ok := r.orders[orderID]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, &orderError{msg: fmt.Sprintf("order %s not found", orderID), notFound: true}
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneOrder(rec.order), nil
}

// FindByNumber resolves the human-displayable order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	r.mu.RLock()
	id, ok := r.byNum[orderNumber]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, &orderError{msg: fmt.Sprintf("order number %s not found", orderNumber), notFound: true}
	}
	return r.FindByID(ctx, id)
}

// Mutate runs fn against the current aggregate under the per-order lock and
// commits the result. An error from fn discards the mutation.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	rec, ok := r.orders[orderID]
	r.mu.RUnlock()
	if !ok {
		return domain.Order{}, &orderError{msg: fmt.Sprintf("order %s not found", orderID), notFound: true}
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	working := cloneOrder(rec.order)
	if err := fn(&working); err != nil {
		return domain.Order{}, err
	}
	rec.order = cloneOrder(working)
	return working, nil
}

// List returns orders matching the filter, newest first, cursor paged.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	if err := ctx.Err(); err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	r.mu.RLock()
	matched := make([]domain.Order, 0, len(r.orders))
	for _, rec := range r.orders {
		rec.mu.Lock()
		order := cloneOrder(rec.order)
		rec.mu.Unlock()
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, order.Status) {
			continue
		}
		if filter.CreatedAfter != nil && order.CreatedAt.Before(*filter.CreatedAfter) {
			continue
		}
		if filter.CreatedBefore != nil && order.CreatedAt.After(*filter.CreatedBefore) {
			continue
		}
		matched = append(matched, order)
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	offset := 0
	if filter.Pagination.PageToken != "" {
		decoded, err := decodePageToken(filter.Pagination.PageToken)
		if err != nil {
			return domain.CursorPage[domain.Order]{}, &orderError{msg: "invalid page token"}
		}
		offset = decoded
	}
	size := filter.Pagination.PageSize
	if size <= 0 {
		size = 20
	}

	if offset >= len(matched) {
		return domain.CursorPage[domain.Order]{}, nil
	}
	end := offset + size
	next := ""
	if end < len(matched) {
		next = encodePageToken(end)
	} else {
		end = len(matched)
	}
	return domain.CursorPage[domain.Order]{Items: matched[offset:end], NextPageToken: next}, nil
}

func containsStatus(set []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

type pageCursor struct {
	Offset int `json:"offset"`
}

func encodePageToken(offset int) string {
	raw, _ := json.Marshal(pageCursor{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodePageToken(token string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return 0, err
	}
	var cursor pageCursor
	if err := json.Unmarshal(raw, &cursor); err != nil {
		return 0, err
	}
	if cursor.Offset < 0 {
		return 0, fmt.Errorf("negative offset")
	}
	return cursor.Offset, nil
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	out.Items = append([]domain.OrderItem(nil), order.Items...)
	out.Timeline = append([]domain.TimelineEntry(nil), order.Timeline...)
	if order.Shipment != nil {
		shipment := *order.Shipment
		out.Shipment = &shipment
	}
	out.EstimatedDelivery = cloneTime(order.EstimatedDelivery)
	out.ActualDelivery = cloneTime(order.ActualDelivery)
	out.Payment.PaidAt = cloneTime(order.Payment.PaidAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
