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
	"github.com/oakline-commerce/api/internal/platform/pagination"
	"github.com/oakline-commerce/api/internal/repositories"
)

const ordersCollection = "orders"

// OrderRepository persists order aggregates. Mutate runs its closure inside a
// Firestore transaction, so two racing transitions on the same order cannot
// both apply from the same stale snapshot.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.Collection[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewCollection[orderDocument](provider, ordersCollection),
	}, nil
}

// Insert stores a new aggregate. A duplicate document ID is a conflict.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	ref, err := r.base.Doc(ctx, order.ID)
	if err != nil {
		return err
	}
	if _, err := ref.Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// FindByID loads the aggregate by its document ID.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	doc, err := r.base.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	return decodeOrder(doc.ID, doc.Data), nil
}

// FindByNumber resolves the human-displayable order number.
func (r *OrderRepository) FindByNumber(ctx context.Context, orderNumber string) (domain.Order, error) {
	number := strings.TrimSpace(orderNumber)
	if number == "" {
		return domain.Order{}, errors.New("order repository: order number is required")
	}
	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("number", "==", number).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.WrapError("orders.findByNumber",
			status.Error(codes.NotFound, fmt.Sprintf("order number %s not found", number)))
	}
	return decodeOrder(docs[0].ID, docs[0].Data), nil
}

// Mutate reads the aggregate, applies fn, and writes the result, all inside
// one transaction. An error from fn aborts without writing.
func (r *OrderRepository) Mutate(ctx context.Context, orderID string, fn func(*domain.Order) error) (domain.Order, error) {
	if fn == nil {
		return domain.Order{}, errors.New("order repository: mutation function is required")
	}
	ref, err := r.base.Doc(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}

	var mutated domain.Order
	err = r.provider.RunTransaction(ctx, func(_ context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc orderDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("orders decode %s: %w", orderID, err)
		}
		order := decodeOrder(snap.Ref.ID, doc)
		if err := fn(&order); err != nil {
			return err
		}
		mutated = order
		return tx.Set(ref, encodeOrder(order))
	})
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.mutate", err)
	}
	return mutated, nil
}

// List returns orders matching the filter, newest first. The continuation
// token encodes the Firestore cursor of the last returned document.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	pageSize := filter.Pagination.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	cursor, err := pagination.DecodeToken(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		if filter.CreatedAfter != nil {
			q = q.Where("createdAt", ">", filter.CreatedAfter.UTC())
		}
		if filter.CreatedBefore != nil {
			q = q.Where("createdAt", "<", filter.CreatedBefore.UTC())
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == pageSize {
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		token, err := pagination.EncodeToken(pagination.Cursor{
			StartAfter: []any{last.Data.CreatedAt, last.ID},
		})
		if err != nil {
			return domain.CursorPage[domain.Order]{}, err
		}
		page.NextPageToken = token
	}
	return page, nil
}

type orderDocument struct {
	Number             string                  `firestore:"number"`
	UserID             string                  `firestore:"userId"`
	Currency           string                  `firestore:"currency"`
	Items              []orderItemDocument     `firestore:"items"`
	Pricing            pricingDocument         `firestore:"pricing"`
	ShippingAddress    addressDocument         `firestore:"shippingAddress"`
	Payment            paymentDocument         `firestore:"payment"`
	Status             string                  `firestore:"status"`
	Timeline           []timelineEntryDocument `firestore:"timeline"`
	CancellationReason string                  `firestore:"cancellationReason,omitempty"`
	TrackingToken      string                  `firestore:"trackingToken,omitempty"`
	Shipment           *shipmentDocument       `firestore:"shipment,omitempty"`
	EstimatedDelivery  *time.Time              `firestore:"estimatedDelivery,omitempty"`
	ActualDelivery     *time.Time              `firestore:"actualDelivery,omitempty"`
	CreatedAt          time.Time               `firestore:"createdAt"`
	UpdatedAt          time.Time               `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ItemID     string `firestore:"itemId"`
	Name       string `firestore:"name,omitempty"`
	VariantKey string `firestore:"variantKey"`
	UnitPrice  int64  `firestore:"unitPrice"`
	Quantity   int64  `firestore:"quantity"`
	ImageURL   string `firestore:"imageUrl,omitempty"`
}

type pricingDocument struct {
	Subtotal     int64  `firestore:"subtotal"`
	Shipping     int64  `firestore:"shipping"`
	Tax          int64  `firestore:"tax"`
	Discount     int64  `firestore:"discount"`
	DiscountCode string `firestore:"discountCode,omitempty"`
	Total        int64  `firestore:"total"`
}

type addressDocument struct {
	RecipientName string `firestore:"recipientName"`
	Line1         string `firestore:"line1"`
	Line2         string `firestore:"line2,omitempty"`
	City          string `firestore:"city"`
	State         string `firestore:"state"`
	PostalCode    string `firestore:"postalCode"`
	Country       string `firestore:"country"`
	Phone         string `firestore:"phone,omitempty"`
	Email         string `firestore:"email,omitempty"`
}

type paymentDocument struct {
	Method            string     `firestore:"method"`
	Status            string     `firestore:"status"`
	ProviderOrderID   string     `firestore:"providerOrderId,omitempty"`
	ProviderPaymentID string     `firestore:"providerPaymentId,omitempty"`
	PaidAt            *time.Time `firestore:"paidAt,omitempty"`
	FailureReason     string     `firestore:"failureReason,omitempty"`
}

type timelineEntryDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	Message   string    `firestore:"message,omitempty"`
	Actor     string    `firestore:"actor,omitempty"`
}

type shipmentDocument struct {
	ExternalID        string `firestore:"externalId,omitempty"`
	Carrier           string `firestore:"carrier,omitempty"`
	TrackingReference string `firestore:"trackingReference,omitempty"`
	TrackingURL       string `firestore:"trackingUrl,omitempty"`
	CarrierStatus     string `firestore:"carrierStatus,omitempty"`
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		Number:   order.Number,
		UserID:   order.UserID,
		Currency: order.Currency,
		Pricing: pricingDocument{
			Subtotal:     order.Pricing.Subtotal,
			Shipping:     order.Pricing.Shipping,
			Tax:          order.Pricing.Tax,
			Discount:     order.Pricing.Discount,
			DiscountCode: order.Pricing.DiscountCode,
			Total:        order.Pricing.Total,
		},
		ShippingAddress: addressDocument{
			RecipientName: order.ShippingAddress.RecipientName,
			Line1:         order.ShippingAddress.Line1,
			Line2:         order.ShippingAddress.Line2,
			City:          order.ShippingAddress.City,
			State:         order.ShippingAddress.State,
			PostalCode:    order.ShippingAddress.PostalCode,
			Country:       order.ShippingAddress.Country,
			Phone:         order.ShippingAddress.Phone,
			Email:         order.ShippingAddress.Email,
		},
		Payment: paymentDocument{
			Method:            string(order.Payment.Method),
			Status:            string(order.Payment.Status),
			ProviderOrderID:   order.Payment.ProviderOrderID,
			ProviderPaymentID: order.Payment.ProviderPaymentID,
			PaidAt:            utcTimePtr(order.Payment.PaidAt),
			FailureReason:     order.Payment.FailureReason,
		},
		Status:             string(order.Status),
		CancellationReason: order.CancellationReason,
		TrackingToken:      order.TrackingToken,
		EstimatedDelivery:  utcTimePtr(order.EstimatedDelivery),
		ActualDelivery:     utcTimePtr(order.ActualDelivery),
		CreatedAt:          order.CreatedAt.UTC(),
		UpdatedAt:          order.UpdatedAt.UTC(),
	}
	for _, item := range order.Items {
		doc.Items = append(doc.Items, orderItemDocument{
			ItemID:     item.ItemID,
			Name:       item.Name,
			VariantKey: item.VariantKey,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   item.ImageURL,
		})
	}
	for _, entry := range order.Timeline {
		doc.Timeline = append(doc.Timeline, timelineEntryDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			Message:   entry.Message,
			Actor:     string(entry.Actor),
		})
	}
	if order.Shipment != nil {
		doc.Shipment = &shipmentDocument{
			ExternalID:        order.Shipment.ExternalID,
			Carrier:           order.Shipment.Carrier,
			TrackingReference: order.Shipment.TrackingReference,
			TrackingURL:       order.Shipment.TrackingURL,
			CarrierStatus:     order.Shipment.CarrierStatus,
		}
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:       id,
		Number:   doc.Number,
		UserID:   doc.UserID,
		Currency: doc.Currency,
		Pricing: domain.PricingBreakdown{
			Subtotal:     doc.Pricing.Subtotal,
			Shipping:     doc.Pricing.Shipping,
			Tax:          doc.Pricing.Tax,
			Discount:     doc.Pricing.Discount,
			DiscountCode: doc.Pricing.DiscountCode,
			Total:        doc.Pricing.Total,
		},
		ShippingAddress: domain.ShippingAddress{
			RecipientName: doc.ShippingAddress.RecipientName,
			Line1:         doc.ShippingAddress.Line1,
			Line2:         doc.ShippingAddress.Line2,
			City:          doc.ShippingAddress.City,
			State:         doc.ShippingAddress.State,
			PostalCode:    doc.ShippingAddress.PostalCode,
			Country:       doc.ShippingAddress.Country,
			Phone:         doc.ShippingAddress.Phone,
			Email:         doc.ShippingAddress.Email,
		},
		Payment: domain.PaymentDescriptor{
			Method:            domain.PaymentMethod(doc.Payment.Method),
			Status:            domain.PaymentStatus(doc.Payment.Status),
			ProviderOrderID:   doc.Payment.ProviderOrderID,
			ProviderPaymentID: doc.Payment.ProviderPaymentID,
			PaidAt:            doc.Payment.PaidAt,
			FailureReason:     doc.Payment.FailureReason,
		},
		Status:             domain.OrderStatus(doc.Status),
		CancellationReason: doc.CancellationReason,
		TrackingToken:      doc.TrackingToken,
		EstimatedDelivery:  doc.EstimatedDelivery,
		ActualDelivery:     doc.ActualDelivery,
		CreatedAt:          doc.CreatedAt,
		UpdatedAt:          doc.UpdatedAt,
	}
	for _, item := range doc.Items {
		order.Items = append(order.Items, domain.OrderItem{
			ItemID:     item.ItemID,
			Name:       item.Name,
			VariantKey: item.VariantKey,
			UnitPrice:  item.UnitPrice,
			Quantity:   item.Quantity,
			ImageURL:   item.ImageURL,
		})
	}
	for _, entry := range doc.Timeline {
		order.Timeline = append(order.Timeline, domain.TimelineEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp,
			Message:   entry.Message,
			Actor:     domain.TimelineActor(entry.Actor),
		})
	}
	if doc.Shipment != nil {
		order.Shipment = &domain.ShipmentInfo{
			ExternalID:        doc.Shipment.ExternalID,
			Carrier:           doc.Shipment.Carrier,
			TrackingReference: doc.Shipment.TrackingReference,
			TrackingURL:       doc.Shipment.TrackingURL,
			CarrierStatus:     doc.Shipment.CarrierStatus,
		}
	}
	return order
}

func utcTimePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	utc := t.UTC()
	return &utc
}
