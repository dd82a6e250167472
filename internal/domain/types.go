package domain

import (
	"time"
)

// OrderStatus enumerates the lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusReturned   OrderStatus = "returned"
)

// Terminal reports whether no further transitions are allowed from the status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusReturned
}

// PaymentMethod identifies how the customer pays for an order.
type PaymentMethod string

const (
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	PaymentMethodStripe   PaymentMethod = "stripe"
	PaymentMethodCOD      PaymentMethod = "cod"
)

// Online reports whether the method moves money through a gateway at order time.
func (m PaymentMethod) Online() bool {
	return m == PaymentMethodRazorpay || m == PaymentMethodStripe
}

// PaymentStatus tracks money movement independently from the order status.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

// TimelineActor identifies who drove a status transition.
type TimelineActor string

const (
	ActorCustomer TimelineActor = "customer"
	ActorAdmin    TimelineActor = "admin"
	ActorSystem   TimelineActor = "system"
)

// TimelineEntry is a single append-only audit record of a status transition.
type TimelineEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	Message   string
	Actor     TimelineActor
}

// OrderItem is an immutable copy of a purchased line taken at creation time.
// It is never re-derived from the catalog, so historical orders stay stable.
type OrderItem struct {
	ItemID     string
	Name       string
	VariantKey string
	UnitPrice  int64
	Quantity   int64
	ImageURL   string
}

// LineTotal returns unit price times quantity in minor units.
func (i OrderItem) LineTotal() int64 {
	return i.UnitPrice * i.Quantity
}

// PricingBreakdown carries the monetary breakdown in integer minor units.
type PricingBreakdown struct {
	Subtotal     int64
	Shipping     int64
	Tax          int64
	Discount     int64
	DiscountCode string
	Total        int64
}

// Consistent reports whether total equals subtotal + shipping + tax - discount.
func (p PricingBreakdown) Consistent() bool {
	return p.Total == p.Subtotal+p.Shipping+p.Tax-p.Discount
}

// ShippingAddress is the destination captured on the order.
type ShippingAddress struct {
	RecipientName string
	Line1         string
	Line2         string
	City          string
	State         string
	PostalCode    string
	Country       string
	Phone         string
	Email         string
}

// PaymentDescriptor records the chosen method, provider references, and the
// payment status, which may lag or lead the order status (COD confirms the
// order while payment stays pending).
type PaymentDescriptor struct {
	Method            PaymentMethod
	Status            PaymentStatus
	ProviderOrderID   string
	ProviderPaymentID string
	PaidAt            *time.Time
	FailureReason     string
}

// ShipmentInfo is the external tracking reference supplied by the shipping
// collaborator. Absent until a shipment is created.
type ShipmentInfo struct {
	ExternalID        string
	Carrier           string
	TrackingReference string
	TrackingURL       string
	CarrierStatus     string
}

// Order is the durable aggregate created from a cart snapshot.
type Order struct {
	ID                 string
	Number             string
	UserID             string
	Currency           string
	Items              []OrderItem
	Pricing            PricingBreakdown
	ShippingAddress    ShippingAddress
	Payment            PaymentDescriptor
	Status             OrderStatus
	Timeline           []TimelineEntry
	CancellationReason string
	TrackingToken      string
	Shipment           *ShipmentInfo
	EstimatedDelivery  *time.Time
	ActualDelivery     *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// AppendTransition is the single entry point for growing the timeline. The
// log is append-only; callers never mutate existing entries.
func (o *Order) AppendTransition(status OrderStatus, at time.Time, message string, actor TimelineActor) {
	o.Timeline = append(o.Timeline, TimelineEntry{
		Status:    status,
		Timestamp: at,
		Message:   message,
		Actor:     actor,
	})
}

// CartItem is one pending selection in a customer's cart.
type CartItem struct {
	ItemID     string
	VariantKey string
	Quantity   int64
	UnitPrice  int64
}

// Cart is the user's pending selection, read destructively at order creation.
type Cart struct {
	UserID    string
	Items     []CartItem
	UpdatedAt time.Time
}

// VariantStock is the inventory ledger entry for one sellable variant.
// Available never goes negative; mutations happen only through the ledger's
// reserve/release operations.
type VariantStock struct {
	ItemID     string
	VariantKey string
	Available  int64
	UpdatedAt  time.Time
}

// DiscountType enumerates supported discount shapes.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFlat       DiscountType = "flat"
)

// Discount is a read-only pricing input. The core validates that an applied
// code is active and unexpired; it does not compute discounts itself.
type Discount struct {
	Code      string
	Type      DiscountType
	Value     int64
	Active    bool
	ExpiresAt *time.Time
}

// Usable reports whether the discount may be applied at the given instant.
func (d Discount) Usable(now time.Time) bool {
	if !d.Active {
		return false
	}
	if d.ExpiresAt != nil && d.ExpiresAt.Before(now) {
		return false
	}
	return true
}

// TrackingView is the read-only projection exposed by public tracking.
type TrackingView struct {
	OrderNumber       string
	Status            OrderStatus
	PaymentStatus     PaymentStatus
	Timeline          []TimelineEntry
	Shipment          *ShipmentInfo
	EstimatedDelivery *time.Time
}

// CursorPage is a generic page of results with an opaque continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderEventKind enumerates the lifecycle events raised for the notification
// dispatcher. Exactly one event is raised per committed transition.
type OrderEventKind string

const (
	OrderEventCreated          OrderEventKind = "order.created"
	OrderEventConfirmed        OrderEventKind = "order.confirmed"
	OrderEventProcessing       OrderEventKind = "order.processing"
	OrderEventShipped          OrderEventKind = "order.shipped"
	OrderEventDelivered        OrderEventKind = "order.delivered"
	OrderEventCancelled        OrderEventKind = "order.cancelled"
	OrderEventReturned         OrderEventKind = "order.returned"
	OrderEventPaymentFailed    OrderEventKind = "order.payment_failed"
	OrderEventPaymentConfirmed OrderEventKind = "order.payment_confirmed"
)

// EventForStatus maps a destination status to its lifecycle event kind.
func EventForStatus(status OrderStatus) (OrderEventKind, bool) {
	switch status {
	case OrderStatusConfirmed:
		return OrderEventConfirmed, true
	case OrderStatusProcessing:
		return OrderEventProcessing, true
	case OrderStatusShipped:
		return OrderEventShipped, true
	case OrderStatusDelivered:
		return OrderEventDelivered, true
	case OrderStatusCancelled:
		return OrderEventCancelled, true
	case OrderStatusReturned:
		return OrderEventReturned, true
	default:
		return "", false
	}
}
