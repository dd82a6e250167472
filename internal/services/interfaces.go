package services

import (
	"context"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

// Domain aliases keep service signatures terse.
type (
	Order          = domain.Order
	OrderItem      = domain.OrderItem
	OrderStatus    = domain.OrderStatus
	Cart           = domain.Cart
	Discount       = domain.Discount
	VariantStock   = domain.VariantStock
	TrackingView   = domain.TrackingView
	TimelineActor  = domain.TimelineActor
	PaymentMethod  = domain.PaymentMethod
	OrderEventKind = domain.OrderEventKind
)

// StockLine names one variant and quantity inside a reservation attempt.
type StockLine struct {
	ItemID     string
	VariantKey string
	Quantity   int64
}

// InventoryService is the single authority for stock mutation. Every call
// site reserves and releases through it; there is no other stock-check path.
type InventoryService interface {
	ReserveLines(ctx context.Context, lines []StockLine) error
	ReleaseLines(ctx context.Context, lines []StockLine) error
	GetStock(ctx context.Context, itemID, variantKey string) (VariantStock, error)
	SetStock(ctx context.Context, stock VariantStock) error
}

// OrderService owns order creation, lifecycle transitions, and tracking.
type OrderService interface {
	CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error)
	ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	Track(ctx context.Context, query TrackOrderQuery) (TrackingView, error)
	AttachShipment(ctx context.Context, orderID string, shipment domain.ShipmentInfo) (Order, error)
}

// PaymentReconciler maps heterogeneous provider confirmation signals onto the
// order aggregate. All channels converge on one idempotent mark-paid path.
type PaymentReconciler interface {
	Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentIntent, error)
	Reconcile(ctx context.Context, confirmation PaymentConfirmation) (Order, error)
	HandleWebhook(ctx context.Context, req WebhookRequest) (WebhookAck, error)
}

// PaymentGateway is the three-part shape every online provider satisfies:
// intent creation, a verifiable client confirmation, and a signed webhook.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, order Order) (PaymentIntent, error)
	VerifyClientSignature(providerOrderID, providerPaymentID, signature string) error
	ParseWebhook(payload []byte, signature string) (WebhookConfirmation, error)
}

// GatewayResolver selects the gateway for a payment method.
type GatewayResolver interface {
	Gateway(method PaymentMethod) (PaymentGateway, bool)
}

// InitiatePaymentCommand starts a provider checkout for an order.
type InitiatePaymentCommand struct {
	OrderID string
	UserID  string
	Admin   bool
}

// PaymentIntent is the provider reference handed back to the client.
type PaymentIntent struct {
	OrderID         string
	Provider        PaymentMethod
	ProviderOrderID string
	ClientSecret    string
	Amount          int64
	Currency        string
}

// DiscountService validates discount codes as pricing inputs.
type DiscountService interface {
	Validate(ctx context.Context, code string, now time.Time) (Discount, error)
}

// CatalogResolver is the external catalog collaborator consulted during
// order creation.
type CatalogResolver interface {
	ResolveVariant(ctx context.Context, itemID, variantKey string) (ResolvedVariant, error)
}

// ResolvedVariant is the catalog's answer for one item variant.
type ResolvedVariant struct {
	ItemID     string
	VariantKey string
	Name       string
	UnitPrice  int64
	ImageURL   string
	Exists     bool
}

// ShipmentCreator is the external shipping collaborator. Failures are logged
// and never block the order flow.
type ShipmentCreator interface {
	CreateShipment(ctx context.Context, order Order) (domain.ShipmentInfo, error)
}

// OrderEventPublisher delivers lifecycle events to the notification
// dispatcher. At-least-once delivery downstream is acceptable; the core
// raises each event exactly once per committed transition.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent is the payload handed to the notification dispatcher.
type OrderEvent struct {
	Kind        OrderEventKind
	OrderID     string
	OrderNumber string
	UserID      string
	Status      OrderStatus
	Amount      int64
	Currency    string
	OccurredAt  time.Time
}

// CreateOrderCommand captures the inputs to order creation. Items may come
// from the stored cart (UseCart) or an explicit list for re-order flows.
type CreateOrderCommand struct {
	UserID          string
	UseCart         bool
	Items           []domain.CartItem
	ShippingAddress domain.ShippingAddress
	PaymentMethod   PaymentMethod
	ProviderOrderID string
	Currency        string

	// Caller-computed pricing, validated rather than derived.
	Subtotal     int64
	Shipping     int64
	Tax          int64
	Discount     int64
	DiscountCode string
	Total        int64
}

// OrderReadOptions scopes a single-order read to the caller's authority.
type OrderReadOptions struct {
	UserID string
	Admin  bool
}

// OrderListQuery pages a customer's orders.
type OrderListQuery struct {
	UserID     string
	Status     []OrderStatus
	Pagination domain.Pagination
}

// TransitionStatusCommand drives one state-machine edge.
type TransitionStatusCommand struct {
	OrderID string
	To      OrderStatus
	Actor   TimelineActor
	Note    string
}

// CancelOrderCommand cancels an order on behalf of the given actor.
type CancelOrderCommand struct {
	OrderID string
	Actor   TimelineActor
	UserID  string
	Reason  string
}

// TrackOrderQuery identifies the order plus the caller's authority: an
// authenticated owner or admin, or an anonymous caller with a tracking token.
type TrackOrderQuery struct {
	OrderID string
	UserID  string
	Admin   bool
	Token   string
}

// WebhookRequest carries a provider's raw push payload and its signature.
type WebhookRequest struct {
	Provider  PaymentMethod
	Payload   []byte
	Signature string
}

// WebhookAck acknowledges a processed webhook delivery.
type WebhookAck struct {
	EventID   string
	OrderID   string
	Duplicate bool
}

// Registry re-exports for service construction convenience.
type (
	OrderListFilter = repositories.OrderListFilter
)
