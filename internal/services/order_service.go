package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput marks malformed order commands.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound marks missing orders and denied lookups alike.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderConflict marks persistence conflicts such as duplicate ids.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrOrderUnavailable marks backend failures.
	ErrOrderUnavailable = errors.New("order: backend unavailable")
	// ErrVariantUnavailable indicates a line references a variant the catalog no longer has.
	ErrVariantUnavailable = errors.New("order: variant unavailable")
	// ErrPriceMismatch indicates caller-supplied pricing disagrees with resolved prices.
	ErrPriceMismatch = errors.New("order: price mismatch")
	// ErrIllegalTransition indicates a status edge outside the transition table.
	ErrIllegalTransition = errors.New("order: illegal transition")
	// ErrCannotCancel indicates cancellation is not permitted from the current status.
	ErrCannotCancel = errors.New("order: cannot cancel")
)

// orderTransitions is the authoritative transition table. Statuses absent as
// keys are terminal.
var orderTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusReturned},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

func canTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderTransitions[from], to)
}

var knownStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
	domain.OrderStatusReturned,
}

const (
	orderNumberCounter = "orders"
	defaultCurrency    = "INR"

	// Caller-supplied subtotals may differ from resolved prices by at most
	// one minor unit before the order is rejected.
	priceTolerance = int64(1)

	defaultDeliveryOffset = 7 * 24 * time.Hour
)

// Default timeline messages per destination status.
var transitionMessages = map[domain.OrderStatus]string{
	domain.OrderStatusConfirmed:  "Order confirmed",
	domain.OrderStatusProcessing: "Order is being processed",
	domain.OrderStatusShipped:    "Order shipped",
	domain.OrderStatusDelivered:  "Order delivered",
	domain.OrderStatusCancelled:  "Order cancelled",
	domain.OrderStatusReturned:   "Order returned",
}

// OrderServiceDeps enumerates collaborators for the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Carts      repositories.CartRepository
	Counters   repositories.CounterRepository
	Inventory  InventoryService
	Catalog    CatalogResolver
	Discounts  DiscountService
	Shipping   ShipmentCreator
	Events     OrderEventPublisher
	UnitOfWork repositories.UnitOfWork

	Clock          func() time.Time
	IDGenerator    func() string
	TokenGenerator func() string

	// DeliveryOffset stamps the estimated delivery on shipping when unset.
	DeliveryOffset time.Duration
}

type orderService struct {
	orders    repositories.OrderRepository
	carts     repositories.CartRepository
	counters  repositories.CounterRepository
	inventory InventoryService
	catalog   CatalogResolver
	discounts DiscountService
	shipping  ShipmentCreator
	events    OrderEventPublisher
	uow       repositories.UnitOfWork

	clock          func() time.Time
	newID          func() string
	newToken       func() string
	deliveryOffset time.Duration
	logger         func(ctx context.Context, event string, fields map[string]any)
}

// OrderServiceOption customises optional behaviour.
type OrderServiceOption func(*orderService)

// WithOrderLogger injects the structured event logger.
func WithOrderLogger(logger func(ctx context.Context, event string, fields map[string]any)) OrderServiceOption {
	return func(s *orderService) { s.logger = logger }
}

// NewOrderService wires the order service.
func NewOrderService(deps OrderServiceDeps, opts ...OrderServiceOption) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Inventory == nil {
		return nil, errors.New("order service: inventory service is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog resolver is required")
	}
	if deps.IDGenerator == nil {
		return nil, errors.New("order service: id generator is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	token := deps.TokenGenerator
	if token == nil {
		token = deps.IDGenerator
	}
	offset := deps.DeliveryOffset
	if offset <= 0 {
		offset = defaultDeliveryOffset
	}
	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}

	svc := &orderService{
		orders:         deps.Orders,
		carts:          deps.Carts,
		counters:       deps.Counters,
		inventory:      deps.Inventory,
		catalog:        deps.Catalog,
		discounts:      deps.Discounts,
		shipping:       deps.Shipping,
		events:         deps.Events,
		uow:            uow,
		clock:          func() time.Time { return clock().UTC() },
		newID:          deps.IDGenerator,
		newToken:       token,
		deliveryOffset: offset,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc, nil
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return nil
	}
	return fn(ctx)
}

// CreateFromCart turns the cart snapshot (or an explicit item list) into a
// pending order: resolve variants, reserve stock with full rollback, validate
// caller pricing, persist order and clear the cart in one unit of work, then
// raise order.created exactly once.
func (s *orderService) CreateFromCart(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	if err := s.validateCreate(cmd); err != nil {
		return Order{}, err
	}
	now := s.clock()

	cartItems := cmd.Items
	if cmd.UseCart {
		cart, err := s.carts.Get(ctx, cmd.UserID)
		if err != nil {
			if isNotFound(err) {
				return Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
			}
			return Order{}, mapOrderRepositoryError(err)
		}
		cartItems = cart.Items
	}
	if len(cartItems) == 0 {
		return Order{}, fmt.Errorf("%w: cart is empty", ErrOrderInvalidInput)
	}

	items, subtotal, err := s.resolveItems(ctx, cartItems)
	if err != nil {
		return Order{}, err
	}
	if diff := subtotal - cmd.Subtotal; diff > priceTolerance || diff < -priceTolerance {
		return Order{}, fmt.Errorf("%w: submitted subtotal %d, resolved %d", ErrPriceMismatch, cmd.Subtotal, subtotal)
	}

	discountCode := ""
	if cmd.DiscountCode != "" {
		if s.discounts == nil {
			return Order{}, fmt.Errorf("%w: discount codes are not accepted", ErrOrderInvalidInput)
		}
		discount, err := s.discounts.Validate(ctx, cmd.DiscountCode, now)
		if err != nil {
			return Order{}, err
		}
		discountCode = discount.Code
	}

	lines := make([]StockLine, 0, len(items))
	for _, item := range items {
		lines = append(lines, StockLine{ItemID: item.ItemID, VariantKey: item.VariantKey, Quantity: item.Quantity})
	}
	if err := s.inventory.ReserveLines(ctx, lines); err != nil {
		return Order{}, err
	}

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		s.compensateReservation(ctx, lines)
		return Order{}, err
	}

	currency := cmd.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	order := Order{
		ID:       s.newID(),
		Number:   number,
		UserID:   cmd.UserID,
		Currency: currency,
		Items:    items,
		Pricing: domain.PricingBreakdown{
			Subtotal:     cmd.Subtotal,
			Shipping:     cmd.Shipping,
			Tax:          cmd.Tax,
			Discount:     cmd.Discount,
			DiscountCode: discountCode,
			Total:        cmd.Total,
		},
		ShippingAddress: cmd.ShippingAddress,
		Payment: domain.PaymentDescriptor{
			Method:          cmd.PaymentMethod,
			Status:          domain.PaymentStatusPending,
			ProviderOrderID: cmd.ProviderOrderID,
		},
		Status:        domain.OrderStatusPending,
		TrackingToken: s.newToken(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	order.AppendTransition(domain.OrderStatusPending, now, "Order placed", domain.ActorCustomer)

	err = s.uow.RunInTx(ctx, func(txCtx context.Context) error {
		return s.orders.Insert(txCtx, order)
	})
	if err != nil {
		s.compensateReservation(ctx, lines)
		return Order{}, mapOrderRepositoryError(err)
	}

	// The order and its reservation are committed at this point. A cart that
	// fails to clear is stale data, not a broken order, so it must not undo
	// the reservation.
	if cmd.UseCart && s.carts != nil {
		if err := s.carts.Clear(ctx, cmd.UserID); err != nil {
			s.log(ctx, "order.cart_clear_failed", map[string]any{
				"orderId": order.ID,
				"userId":  cmd.UserID,
				"error":   err.Error(),
			})
		}
	}

	s.publishEvent(ctx, domain.OrderEventCreated, order)
	s.requestShipment(ctx, &order)
	return order, nil
}

func (s *orderService) validateCreate(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodRazorpay, domain.PaymentMethodStripe, domain.PaymentMethodCOD:
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	addr := cmd.ShippingAddress
	if strings.TrimSpace(addr.RecipientName) == "" || strings.TrimSpace(addr.Line1) == "" || strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: shipping destination is incomplete", ErrOrderInvalidInput)
	}
	if cmd.Subtotal < 0 || cmd.Shipping < 0 || cmd.Tax < 0 || cmd.Discount < 0 {
		return fmt.Errorf("%w: amounts must not be negative", ErrOrderInvalidInput)
	}
	pricing := domain.PricingBreakdown{
		Subtotal: cmd.Subtotal,
		Shipping: cmd.Shipping,
		Tax:      cmd.Tax,
		Discount: cmd.Discount,
		Total:    cmd.Total,
	}
	if !pricing.Consistent() {
		return fmt.Errorf("%w: total %d does not equal subtotal+shipping+tax-discount", ErrPriceMismatch, cmd.Total)
	}
	if !cmd.UseCart && len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	return nil
}

func (s *orderService) resolveItems(ctx context.Context, cartItems []domain.CartItem) ([]OrderItem, int64, error) {
	items := make([]OrderItem, 0, len(cartItems))
	var subtotal int64
	for _, line := range cartItems {
		if line.Quantity <= 0 {
			return nil, 0, fmt.Errorf("%w: quantity must be positive for %s", ErrOrderInvalidInput, line.ItemID)
		}
		resolved, err := s.catalog.ResolveVariant(ctx, line.ItemID, line.VariantKey)
		if err != nil {
			if isNotFound(err) {
				return nil, 0, fmt.Errorf("%w: %s/%s", ErrVariantUnavailable, line.ItemID, line.VariantKey)
			}
			return nil, 0, fmt.Errorf("%w: catalog lookup: %v", ErrOrderUnavailable, err)
		}
		if !resolved.Exists {
			return nil, 0, fmt.Errorf("%w: %s/%s", ErrVariantUnavailable, line.ItemID, line.VariantKey)
		}
		items = append(items, OrderItem{
			ItemID:     line.ItemID,
			Name:       resolved.Name,
			VariantKey: line.VariantKey,
			UnitPrice:  resolved.UnitPrice,
			Quantity:   line.Quantity,
			ImageURL:   resolved.ImageURL,
		})
		subtotal += resolved.UnitPrice * line.Quantity
	}
	return items, subtotal, nil
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, orderNumberCounter, 1)
	if err != nil {
		return "", fmt.Errorf("%w: order number: %v", ErrOrderUnavailable, err)
	}
	return fmt.Sprintf("ORD-%s-%06d", now.Format("20060102"), seq), nil
}

func (s *orderService) compensateReservation(ctx context.Context, lines []StockLine) {
	if err := s.inventory.ReleaseLines(ctx, lines); err != nil {
		s.log(ctx, "order.reservation_rollback_failed", map[string]any{"error": err.Error()})
	}
}

// GetOrder returns the aggregate when the caller owns it or is an admin;
// anyone else gets not-found, never forbidden.
func (s *orderService) GetOrder(ctx context.Context, orderID string, opts OrderReadOptions) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if !opts.Admin && order.UserID != opts.UserID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, query OrderListQuery) (domain.CursorPage[Order], error) {
	if strings.TrimSpace(query.UserID) == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.List(ctx, repositories.OrderListFilter{
		UserID:     query.UserID,
		Status:     query.Status,
		Pagination: query.Pagination,
	})
	if err != nil {
		return domain.CursorPage[Order]{}, mapOrderRepositoryError(err)
	}
	return page, nil
}

// TransitionStatus drives one state-machine edge under the per-order lock.
// Stock release and event publication happen after the transition commits.
func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if !slices.Contains(knownStatuses, cmd.To) {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.To)
	}
	actor := cmd.Actor
	if actor == "" {
		actor = domain.ActorSystem
	}

	now := s.clock()
	var released []StockLine
	order, err := s.orders.Mutate(ctx, cmd.OrderID, func(o *domain.Order) error {
		if err := s.applyTransition(o, cmd.To, now, cmd.Note, actor); err != nil {
			return err
		}
		if cmd.To == domain.OrderStatusCancelled || cmd.To == domain.OrderStatusReturned {
			released = stockLines(*o)
		}
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.releaseAfterTerminal(ctx, order, released)
	s.publishStatusEvent(ctx, order)
	return order, nil
}

// Cancel handles customer- and admin-initiated cancellation. Customers may
// only cancel while the order is pending or confirmed.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	actor := cmd.Actor
	if actor == "" {
		actor = domain.ActorCustomer
	}

	now := s.clock()
	var released []StockLine
	order, err := s.orders.Mutate(ctx, cmd.OrderID, func(o *domain.Order) error {
		if actor == domain.ActorCustomer {
			if cmd.UserID != "" && o.UserID != cmd.UserID {
				return fmt.Errorf("%w: %s", ErrOrderNotFound, cmd.OrderID)
			}
			if o.Status != domain.OrderStatusPending && o.Status != domain.OrderStatusConfirmed {
				return fmt.Errorf("%w: order is %s", ErrCannotCancel, o.Status)
			}
		}
		if !canTransition(o.Status, domain.OrderStatusCancelled) {
			return fmt.Errorf("%w: order is %s", ErrCannotCancel, o.Status)
		}
		message := "Order cancelled"
		if reason := strings.TrimSpace(cmd.Reason); reason != "" {
			o.CancellationReason = reason
			message = "Order cancelled: " + reason
		}
		o.Status = domain.OrderStatusCancelled
		o.UpdatedAt = now
		o.AppendTransition(domain.OrderStatusCancelled, now, message, actor)
		released = stockLines(*o)
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}

	s.releaseAfterTerminal(ctx, order, released)
	s.publishStatusEvent(ctx, order)
	return order, nil
}

// Track serves the public tracking projection. Owners and admins read by id;
// anonymous callers must present the order's tracking token. Both a missing
// order and a failed authorisation surface as not-found.
func (s *orderService) Track(ctx context.Context, query TrackOrderQuery) (TrackingView, error) {
	if strings.TrimSpace(query.OrderID) == "" {
		return TrackingView{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, query.OrderID)
	if err != nil {
		if isNotFound(err) {
			// Tracking links carry the human order number.
			order, err = s.orders.FindByNumber(ctx, query.OrderID)
		}
		if err != nil {
			return TrackingView{}, mapOrderRepositoryError(err)
		}
	}

	authorised := query.Admin || (query.UserID != "" && query.UserID == order.UserID)
	if !authorised && query.Token != "" {
		authorised = subtle.ConstantTimeCompare([]byte(query.Token), []byte(order.TrackingToken)) == 1
	}
	if !authorised {
		return TrackingView{}, fmt.Errorf("%w: %s", ErrOrderNotFound, query.OrderID)
	}

	view := TrackingView{
		OrderNumber:       order.Number,
		Status:            order.Status,
		PaymentStatus:     order.Payment.Status,
		Timeline:          append([]domain.TimelineEntry(nil), order.Timeline...),
		EstimatedDelivery: order.EstimatedDelivery,
	}
	if order.Shipment != nil {
		shipment := *order.Shipment
		view.Shipment = &shipment
	}
	return view, nil
}

// AttachShipment records the external shipment reference on the aggregate.
func (s *orderService) AttachShipment(ctx context.Context, orderID string, shipment domain.ShipmentInfo) (Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	now := s.clock()
	order, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		info := shipment
		o.Shipment = &info
		o.UpdatedAt = now
		return nil
	})
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

// applyTransition enforces the transition table and applies per-edge side
// effects. It appends exactly one timeline entry; it is the only write path
// into the timeline besides order creation.
func (s *orderService) applyTransition(o *domain.Order, to domain.OrderStatus, now time.Time, note string, actor TimelineActor) error {
	if !canTransition(o.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, to)
	}
	message := transitionMessages[to]
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		message = trimmed
	}

	switch to {
	case domain.OrderStatusShipped:
		if o.EstimatedDelivery == nil {
			estimated := now.Add(s.deliveryOffset)
			o.EstimatedDelivery = &estimated
		}
	case domain.OrderStatusDelivered:
		actual := now
		o.ActualDelivery = &actual
	case domain.OrderStatusCancelled:
		if trimmed := strings.TrimSpace(note); trimmed != "" {
			o.CancellationReason = trimmed
		}
	}

	o.Status = to
	o.UpdatedAt = now
	o.AppendTransition(to, now, message, actor)
	return nil
}

func (s *orderService) releaseAfterTerminal(ctx context.Context, order Order, lines []StockLine) {
	if len(lines) == 0 {
		return
	}
	if err := s.inventory.ReleaseLines(ctx, lines); err != nil {
		s.log(ctx, "order.stock_release_failed", map[string]any{
			"orderId": order.ID,
			"status":  string(order.Status),
			"error":   err.Error(),
		})
	}
}

func (s *orderService) publishStatusEvent(ctx context.Context, order Order) {
	kind, ok := domain.EventForStatus(order.Status)
	if !ok {
		return
	}
	s.publishEvent(ctx, kind, order)
}

func (s *orderService) publishEvent(ctx context.Context, kind OrderEventKind, order Order) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Kind:        kind,
		OrderID:     order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Status:      order.Status,
		Amount:      order.Pricing.Total,
		Currency:    order.Currency,
		OccurredAt:  s.clock(),
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.log(ctx, "order.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
	}
}

// requestShipment asks the shipping collaborator for a label once, after the
// order committed. Failure is logged; the order stays valid without a
// shipment reference and is retried out of band.
func (s *orderService) requestShipment(ctx context.Context, order *Order) {
	if s.shipping == nil {
		return
	}
	info, err := s.shipping.CreateShipment(ctx, *order)
	if err != nil {
		s.log(ctx, "order.shipment_create_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	updated, err := s.AttachShipment(ctx, order.ID, info)
	if err != nil {
		s.log(ctx, "order.shipment_attach_failed", map[string]any{
			"orderId": order.ID,
			"error":   err.Error(),
		})
		return
	}
	*order = updated
}

func (s *orderService) log(ctx context.Context, event string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger(ctx, event, fields)
}

func stockLines(order domain.Order) []StockLine {
	lines := make([]StockLine, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, StockLine{ItemID: item.ItemID, VariantKey: item.VariantKey, Quantity: item.Quantity})
	}
	return lines
}

func isNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrCannotCancel) || errors.Is(err, ErrOrderInvalidInput) {
		return err
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		default:
			return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrOrderUnavailable, err)
}
