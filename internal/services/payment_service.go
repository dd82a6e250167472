package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/repositories"
)

var (
	// ErrPaymentInvalidInput marks malformed confirmation signals.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrWrongPaymentMethod indicates the channel does not match the order's method.
	ErrWrongPaymentMethod = errors.New("payment: wrong payment method")
	// ErrInvalidSignature indicates a confirmation failed cryptographic verification.
	ErrInvalidSignature = errors.New("payment: invalid signature")
	// ErrPaymentUnavailable marks provider or backend failures.
	ErrPaymentUnavailable = errors.New("payment: backend unavailable")
)

// PaymentConfirmation is the closed set of confirmation signals the
// reconciler accepts. The three channels are handled exhaustively; there is
// no string-switched fourth path.
type PaymentConfirmation interface {
	confirmationChannel() string
}

// ClientSignatureConfirmation is the synchronous callback after a
// provider-hosted checkout. The signature is verified against the order's own
// provider order id before it is trusted.
type ClientSignatureConfirmation struct {
	OrderID           string
	UserID            string
	ProviderPaymentID string
	Signature         string
}

func (ClientSignatureConfirmation) confirmationChannel() string { return "client" }

// WebhookConfirmation is a parsed, signature-verified provider push event.
// OrderRef is our order reference (internal id or number) extracted by the
// gateway from the event's metadata.
type WebhookConfirmation struct {
	Provider          PaymentMethod
	EventID           string
	OrderRef          string
	ProviderPaymentID string
	Succeeded         bool
	FailureReason     string
}

func (WebhookConfirmation) confirmationChannel() string { return "webhook" }

// CODConfirmation is the manual confirmation for cash-on-delivery orders.
// It advances the order without moving money: payment status stays pending.
type CODConfirmation struct {
	OrderID string
	Actor   TimelineActor
}

func (CODConfirmation) confirmationChannel() string { return "cod" }

// PaymentReconcilerDeps enumerates collaborators for the reconciler.
type PaymentReconcilerDeps struct {
	Orders   repositories.OrderRepository
	Gateways GatewayResolver
	Events   OrderEventPublisher
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type paymentReconciler struct {
	orders   repositories.OrderRepository
	gateways GatewayResolver
	events   OrderEventPublisher
	clock    func() time.Time
	logger   func(ctx context.Context, event string, fields map[string]any)
}

// NewPaymentReconciler wires the reconciler.
func NewPaymentReconciler(deps PaymentReconcilerDeps) (PaymentReconciler, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciler: order repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("payment reconciler: gateway resolver is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &paymentReconciler{
		orders:   deps.Orders,
		gateways: deps.Gateways,
		events:   deps.Events,
		clock:    func() time.Time { return clock().UTC() },
		logger:   deps.Logger,
	}, nil
}

// Initiate creates a provider checkout for the order and records the provider
// order reference. COD orders have no intent to create.
func (s *paymentReconciler) Initiate(ctx context.Context, cmd InitiatePaymentCommand) (PaymentIntent, error) {
	if strings.TrimSpace(cmd.OrderID) == "" {
		return PaymentIntent{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, cmd.OrderID)
	if err != nil {
		return PaymentIntent{}, mapOrderRepositoryError(err)
	}
	if !cmd.Admin && cmd.UserID != "" && order.UserID != cmd.UserID {
		return PaymentIntent{}, fmt.Errorf("%w: %s", ErrOrderNotFound, cmd.OrderID)
	}
	if !order.Payment.Method.Online() {
		return PaymentIntent{}, fmt.Errorf("%w: %s orders have no payment intent", ErrWrongPaymentMethod, order.Payment.Method)
	}

	gateway, ok := s.gateways.Gateway(order.Payment.Method)
	if !ok {
		return PaymentIntent{}, fmt.Errorf("%w: no gateway for %s", ErrPaymentUnavailable, order.Payment.Method)
	}
	intent, err := gateway.CreateIntent(ctx, order)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("%w: create intent: %v", ErrPaymentUnavailable, err)
	}
	intent.OrderID = order.ID
	intent.Provider = order.Payment.Method

	if _, err := s.orders.Mutate(ctx, order.ID, func(o *domain.Order) error {
		o.Payment.ProviderOrderID = intent.ProviderOrderID
		o.UpdatedAt = s.clock()
		return nil
	}); err != nil {
		return PaymentIntent{}, mapOrderRepositoryError(err)
	}
	return intent, nil
}

// Reconcile applies one confirmation signal. The variant set is closed; each
// arm converges on the idempotent mark-paid path.
func (s *paymentReconciler) Reconcile(ctx context.Context, confirmation PaymentConfirmation) (Order, error) {
	switch c := confirmation.(type) {
	case ClientSignatureConfirmation:
		return s.reconcileClient(ctx, c)
	case WebhookConfirmation:
		order, _, err := s.applyWebhook(ctx, c)
		return order, err
	case CODConfirmation:
		return s.reconcileCOD(ctx, c)
	case nil:
		return Order{}, fmt.Errorf("%w: confirmation is required", ErrPaymentInvalidInput)
	default:
		return Order{}, fmt.Errorf("%w: unsupported confirmation channel %q", ErrPaymentInvalidInput, confirmation.confirmationChannel())
	}
}

func (s *paymentReconciler) reconcileClient(ctx context.Context, c ClientSignatureConfirmation) (Order, error) {
	if strings.TrimSpace(c.OrderID) == "" || strings.TrimSpace(c.ProviderPaymentID) == "" {
		return Order{}, fmt.Errorf("%w: order id and payment id are required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, c.OrderID)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	if c.UserID != "" && order.UserID != c.UserID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, c.OrderID)
	}
	if !order.Payment.Method.Online() {
		return Order{}, fmt.Errorf("%w: client confirmation is for online gateways, order uses %s", ErrWrongPaymentMethod, order.Payment.Method)
	}

	gateway, ok := s.gateways.Gateway(order.Payment.Method)
	if !ok {
		return Order{}, fmt.Errorf("%w: no gateway for %s", ErrPaymentUnavailable, order.Payment.Method)
	}
	if err := gateway.VerifyClientSignature(order.Payment.ProviderOrderID, c.ProviderPaymentID, c.Signature); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	updated, _, err := s.markPaid(ctx, order.ID, c.ProviderPaymentID, domain.ActorCustomer)
	return updated, err
}

// HandleWebhook verifies and parses a raw provider push, then applies it.
// Redeliveries for an already-paid order acknowledge as duplicates.
func (s *paymentReconciler) HandleWebhook(ctx context.Context, req WebhookRequest) (WebhookAck, error) {
	gateway, ok := s.gateways.Gateway(req.Provider)
	if !ok {
		return WebhookAck{}, fmt.Errorf("%w: no gateway for %s", ErrPaymentUnavailable, req.Provider)
	}
	confirmation, err := gateway.ParseWebhook(req.Payload, req.Signature)
	if err != nil {
		return WebhookAck{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	confirmation.Provider = req.Provider

	order, duplicate, err := s.applyWebhook(ctx, confirmation)
	if err != nil {
		return WebhookAck{}, err
	}
	return WebhookAck{EventID: confirmation.EventID, OrderID: order.ID, Duplicate: duplicate}, nil
}

func (s *paymentReconciler) applyWebhook(ctx context.Context, c WebhookConfirmation) (Order, bool, error) {
	if strings.TrimSpace(c.OrderRef) == "" {
		return Order{}, false, fmt.Errorf("%w: webhook carries no order reference", ErrPaymentInvalidInput)
	}
	order, err := s.findByOrderRef(ctx, c.OrderRef)
	if err != nil {
		return Order{}, false, err
	}
	if order.Payment.Method != c.Provider {
		return Order{}, false, fmt.Errorf("%w: webhook from %s for a %s order", ErrWrongPaymentMethod, c.Provider, order.Payment.Method)
	}

	if !c.Succeeded {
		updated, err := s.markFailed(ctx, order.ID, c.FailureReason)
		return updated, false, err
	}
	return s.markPaid(ctx, order.ID, c.ProviderPaymentID, domain.ActorSystem)
}

func (s *paymentReconciler) reconcileCOD(ctx context.Context, c CODConfirmation) (Order, error) {
	if strings.TrimSpace(c.OrderID) == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	actor := c.Actor
	if actor == "" {
		actor = domain.ActorAdmin
	}

	now := s.clock()
	transitioned := false
	order, err := s.orders.Mutate(ctx, c.OrderID, func(o *domain.Order) error {
		if o.Payment.Method != domain.PaymentMethodCOD {
			return fmt.Errorf("%w: order uses %s", ErrWrongPaymentMethod, o.Payment.Method)
		}
		if o.Status == domain.OrderStatusConfirmed {
			// Repeat confirmation is a no-op.
			return nil
		}
		if !canTransition(o.Status, domain.OrderStatusConfirmed) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, o.Status, domain.OrderStatusConfirmed)
		}
		// Payment status stays pending: money is collected on delivery.
		o.Status = domain.OrderStatusConfirmed
		o.UpdatedAt = now
		o.AppendTransition(domain.OrderStatusConfirmed, now, "Order confirmed (cash on delivery)", actor)
		transitioned = true
		return nil
	})
	if err != nil {
		return Order{}, s.mapError(err)
	}
	if transitioned {
		s.publishEvent(ctx, domain.OrderEventConfirmed, order)
	}
	return order, nil
}

// markPaid is the idempotent convergence point for the online channels.
// An already-paid order returns unchanged: no timeline entry, no event.
func (s *paymentReconciler) markPaid(ctx context.Context, orderID, providerPaymentID string, actor TimelineActor) (Order, bool, error) {
	now := s.clock()
	duplicate := false
	transitioned := false
	order, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		if o.Payment.Status == domain.PaymentStatusPaid {
			duplicate = true
			return nil
		}
		o.Payment.Status = domain.PaymentStatusPaid
		o.Payment.ProviderPaymentID = providerPaymentID
		o.Payment.FailureReason = ""
		paidAt := now
		o.Payment.PaidAt = &paidAt
		o.UpdatedAt = now
		if canTransition(o.Status, domain.OrderStatusConfirmed) {
			o.Status = domain.OrderStatusConfirmed
			o.AppendTransition(domain.OrderStatusConfirmed, now, "Payment confirmed", actor)
			transitioned = true
		}
		return nil
	})
	if err != nil {
		return Order{}, false, s.mapError(err)
	}
	if duplicate {
		return order, true, nil
	}
	if transitioned {
		s.publishEvent(ctx, domain.OrderEventConfirmed, order)
	} else {
		s.publishEvent(ctx, domain.OrderEventPaymentConfirmed, order)
	}
	return order, false, nil
}

// markFailed records a provider-reported failure. The order stays pending
// and retryable; a failure arriving after success is ignored.
func (s *paymentReconciler) markFailed(ctx context.Context, orderID, reason string) (Order, error) {
	now := s.clock()
	recorded := false
	order, err := s.orders.Mutate(ctx, orderID, func(o *domain.Order) error {
		if o.Payment.Status == domain.PaymentStatusPaid {
			return nil
		}
		o.Payment.Status = domain.PaymentStatusFailed
		o.Payment.FailureReason = strings.TrimSpace(reason)
		o.UpdatedAt = now
		o.AppendTransition(o.Status, now, "Payment failed", domain.ActorSystem)
		recorded = true
		return nil
	})
	if err != nil {
		return Order{}, s.mapError(err)
	}
	if recorded {
		s.publishEvent(ctx, domain.OrderEventPaymentFailed, order)
	}
	return order, nil
}

func (s *paymentReconciler) findByOrderRef(ctx context.Context, ref string) (Order, error) {
	order, err := s.orders.FindByID(ctx, ref)
	if err == nil {
		return order, nil
	}
	if !isNotFound(err) {
		return Order{}, mapOrderRepositoryError(err)
	}
	order, err = s.orders.FindByNumber(ctx, ref)
	if err != nil {
		return Order{}, mapOrderRepositoryError(err)
	}
	return order, nil
}

func (s *paymentReconciler) mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrWrongPaymentMethod) || errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrPaymentInvalidInput) || errors.Is(err, ErrIllegalTransition) {
		return err
	}
	return mapOrderRepositoryError(err)
}

func (s *paymentReconciler) publishEvent(ctx context.Context, kind OrderEventKind, order Order) {
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
		s.log(ctx, "payment.event_publish_failed", map[string]any{
			"orderId": order.ID,
			"kind":    string(kind),
			"error":   err.Error(),
		})
	}
}

func (s *paymentReconciler) log(ctx context.Context, event string, fields map[string]any) {
	if s.logger == nil {
		return
	}
	s.logger(ctx, event, fields)
}
