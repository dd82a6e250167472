package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/platform/auth"
	"github.com/oakline-commerce/api/internal/services"
)

var errStubUnset = errors.New("stub not configured")

type stubOrderService struct {
	createFn     func(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error)
	getFn        func(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error)
	listFn       func(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error)
	transitionFn func(ctx context.Context, cmd services.TransitionStatusCommand) (services.Order, error)
	cancelFn     func(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error)
	trackFn      func(ctx context.Context, query services.TrackOrderQuery) (services.TrackingView, error)
	attachFn     func(ctx context.Context, orderID string, info domain.ShipmentInfo) (services.Order, error)
}

func (s *stubOrderService) CreateFromCart(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, errStubUnset
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, errStubUnset
	}
	return s.getFn(ctx, orderID, opts)
}

func (s *stubOrderService) ListOrders(ctx context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
	if s.listFn == nil {
		return domain.CursorPage[services.Order]{}, errStubUnset
	}
	return s.listFn(ctx, query)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, errStubUnset
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, errStubUnset
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) Track(ctx context.Context, query services.TrackOrderQuery) (services.TrackingView, error) {
	if s.trackFn == nil {
		return services.TrackingView{}, errStubUnset
	}
	return s.trackFn(ctx, query)
}

func (s *stubOrderService) AttachShipment(ctx context.Context, orderID string, info domain.ShipmentInfo) (services.Order, error) {
	if s.attachFn == nil {
		return services.Order{}, errStubUnset
	}
	return s.attachFn(ctx, orderID, info)
}

type stubReconciler struct {
	initiateFn  func(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentIntent, error)
	reconcileFn func(ctx context.Context, confirmation services.PaymentConfirmation) (services.Order, error)
	webhookFn   func(ctx context.Context, req services.WebhookRequest) (services.WebhookAck, error)
}

func (s *stubReconciler) Initiate(ctx context.Context, cmd services.InitiatePaymentCommand) (services.PaymentIntent, error) {
	if s.initiateFn == nil {
		return services.PaymentIntent{}, errStubUnset
	}
	return s.initiateFn(ctx, cmd)
}

func (s *stubReconciler) Reconcile(ctx context.Context, confirmation services.PaymentConfirmation) (services.Order, error) {
	if s.reconcileFn == nil {
		return services.Order{}, errStubUnset
	}
	return s.reconcileFn(ctx, confirmation)
}

func (s *stubReconciler) HandleWebhook(ctx context.Context, req services.WebhookRequest) (services.WebhookAck, error) {
	if s.webhookFn == nil {
		return services.WebhookAck{}, errStubUnset
	}
	return s.webhookFn(ctx, req)
}

type stubInventoryService struct {
	getFn func(ctx context.Context, itemID, variantKey string) (services.VariantStock, error)
	setFn func(ctx context.Context, stock services.VariantStock) error
}

func (s *stubInventoryService) ReserveLines(context.Context, []services.StockLine) error {
	return errStubUnset
}

func (s *stubInventoryService) ReleaseLines(context.Context, []services.StockLine) error {
	return errStubUnset
}

func (s *stubInventoryService) GetStock(ctx context.Context, itemID, variantKey string) (services.VariantStock, error) {
	if s.getFn == nil {
		return services.VariantStock{}, errStubUnset
	}
	return s.getFn(ctx, itemID, variantKey)
}

func (s *stubInventoryService) SetStock(ctx context.Context, stock services.VariantStock) error {
	if s.setFn == nil {
		return errStubUnset
	}
	return s.setFn(ctx, stock)
}

func authedRequest(req *http.Request, uid string, roles ...string) *http.Request {
	identity := &auth.Identity{UID: uid, Roles: roles}
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}

func doRequest(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h(rr, req)
	return rr
}
