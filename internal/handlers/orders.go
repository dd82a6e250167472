package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/payments"
	"github.com/oakline-commerce/api/internal/platform/auth"
	"github.com/oakline-commerce/api/internal/platform/pagination"
	"github.com/oakline-commerce/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 64 * 1024
	maxCancelBodySize    = 4 * 1024
	maxCancelReasonLen   = 500
)

// OrderHandlers exposes order creation and read endpoints for authenticated
// customers.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	sanitizer *bluemonday.Policy
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService) *OrderHandlers {
	return &OrderHandlers{
		authn:     authn,
		orders:    orders,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
}

type createOrderItemRequest struct {
	ItemID     string `json:"item_id"`
	VariantKey string `json:"variant_key"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
}

type addressRequest struct {
	RecipientName string `json:"recipient_name"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
}

type createOrderRequest struct {
	UseCart         bool                     `json:"use_cart"`
	Items           []createOrderItemRequest `json:"items,omitempty"`
	ShippingAddress addressRequest           `json:"shipping_address"`
	PaymentMethod   string                   `json:"payment_method"`
	Currency        string                   `json:"currency,omitempty"`
	Pricing         struct {
		Subtotal     int64  `json:"subtotal"`
		Shipping     int64  `json:"shipping"`
		Tax          int64  `json:"tax"`
		Discount     int64  `json:"discount"`
		DiscountCode string `json:"discount_code,omitempty"`
		Total        int64  `json:"total"`
	} `json:"pricing"`
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxOrderBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createOrderRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeInvalidRequest(ctx, w, "invalid JSON body")
		return
	}

	method, err := payments.ParseMethod(req.PaymentMethod)
	if err != nil {
		writeInvalidRequest(ctx, w, "payment_method must be one of razorpay, stripe, cod")
		return
	}

	cmd := services.CreateOrderCommand{
		UserID:  identity.UID,
		UseCart: req.UseCart,
		ShippingAddress: domain.ShippingAddress{
			RecipientName: strings.TrimSpace(req.ShippingAddress.RecipientName),
			Line1:         strings.TrimSpace(req.ShippingAddress.Line1),
			Line2:         strings.TrimSpace(req.ShippingAddress.Line2),
			City:          strings.TrimSpace(req.ShippingAddress.City),
			State:         strings.TrimSpace(req.ShippingAddress.State),
			PostalCode:    strings.TrimSpace(req.ShippingAddress.PostalCode),
			Country:       strings.TrimSpace(req.ShippingAddress.Country),
			Phone:         strings.TrimSpace(req.ShippingAddress.Phone),
			Email:         strings.TrimSpace(req.ShippingAddress.Email),
		},
		PaymentMethod: method,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Subtotal:      req.Pricing.Subtotal,
		Shipping:      req.Pricing.Shipping,
		Tax:           req.Pricing.Tax,
		Discount:      req.Pricing.Discount,
		DiscountCode:  strings.TrimSpace(req.Pricing.DiscountCode),
		Total:         req.Pricing.Total,
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, domain.CartItem{
			ItemID:     strings.TrimSpace(item.ItemID),
			VariantKey: strings.TrimSpace(item.VariantKey),
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
		})
	}

	order, err := h.orders.CreateFromCart(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	query := r.URL.Query()
	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(strings.ToLower(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, domain.OrderStatus(part))
		}
	}

	pageSize := pagination.ClampPageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize)

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		UserID: identity.UID,
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{UserID: identity.UID})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxCancelBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeInvalidRequest(ctx, w, "invalid JSON body")
			return
		}
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID: orderID,
		Actor:   domain.ActorCustomer,
		UserID:  identity.UID,
		Reason:  h.cleanReason(req.Reason),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

// cleanReason strips markup from customer-supplied free text before it enters
// the timeline.
func (h *OrderHandlers) cleanReason(raw string) string {
	reason := strings.TrimSpace(h.sanitizer.Sanitize(raw))
	if len(reason) > maxCancelReasonLen {
		reason = reason[:maxCancelReasonLen]
	}
	return reason
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID            string `json:"id"`
	OrderNumber   string `json:"order_number"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Currency      string `json:"currency"`
	Total         int64  `json:"total"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type pricingPayload struct {
	Subtotal     int64  `json:"subtotal"`
	Shipping     int64  `json:"shipping"`
	Tax          int64  `json:"tax"`
	Discount     int64  `json:"discount"`
	DiscountCode string `json:"discount_code,omitempty"`
	Total        int64  `json:"total"`
}

type paymentDescriptorPayload struct {
	Method            string `json:"method"`
	Status            string `json:"status"`
	ProviderOrderID   string `json:"provider_order_id,omitempty"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	PaidAt            string `json:"paid_at,omitempty"`
	FailureReason     string `json:"failure_reason,omitempty"`
}

type orderItemPayload struct {
	ItemID     string `json:"item_id"`
	VariantKey string `json:"variant_key"`
	Name       string `json:"name,omitempty"`
	Quantity   int64  `json:"quantity"`
	UnitPrice  int64  `json:"unit_price"`
	LineTotal  int64  `json:"line_total"`
	ImageURL   string `json:"image_url,omitempty"`
}

type addressPayload struct {
	RecipientName string `json:"recipient_name"`
	Line1         string `json:"line1"`
	Line2         string `json:"line2,omitempty"`
	City          string `json:"city"`
	State         string `json:"state"`
	PostalCode    string `json:"postal_code"`
	Country       string `json:"country"`
	Phone         string `json:"phone,omitempty"`
	Email         string `json:"email,omitempty"`
}

type orderPayload struct {
	ID                 string                   `json:"id"`
	OrderNumber        string                   `json:"order_number"`
	UserID             string                   `json:"user_id"`
	Status             string                   `json:"status"`
	Currency           string                   `json:"currency"`
	Pricing            pricingPayload           `json:"pricing"`
	Payment            paymentDescriptorPayload `json:"payment"`
	Items              []orderItemPayload       `json:"items"`
	ShippingAddress    addressPayload           `json:"shipping_address"`
	Timeline           []timelinePayload        `json:"timeline"`
	Shipment           *shipmentPayload         `json:"shipment,omitempty"`
	CancellationReason string                   `json:"cancellation_reason,omitempty"`
	TrackingToken      string                   `json:"tracking_token,omitempty"`
	EstimatedDelivery  string                   `json:"estimated_delivery,omitempty"`
	ActualDelivery     string                   `json:"actual_delivery,omitempty"`
	CreatedAt          string                   `json:"created_at"`
	UpdatedAt          string                   `json:"updated_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:            order.ID,
		OrderNumber:   order.Number,
		Status:        string(order.Status),
		PaymentStatus: string(order.Payment.Status),
		Currency:      order.Currency,
		Total:         order.Pricing.Total,
		CreatedAt:     formatTime(order.CreatedAt),
	}
}

// buildOrderPayload renders the aggregate. The tracking token appears only
// on owner-facing responses.
func buildOrderPayload(order services.Order, includeToken bool) orderPayload {
	payload := orderPayload{
		ID:          order.ID,
		OrderNumber: order.Number,
		UserID:      order.UserID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Pricing: pricingPayload{
			Subtotal:     order.Pricing.Subtotal,
			Shipping:     order.Pricing.Shipping,
			Tax:          order.Pricing.Tax,
			Discount:     order.Pricing.Discount,
			DiscountCode: order.Pricing.DiscountCode,
			Total:        order.Pricing.Total,
		},
		Payment: paymentDescriptorPayload{
			Method:            string(order.Payment.Method),
			Status:            string(order.Payment.Status),
			ProviderOrderID:   order.Payment.ProviderOrderID,
			ProviderPaymentID: order.Payment.ProviderPaymentID,
			PaidAt:            formatTimePtr(order.Payment.PaidAt),
			FailureReason:     order.Payment.FailureReason,
		},
		Items: make([]orderItemPayload, 0, len(order.Items)),
		ShippingAddress: addressPayload{
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
		Timeline:           buildTimelinePayloads(order.Timeline),
		Shipment:           buildShipmentPayload(order.Shipment),
		CancellationReason: order.CancellationReason,
		EstimatedDelivery:  formatTimePtr(order.EstimatedDelivery),
		ActualDelivery:     formatTimePtr(order.ActualDelivery),
		CreatedAt:          formatTime(order.CreatedAt),
		UpdatedAt:          formatTime(order.UpdatedAt),
	}
	if includeToken {
		payload.TrackingToken = order.TrackingToken
	}
	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ItemID:     item.ItemID,
			VariantKey: item.VariantKey,
			Name:       item.Name,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice,
			LineTotal:  item.LineTotal(),
			ImageURL:   item.ImageURL,
		})
	}
	return payload
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrInventoryInvalidInput):
		writeInvalidRequest(ctx, w, err.Error())
	case errors.Is(err, services.ErrOrderNotFound):
		writeHTTPError(ctx, w, "order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrPriceMismatch):
		writeHTTPError(ctx, w, "price_mismatch", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrVariantUnavailable):
		writeHTTPError(ctx, w, "variant_unavailable", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInsufficientStock):
		writeHTTPError(ctx, w, "insufficient_stock", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrIllegalTransition):
		writeHTTPError(ctx, w, "illegal_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrCannotCancel):
		writeHTTPError(ctx, w, "cannot_cancel", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderConflict):
		writeHTTPError(ctx, w, "order_conflict", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrDiscountNotFound), errors.Is(err, services.ErrDiscountInactive):
		writeHTTPError(ctx, w, "discount_rejected", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrOrderUnavailable), errors.Is(err, services.ErrInventoryUnavailable):
		writeHTTPError(ctx, w, "order_backend_unavailable", "order backend unavailable", http.StatusServiceUnavailable)
	default:
		writeHTTPError(ctx, w, "order_error", "failed to process order request", http.StatusInternalServerError)
	}
}
