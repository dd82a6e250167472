package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oakline-commerce/api/internal/platform/auth"
	"github.com/oakline-commerce/api/internal/services"
)

const (
	trackingRateLimit  = 30
	trackingRateWindow = time.Minute
)

// TrackingHandlers serves the public order tracking endpoint. Callers prove
// their claim with a tracking token or an authenticated session; every denial
// is indistinguishable from a missing order.
type TrackingHandlers struct {
	orders  services.OrderService
	limiter rateLimiter
}

// TrackingOption customises the tracking handlers.
type TrackingOption func(*TrackingHandlers)

// WithTrackingRateLimiter overrides the per-caller rate limiter.
func WithTrackingRateLimiter(limiter rateLimiter) TrackingOption {
	return func(h *TrackingHandlers) {
		h.limiter = limiter
	}
}

// WithTrackingRateLimit overrides the default per-caller request budget.
func WithTrackingRateLimit(limit int, window time.Duration) TrackingOption {
	return func(h *TrackingHandlers) {
		h.limiter = newFixedWindowLimiter(limit, window, nil)
	}
}

// NewTrackingHandlers constructs a new TrackingHandlers instance.
func NewTrackingHandlers(orders services.OrderService, opts ...TrackingOption) *TrackingHandlers {
	h := &TrackingHandlers{
		orders:  orders,
		limiter: newFixedWindowLimiter(trackingRateLimit, trackingRateWindow, nil),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the /public endpoints.
func (h *TrackingHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/orders/{reference}/tracking", h.trackOrder)
}

type trackingResponse struct {
	OrderNumber       string            `json:"order_number"`
	Status            string            `json:"status"`
	PaymentStatus     string            `json:"payment_status"`
	Timeline          []timelinePayload `json:"timeline"`
	Shipment          *shipmentPayload  `json:"shipment,omitempty"`
	EstimatedDelivery string            `json:"estimated_delivery,omitempty"`
}

func (h *TrackingHandlers) trackOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.limiter != nil && !h.limiter.Allow(clientIP(r)) {
		writeHTTPError(ctx, w, "rate_limited", "too many tracking requests", http.StatusTooManyRequests)
		return
	}

	reference := strings.TrimSpace(chi.URLParam(r, "reference"))
	if reference == "" {
		writeInvalidRequest(ctx, w, "order reference is required")
		return
	}

	query := services.TrackOrderQuery{
		OrderID: reference,
		Token:   strings.TrimSpace(r.URL.Query().Get("token")),
	}
	if identity, ok := auth.IdentityFromContext(ctx); ok && identity != nil {
		query.UserID = identity.UID
		query.Admin = identity.HasRole(auth.RoleAdmin)
	}

	view, err := h.orders.Track(ctx, query)
	if err != nil {
		// Track never distinguishes denial from absence.
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, trackingResponse{
		OrderNumber:       view.OrderNumber,
		Status:            string(view.Status),
		PaymentStatus:     string(view.PaymentStatus),
		Timeline:          buildTimelinePayloads(view.Timeline),
		Shipment:          buildShipmentPayload(view.Shipment),
		EstimatedDelivery: formatTimePtr(view.EstimatedDelivery),
	})
}
