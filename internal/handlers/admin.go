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
	"github.com/oakline-commerce/api/internal/platform/auth"
	"github.com/oakline-commerce/api/internal/platform/pagination"
	"github.com/oakline-commerce/api/internal/services"
)

const maxAdminBodySize = 16 * 1024

// AdminHandlers exposes back-office order and inventory endpoints.
type AdminHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	inventory services.InventoryService
	sanitizer *bluemonday.Policy
}

// NewAdminHandlers constructs a new AdminHandlers instance.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, inventory services.InventoryService) *AdminHandlers {
	return &AdminHandlers{
		authn:     authn,
		orders:    orders,
		inventory: inventory,
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Routes registers the /admin endpoints.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderID}", h.getOrder)
	r.Post("/orders/{orderID}/status", h.transitionStatus)
	r.Post("/orders/{orderID}/cancel", h.cancelOrder)
	r.Get("/inventory/{itemID}/{variantKey}", h.getStock)
	r.Put("/inventory/{itemID}/{variantKey}", h.setStock)
}

func (h *AdminHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	userID := strings.TrimSpace(query.Get("user_id"))
	if userID == "" {
		writeInvalidRequest(ctx, w, "user_id is required")
		return
	}
	var statuses []domain.OrderStatus
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(strings.ToLower(part)); part != "" {
				statuses = append(statuses, domain.OrderStatus(part))
			}
		}
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListQuery{
		UserID: userID,
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  pagination.ClampPageSize(query.Get("page_size"), defaultOrderPageSize, maxOrderPageSize),
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
	writeJSONResponse(w, http.StatusOK, orderListResponse{Items: items, NextPageToken: page.NextPageToken})
}

func (h *AdminHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.orders.GetOrder(ctx, orderID, services.OrderReadOptions{Admin: true})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

type transitionRequest struct {
	To   string `json:"to"`
	Note string `json:"note,omitempty"`
}

func (h *AdminHandlers) transitionStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req transitionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeInvalidRequest(ctx, w, "invalid JSON body")
		return
	}
	to := domain.OrderStatus(strings.TrimSpace(strings.ToLower(req.To)))
	if to == "" {
		writeInvalidRequest(ctx, w, "target status is required")
		return
	}

	order, err := h.orders.TransitionStatus(ctx, services.TransitionStatusCommand{
		OrderID: orderID,
		To:      to,
		Actor:   domain.ActorAdmin,
		Note:    strings.TrimSpace(h.sanitizer.Sanitize(req.Note)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func (h *AdminHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	var req cancelOrderRequest
	body, err := readLimitedBody(r, maxAdminBodySize)
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
		Actor:   domain.ActorAdmin,
		Reason:  strings.TrimSpace(h.sanitizer.Sanitize(req.Reason)),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

func writeInventoryError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInventoryInvalidInput):
		writeInvalidRequest(ctx, w, err.Error())
	case errors.Is(err, services.ErrInsufficientStock):
		writeHTTPError(ctx, w, "stock_not_found", "no stock record for variant", http.StatusNotFound)
	default:
		writeHTTPError(ctx, w, "inventory_backend_unavailable", "inventory backend unavailable", http.StatusServiceUnavailable)
	}
}

type stockPayload struct {
	ItemID     string `json:"item_id"`
	VariantKey string `json:"variant_key"`
	Available  int64  `json:"available"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

func (h *AdminHandlers) getStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	variantKey := strings.TrimSpace(chi.URLParam(r, "variantKey"))

	stock, err := h.inventory.GetStock(ctx, itemID, variantKey)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockPayload{
		ItemID:     stock.ItemID,
		VariantKey: stock.VariantKey,
		Available:  stock.Available,
		UpdatedAt:  formatTime(stock.UpdatedAt),
	})
}

type setStockRequest struct {
	Available int64 `json:"available"`
}

func (h *AdminHandlers) setStock(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	variantKey := strings.TrimSpace(chi.URLParam(r, "variantKey"))

	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req setStockRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeInvalidRequest(ctx, w, "invalid JSON body")
		return
	}

	if err := h.inventory.SetStock(ctx, domain.VariantStock{
		ItemID:     itemID,
		VariantKey: variantKey,
		Available:  req.Available,
	}); err != nil {
		writeInventoryError(ctx, w, err)
		return
	}

	stock, err := h.inventory.GetStock(ctx, itemID, variantKey)
	if err != nil {
		writeInventoryError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, stockPayload{
		ItemID:     stock.ItemID,
		VariantKey: stock.VariantKey,
		Available:  stock.Available,
		UpdatedAt:  formatTime(stock.UpdatedAt),
	})
}
