package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

func adminRouter(h *AdminHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestAdminListOrdersRequiresUserID(t *testing.T) {
	h := NewAdminHandlers(nil, &stubOrderService{}, &stubInventoryService{})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAdminListOrdersByUser(t *testing.T) {
	var captured services.OrderListQuery
	svc := &stubOrderService{
		listFn: func(_ context.Context, query services.OrderListQuery) (domain.CursorPage[services.Order], error) {
			captured = query
			return domain.CursorPage[services.Order]{Items: []services.Order{sampleOrder()}}, nil
		},
	}
	h := NewAdminHandlers(nil, svc, &stubInventoryService{})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders?user_id=user-1&status=shipped", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "user-1" {
		t.Fatalf("unexpected query %+v", captured)
	}
	if len(captured.Status) != 1 || captured.Status[0] != domain.OrderStatusShipped {
		t.Fatalf("unexpected status filter %v", captured.Status)
	}
}

func TestAdminGetOrderUsesAdminScope(t *testing.T) {
	svc := &stubOrderService{
		getFn: func(_ context.Context, orderID string, opts services.OrderReadOptions) (services.Order, error) {
			if orderID != "ord-001" || !opts.Admin {
				t.Fatalf("unexpected read %q %+v", orderID, opts)
			}
			return sampleOrder(), nil
		},
	}
	h := NewAdminHandlers(nil, svc, &stubInventoryService{})

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/orders/ord-001", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAdminTransitionStatus(t *testing.T) {
	var captured services.TransitionStatusCommand
	svc := &stubOrderService{
		transitionFn: func(_ context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
			captured = cmd
			order := sampleOrder()
			order.Status = domain.OrderStatusShipped
			return order, nil
		},
	}
	h := NewAdminHandlers(nil, svc, &stubInventoryService{})

	body := `{"to":"Shipped","note":"AWB <script>x</script>assigned"}`
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/status", strings.NewReader(body)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-001" || captured.To != domain.OrderStatusShipped || captured.Actor != domain.ActorAdmin {
		t.Fatalf("unexpected command %+v", captured)
	}
	if strings.Contains(captured.Note, "<script>") {
		t.Fatalf("note not sanitized: %q", captured.Note)
	}
}

func TestAdminTransitionIllegalEdgeConflicts(t *testing.T) {
	svc := &stubOrderService{
		transitionFn: func(context.Context, services.TransitionStatusCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: delivered to pending", services.ErrIllegalTransition)
		},
	}
	h := NewAdminHandlers(nil, svc, &stubInventoryService{})

	body := `{"to":"pending"}`
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/status", strings.NewReader(body)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestAdminCancelActsAsAdmin(t *testing.T) {
	svc := &stubOrderService{
		cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
			if cmd.Actor != domain.ActorAdmin || cmd.UserID != "" {
				t.Fatalf("unexpected command %+v", cmd)
			}
			return sampleOrder(), nil
		},
	}
	h := NewAdminHandlers(nil, svc, &stubInventoryService{})

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/cancel", strings.NewReader(`{"reason":"fraud review"}`)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestAdminGetStock(t *testing.T) {
	inv := &stubInventoryService{
		getFn: func(_ context.Context, itemID, variantKey string) (services.VariantStock, error) {
			if itemID != "book-1" || variantKey != "hardcover" {
				t.Fatalf("unexpected lookup %q %q", itemID, variantKey)
			}
			return services.VariantStock{
				ItemID:     itemID,
				VariantKey: variantKey,
				Available:  7,
				UpdatedAt:  time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC),
			}, nil
		},
	}
	h := NewAdminHandlers(nil, &stubOrderService{}, inv)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/inventory/book-1/hardcover", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var resp stockPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Available != 7 || resp.ItemID != "book-1" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAdminGetStockMissingRecord(t *testing.T) {
	inv := &stubInventoryService{
		getFn: func(context.Context, string, string) (services.VariantStock, error) {
			return services.VariantStock{}, fmt.Errorf("%w: book-9/paper has no stock record", services.ErrInsufficientStock)
		},
	}
	h := NewAdminHandlers(nil, &stubOrderService{}, inv)

	req := authedRequest(httptest.NewRequest(http.MethodGet, "/inventory/book-9/paper", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestAdminSetStockRoundTrips(t *testing.T) {
	var stored services.VariantStock
	inv := &stubInventoryService{
		setFn: func(_ context.Context, stock services.VariantStock) error {
			stored = stock
			stored.UpdatedAt = time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
			return nil
		},
		getFn: func(context.Context, string, string) (services.VariantStock, error) {
			return stored, nil
		},
	}
	h := NewAdminHandlers(nil, &stubOrderService{}, inv)

	body := `{"available":12}`
	req := authedRequest(httptest.NewRequest(http.MethodPut, "/inventory/book-1/hardcover", strings.NewReader(body)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if stored.ItemID != "book-1" || stored.VariantKey != "hardcover" || stored.Available != 12 {
		t.Fatalf("unexpected write %+v", stored)
	}
	var resp stockPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Available != 12 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestAdminSetStockRejectsNegative(t *testing.T) {
	inv := &stubInventoryService{
		setFn: func(context.Context, services.VariantStock) error {
			return fmt.Errorf("%w: available must not be negative", services.ErrInventoryInvalidInput)
		},
	}
	h := NewAdminHandlers(nil, &stubOrderService{}, inv)

	body := `{"available":-3}`
	req := authedRequest(httptest.NewRequest(http.MethodPut, "/inventory/book-1/hardcover", strings.NewReader(body)), "admin-1", "admin")
	rr := httptest.NewRecorder()
	adminRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
