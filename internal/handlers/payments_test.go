package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

func paymentRouter(h *PaymentHandlers) chi.Router {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func TestCreateIntentReturnsProviderReference(t *testing.T) {
	var captured services.InitiatePaymentCommand
	rec := &stubReconciler{
		initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentIntent, error) {
			captured = cmd
			return services.PaymentIntent{
				OrderID:         "ord-001",
				Provider:        domain.PaymentMethodRazorpay,
				ProviderOrderID: "prov_ord_001",
				Amount:          5998,
				Currency:        "INR",
			}, nil
		},
	}
	h := NewPaymentHandlers(nil, rec)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/intent", nil), "user-1")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-001" || captured.UserID != "user-1" || captured.Admin {
		t.Fatalf("unexpected command %+v", captured)
	}

	var resp paymentIntentResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Provider != "razorpay" || resp.ProviderOrderID != "prov_ord_001" || resp.Amount != 5998 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCreateIntentAdminBypassesOwnership(t *testing.T) {
	rec := &stubReconciler{
		initiateFn: func(_ context.Context, cmd services.InitiatePaymentCommand) (services.PaymentIntent, error) {
			if !cmd.Admin {
				t.Fatal("admin flag not propagated")
			}
			return services.PaymentIntent{OrderID: cmd.OrderID}, nil
		},
	}
	h := NewPaymentHandlers(nil, rec)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/intent", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
}

func TestConfirmForwardsClientSignature(t *testing.T) {
	var captured services.ClientSignatureConfirmation
	rec := &stubReconciler{
		reconcileFn: func(_ context.Context, confirmation services.PaymentConfirmation) (services.Order, error) {
			sig, ok := confirmation.(services.ClientSignatureConfirmation)
			if !ok {
				t.Fatalf("expected client signature confirmation, got %T", confirmation)
			}
			captured = sig
			return sampleOrder(), nil
		},
	}
	h := NewPaymentHandlers(nil, rec)

	body := `{"provider_payment_id":"pay_123","signature":"deadbeef"}`
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/confirm", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OrderID != "ord-001" || captured.UserID != "user-1" {
		t.Fatalf("unexpected confirmation %+v", captured)
	}
	if captured.ProviderPaymentID != "pay_123" || captured.Signature != "deadbeef" {
		t.Fatalf("unexpected confirmation %+v", captured)
	}
}

func TestConfirmRejectsBadSignature(t *testing.T) {
	rec := &stubReconciler{
		reconcileFn: func(context.Context, services.PaymentConfirmation) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: checksum mismatch", services.ErrInvalidSignature)
		},
	}
	h := NewPaymentHandlers(nil, rec)

	body := `{"provider_payment_id":"pay_123","signature":"bad"}`
	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/confirm", strings.NewReader(body)), "user-1")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode error envelope: %v", err)
	}
	if envelope.Error != "invalid_signature" {
		t.Fatalf("expected invalid_signature, got %q", envelope.Error)
	}
}

func TestConfirmHidesForeignOrders(t *testing.T) {
	rec := &stubReconciler{
		reconcileFn: func(context.Context, services.PaymentConfirmation) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: ord-001", services.ErrOrderNotFound)
		},
	}
	h := NewPaymentHandlers(nil, rec)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/confirm", strings.NewReader(`{}`)), "user-2")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestConfirmCODRequiresAdmin(t *testing.T) {
	h := NewPaymentHandlers(nil, &stubReconciler{})

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/confirm-cod", nil), "user-1")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rr.Code)
	}
}

func TestConfirmCODAsAdmin(t *testing.T) {
	rec := &stubReconciler{
		reconcileFn: func(_ context.Context, confirmation services.PaymentConfirmation) (services.Order, error) {
			cod, ok := confirmation.(services.CODConfirmation)
			if !ok {
				t.Fatalf("expected COD confirmation, got %T", confirmation)
			}
			if cod.OrderID != "ord-001" || cod.Actor != domain.ActorAdmin {
				t.Fatalf("unexpected confirmation %+v", cod)
			}
			return sampleOrder(), nil
		},
	}
	h := NewPaymentHandlers(nil, rec)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/confirm-cod", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestConfirmCODWrongMethodConflicts(t *testing.T) {
	rec := &stubReconciler{
		reconcileFn: func(context.Context, services.PaymentConfirmation) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: order pays online", services.ErrWrongPaymentMethod)
		},
	}
	h := NewPaymentHandlers(nil, rec)

	req := authedRequest(httptest.NewRequest(http.MethodPost, "/orders/ord-001/confirm-cod", nil), "admin-1", "admin")
	rr := httptest.NewRecorder()
	paymentRouter(h).ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
