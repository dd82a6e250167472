package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/platform/auth"
	"github.com/oakline-commerce/api/internal/services"
)

const maxPaymentBodySize = 16 * 1024

// PaymentHandlers exposes payment initiation and confirmation endpoints.
type PaymentHandlers struct {
	authn      *auth.Authenticator
	reconciler services.PaymentReconciler
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(authn *auth.Authenticator, reconciler services.PaymentReconciler) *PaymentHandlers {
	return &PaymentHandlers{
		authn:      authn,
		reconciler: reconciler,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Post("/orders/{orderID}/intent", h.createIntent)
	r.Post("/orders/{orderID}/confirm", h.confirmClient)
	r.Post("/orders/{orderID}/confirm-cod", h.confirmCOD)
}

func (h *PaymentHandlers) createIntent(w http.ResponseWriter, r *http.Request) {
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

	intent, err := h.reconciler.Initiate(ctx, services.InitiatePaymentCommand{
		OrderID: orderID,
		UserID:  identity.UID,
		Admin:   identity.HasRole(auth.RoleAdmin),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, paymentIntentResponse{
		OrderID:         intent.OrderID,
		Provider:        string(intent.Provider),
		ProviderOrderID: intent.ProviderOrderID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        intent.Currency,
	})
}

type confirmPaymentRequest struct {
	ProviderPaymentID string `json:"provider_payment_id"`
	Signature         string `json:"signature"`
}

func (h *PaymentHandlers) confirmClient(w http.ResponseWriter, r *http.Request) {
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

	body, err := readLimitedBody(r, maxPaymentBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req confirmPaymentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeInvalidRequest(ctx, w, "invalid JSON body")
		return
	}

	order, err := h.reconciler.Reconcile(ctx, services.ClientSignatureConfirmation{
		OrderID:           orderID,
		UserID:            identity.UID,
		ProviderPaymentID: strings.TrimSpace(req.ProviderPaymentID),
		Signature:         strings.TrimSpace(req.Signature),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

// confirmCOD advances a cash-on-delivery order to confirmed. Back-office only.
func (h *PaymentHandlers) confirmCOD(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}
	if !identity.HasRole(auth.RoleAdmin) {
		writeHTTPError(ctx, w, "forbidden", "admin role required", http.StatusForbidden)
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	order, err := h.reconciler.Reconcile(ctx, services.CODConfirmation{
		OrderID: orderID,
		Actor:   domain.ActorAdmin,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order, true)})
}

type paymentIntentResponse struct {
	OrderID         string `json:"order_id"`
	Provider        string `json:"provider"`
	ProviderOrderID string `json:"provider_order_id"`
	ClientSecret    string `json:"client_secret,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		writeInvalidRequest(ctx, w, err.Error())
	case errors.Is(err, services.ErrOrderNotFound):
		writeHTTPError(ctx, w, "order_not_found", "order not found", http.StatusNotFound)
	case errors.Is(err, services.ErrWrongPaymentMethod):
		writeHTTPError(ctx, w, "wrong_payment_method", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrInvalidSignature):
		writeHTTPError(ctx, w, "invalid_signature", "payment confirmation failed verification", http.StatusBadRequest)
	case errors.Is(err, services.ErrIllegalTransition):
		writeHTTPError(ctx, w, "illegal_transition", err.Error(), http.StatusConflict)
	case errors.Is(err, services.ErrPaymentUnavailable):
		writeHTTPError(ctx, w, "payment_backend_unavailable", "payment backend unavailable", http.StatusServiceUnavailable)
	default:
		writeOrderError(ctx, w, err)
	}
}
