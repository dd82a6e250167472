package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/payments"
	"github.com/oakline-commerce/api/internal/services"
)

const maxWebhookBodySize = 256 * 1024

var webhookSignatureHeaders = map[domain.PaymentMethod]string{
	domain.PaymentMethodRazorpay: "X-Razorpay-Signature",
	domain.PaymentMethodStripe:   "Stripe-Signature",
}

// WebhookHandlers receives provider payment pushes. These endpoints are
// unauthenticated; the payload signature is the only trust anchor.
type WebhookHandlers struct {
	reconciler services.PaymentReconciler
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(reconciler services.PaymentReconciler) *WebhookHandlers {
	return &WebhookHandlers{reconciler: reconciler}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/{provider}", h.handlePaymentWebhook)
}

type webhookResponse struct {
	Received  bool   `json:"received"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

func (h *WebhookHandlers) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	provider, err := payments.ParseMethod(chi.URLParam(r, "provider"))
	if err != nil || provider == domain.PaymentMethodCOD {
		writeHTTPError(ctx, w, "unknown_provider", "unknown payment provider", http.StatusNotFound)
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	signature := strings.TrimSpace(r.Header.Get(webhookSignatureHeaders[provider]))
	if signature == "" {
		writeHTTPError(ctx, w, "missing_signature", "signature header is required", http.StatusBadRequest)
		return
	}

	ack, err := h.reconciler.HandleWebhook(ctx, services.WebhookRequest{
		Provider:  provider,
		Payload:   body,
		Signature: signature,
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, webhookResponse{
		Received:  true,
		EventID:   ack.EventID,
		Duplicate: ack.Duplicate,
	})
}
