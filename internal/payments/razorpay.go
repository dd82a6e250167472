package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

const razorpayBaseURL = "https://api.razorpay.com"

// orderRefNote is the metadata key carrying our order reference through the
// provider and back on webhooks.
const orderRefNote = "order_ref"

// RazorpayLogger defines the logging contract for Razorpay gateway operations.
type RazorpayLogger func(ctx context.Context, event string, fields map[string]any)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RazorpayGatewayConfig configures the RazorpayGateway.
type RazorpayGatewayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    httpDoer
	Logger        RazorpayLogger
	Clock         func() time.Time
}

// RazorpayGateway implements the gateway contract against the Razorpay
// Orders API. Client signatures and webhook bodies are both verified with
// HMAC-SHA256 per the provider's scheme.
type RazorpayGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
	baseURL       string
	httpClient    httpDoer
	logger        RazorpayLogger
	clock         func() time.Time
}

// NewRazorpayGateway constructs a Razorpay gateway using the given configuration.
func NewRazorpayGateway(cfg RazorpayGatewayConfig) (*RazorpayGateway, error) {
	keyID := strings.TrimSpace(cfg.KeyID)
	keySecret := strings.TrimSpace(cfg.KeySecret)
	if keyID == "" || keySecret == "" {
		return nil, errors.New("razorpay: key id and key secret are required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = razorpayBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &RazorpayGateway{
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		baseURL:       baseURL,
		httpClient:    httpClient,
		logger:        logger,
		clock:         func() time.Time { return clock().UTC() },
	}, nil
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateIntent creates a Razorpay order for the amount due and returns its id
// as the provider order reference.
func (g *RazorpayGateway) CreateIntent(ctx context.Context, order services.Order) (services.PaymentIntent, error) {
	if g == nil {
		return services.PaymentIntent{}, errors.New("razorpay: gateway is nil")
	}
	body := razorpayOrderRequest{
		Amount:   order.Pricing.Total,
		Currency: strings.ToUpper(order.Currency),
		Receipt:  order.Number,
		Notes: map[string]string{
			orderRefNote: order.ID,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return services.PaymentIntent{}, fmt.Errorf("razorpay: encode order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(payload))
	if err != nil {
		return services.PaymentIntent{}, fmt.Errorf("razorpay: build order request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return services.PaymentIntent{}, fmt.Errorf("razorpay: create order: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return services.PaymentIntent{}, fmt.Errorf("razorpay: read order response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr razorpayErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Description != "" {
			return services.PaymentIntent{}, fmt.Errorf("razorpay: create order: %s (%s)", apiErr.Error.Description, apiErr.Error.Code)
		}
		return services.PaymentIntent{}, fmt.Errorf("razorpay: create order: status %d", resp.StatusCode)
	}

	var created razorpayOrderResponse
	if err := json.Unmarshal(data, &created); err != nil {
		return services.PaymentIntent{}, fmt.Errorf("razorpay: decode order response: %w", err)
	}
	if created.ID == "" {
		return services.PaymentIntent{}, errors.New("razorpay: order response carries no id")
	}

	g.logger(ctx, "payments.razorpay.order.created", map[string]any{
		"orderId":         order.ID,
		"providerOrderId": created.ID,
		"amount":          created.Amount,
	})

	return services.PaymentIntent{
		Provider:        domain.PaymentMethodRazorpay,
		ProviderOrderID: created.ID,
		Amount:          created.Amount,
		Currency:        strings.ToUpper(created.Currency),
	}, nil
}

// VerifyClientSignature checks the checkout callback signature: the hex
// HMAC-SHA256 of "<providerOrderID>|<providerPaymentID>" under the key secret.
func (g *RazorpayGateway) VerifyClientSignature(providerOrderID, providerPaymentID, signature string) error {
	if g == nil {
		return errors.New("razorpay: gateway is nil")
	}
	if providerOrderID == "" || providerPaymentID == "" || signature == "" {
		return errors.New("razorpay: order id, payment id and signature are required")
	}
	expected := hmacHex(g.keySecret, providerOrderID+"|"+providerPaymentID)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signature))) != 1 {
		return errors.New("razorpay: signature mismatch")
	}
	return nil
}

type razorpayWebhookEvent struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity struct {
				ID               string            `json:"id"`
				OrderID          string            `json:"order_id"`
				Notes            map[string]string `json:"notes"`
				ErrorCode        string            `json:"error_code"`
				ErrorDescription string            `json:"error_description"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook verifies the webhook body signature and maps the event to a
// confirmation. Events other than payment capture or failure are rejected.
func (g *RazorpayGateway) ParseWebhook(payload []byte, signature string) (services.WebhookConfirmation, error) {
	if g == nil {
		return services.WebhookConfirmation{}, errors.New("razorpay: gateway is nil")
	}
	if g.webhookSecret == "" {
		return services.WebhookConfirmation{}, errors.New("razorpay: webhook secret is not configured")
	}
	expected := hmacHex(g.webhookSecret, string(payload))
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.TrimSpace(signature))) != 1 {
		return services.WebhookConfirmation{}, errors.New("razorpay: webhook signature mismatch")
	}

	var event razorpayWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return services.WebhookConfirmation{}, fmt.Errorf("razorpay: decode webhook: %w", err)
	}
	entity := event.Payload.Payment.Entity
	orderRef := strings.TrimSpace(entity.Notes[orderRefNote])
	if orderRef == "" {
		return services.WebhookConfirmation{}, errors.New("razorpay: webhook carries no order reference")
	}

	confirmation := services.WebhookConfirmation{
		Provider:          domain.PaymentMethodRazorpay,
		EventID:           fmt.Sprintf("%s:%s:%d", event.Event, entity.ID, event.CreatedAt),
		OrderRef:          orderRef,
		ProviderPaymentID: entity.ID,
	}
	switch event.Event {
	case "payment.captured":
		confirmation.Succeeded = true
	case "payment.failed":
		confirmation.Succeeded = false
		confirmation.FailureReason = strings.TrimSpace(entity.ErrorDescription)
		if confirmation.FailureReason == "" {
			confirmation.FailureReason = entity.ErrorCode
		}
	default:
		return services.WebhookConfirmation{}, fmt.Errorf("razorpay: unhandled event %q", event.Event)
	}
	return confirmation, nil
}

func hmacHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
