package payments

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

// StripeLogger defines the logging contract for Stripe gateway operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeGatewayConfig configures the StripeGateway.
type StripeGatewayConfig struct {
	APIKey        string
	WebhookSecret string
	Backends      *stripe.Backends
	Logger        StripeLogger
	Clock         func() time.Time
	Intents       stripePaymentIntentAPI
}

// StripeGateway implements the gateway contract over Stripe payment intents.
// The client-side confirmation signal is the intent's client secret; webhooks
// are verified with the signed-payload scheme.
type StripeGateway struct {
	intents       stripePaymentIntentAPI
	webhookSecret string
	logger        StripeLogger
	clock         func() time.Time
}

// NewStripeGateway constructs a Stripe gateway using the given configuration.
func NewStripeGateway(cfg StripeGatewayConfig) (*StripeGateway, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &StripeGateway{
		intents:       intents,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        logger,
		clock:         func() time.Time { return clock().UTC() },
	}, nil
}

// CreateIntent creates a Stripe payment intent for the amount due. Our order
// reference travels in the intent metadata and returns on webhooks.
func (g *StripeGateway) CreateIntent(ctx context.Context, order services.Order) (services.PaymentIntent, error) {
	if g == nil {
		return services.PaymentIntent{}, errors.New("stripe: gateway is nil")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(order.Pricing.Total),
		Currency: stripe.String(strings.ToLower(order.Currency)),
		Metadata: map[string]string{
			orderRefNote:   order.ID,
			"order_number": order.Number,
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("order-intent-" + order.ID)

	intent, err := g.intents.New(params)
	if err != nil {
		return services.PaymentIntent{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	g.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"orderId":       order.ID,
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})

	return services.PaymentIntent{
		Provider:        domain.PaymentMethodStripe,
		ProviderOrderID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(string(intent.Currency)),
	}, nil
}

// VerifyClientSignature checks a client-side confirmation. Stripe has no
// detached signature for this path, so the caller proves possession of the
// intent's client secret and the intent must already report success.
func (g *StripeGateway) VerifyClientSignature(providerOrderID, providerPaymentID, signature string) error {
	if g == nil {
		return errors.New("stripe: gateway is nil")
	}
	if providerOrderID == "" || signature == "" {
		return errors.New("stripe: intent id and client secret are required")
	}
	if providerPaymentID != "" && providerPaymentID != providerOrderID {
		return errors.New("stripe: payment id does not match the intent")
	}

	params := &stripe.PaymentIntentParams{}
	intent, err := g.intents.Get(providerOrderID, params)
	if err != nil {
		return fmt.Errorf("stripe: lookup payment intent: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(intent.ClientSecret), []byte(strings.TrimSpace(signature))) != 1 {
		return errors.New("stripe: client secret mismatch")
	}
	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		return fmt.Errorf("stripe: intent is %s, not succeeded", intent.Status)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and maps intent events to
// confirmations. Other event types are rejected.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (services.WebhookConfirmation, error) {
	if g == nil {
		return services.WebhookConfirmation{}, errors.New("stripe: gateway is nil")
	}
	if g.webhookSecret == "" {
		return services.WebhookConfirmation{}, errors.New("stripe: webhook secret is not configured")
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return services.WebhookConfirmation{}, fmt.Errorf("stripe: verify webhook: %w", err)
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return services.WebhookConfirmation{}, fmt.Errorf("stripe: decode event payload: %w", err)
	}
	orderRef := strings.TrimSpace(intent.Metadata[orderRefNote])
	if orderRef == "" {
		return services.WebhookConfirmation{}, errors.New("stripe: event carries no order reference")
	}

	confirmation := services.WebhookConfirmation{
		Provider:          domain.PaymentMethodStripe,
		EventID:           event.ID,
		OrderRef:          orderRef,
		ProviderPaymentID: intent.ID,
	}
	switch string(event.Type) {
	case "payment_intent.succeeded":
		confirmation.Succeeded = true
	case "payment_intent.payment_failed":
		confirmation.Succeeded = false
		if intent.LastPaymentError != nil {
			confirmation.FailureReason = intent.LastPaymentError.Msg
		}
		if confirmation.FailureReason == "" {
			confirmation.FailureReason = "payment failed"
		}
	default:
		return services.WebhookConfirmation{}, fmt.Errorf("stripe: unhandled event %q", event.Type)
	}
	return confirmation, nil
}
