package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"

	"github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

type fakeIntentAPI struct {
	newFn func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	getFn func(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

func (f *fakeIntentAPI) New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.newFn(params)
}

func (f *fakeIntentAPI) Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
	return f.getFn(id, params)
}

func testStripeGateway(t *testing.T, intents stripePaymentIntentAPI) *StripeGateway {
	t.Helper()
	gw, err := NewStripeGateway(StripeGatewayConfig{
		WebhookSecret: "whsec_test",
		Intents:       intents,
	})
	if err != nil {
		t.Fatalf("NewStripeGateway returned error: %v", err)
	}
	return gw
}

func TestStripeCreateIntent(t *testing.T) {
	var captured *stripe.PaymentIntentParams
	gw := testStripeGateway(t, &fakeIntentAPI{
		newFn: func(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			captured = params
			return &stripe.PaymentIntent{
				ID:           "pi_123",
				ClientSecret: "pi_123_secret_abc",
				Amount:       5998,
				Currency:     stripe.CurrencyINR,
			}, nil
		},
	})

	order := services.Order{
		ID:       "ord-001",
		Number:   "ORD-20260314-000001",
		Currency: "INR",
		Pricing:  domain.PricingBreakdown{Subtotal: 5998, Total: 5998},
	}
	intent, err := gw.CreateIntent(context.Background(), order)
	if err != nil {
		t.Fatalf("CreateIntent returned error: %v", err)
	}
	if intent.ProviderOrderID != "pi_123" || intent.ClientSecret != "pi_123_secret_abc" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if intent.Currency != "INR" {
		t.Fatalf("currency not normalised: %q", intent.Currency)
	}
	if captured.Metadata[orderRefNote] != "ord-001" {
		t.Fatalf("order reference not forwarded in metadata: %+v", captured.Metadata)
	}
	if *captured.Amount != 5998 {
		t.Fatalf("unexpected amount %d", *captured.Amount)
	}
}

func TestStripeVerifyClientSignature(t *testing.T) {
	gw := testStripeGateway(t, &fakeIntentAPI{
		getFn: func(id string, _ *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			if id != "pi_123" {
				return nil, errors.New("no such payment_intent")
			}
			return &stripe.PaymentIntent{
				ID:           "pi_123",
				ClientSecret: "pi_123_secret_abc",
				Status:       stripe.PaymentIntentStatusSucceeded,
			}, nil
		},
	})

	if err := gw.VerifyClientSignature("pi_123", "pi_123", "pi_123_secret_abc"); err != nil {
		t.Fatalf("valid client secret rejected: %v", err)
	}
	if err := gw.VerifyClientSignature("pi_123", "pi_123", "pi_123_secret_wrong"); err == nil {
		t.Fatal("wrong client secret accepted")
	}
	if err := gw.VerifyClientSignature("pi_999", "pi_999", "pi_123_secret_abc"); err == nil {
		t.Fatal("unknown intent accepted")
	}
}

func TestStripeVerifyClientSignatureRequiresSuccess(t *testing.T) {
	gw := testStripeGateway(t, &fakeIntentAPI{
		getFn: func(string, *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error) {
			return &stripe.PaymentIntent{
				ID:           "pi_123",
				ClientSecret: "pi_123_secret_abc",
				Status:       stripe.PaymentIntentStatusRequiresPaymentMethod,
			}, nil
		},
	})

	if err := gw.VerifyClientSignature("pi_123", "pi_123", "pi_123_secret_abc"); err == nil {
		t.Fatal("unsettled intent accepted as confirmation")
	}
}

func TestStripeParseWebhookSucceeded(t *testing.T) {
	gw := testStripeGateway(t, &fakeIntentAPI{})
	payload := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","metadata":{"order_ref":"ord-001"}}}}`
	header := stripeSignatureHeader(payload, "whsec_test", time.Now())

	confirmation, err := gw.ParseWebhook([]byte(payload), header)
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if !confirmation.Succeeded || confirmation.OrderRef != "ord-001" || confirmation.ProviderPaymentID != "pi_123" {
		t.Fatalf("unexpected confirmation %+v", confirmation)
	}
	if confirmation.EventID != "evt_1" {
		t.Fatalf("unexpected event id %q", confirmation.EventID)
	}
}

func TestStripeParseWebhookFailed(t *testing.T) {
	gw := testStripeGateway(t, &fakeIntentAPI{})
	payload := `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{"id":"pi_123","metadata":{"order_ref":"ord-001"},"last_payment_error":{"message":"card declined"}}}}`
	header := stripeSignatureHeader(payload, "whsec_test", time.Now())

	confirmation, err := gw.ParseWebhook([]byte(payload), header)
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if confirmation.Succeeded {
		t.Fatal("failure event must not map to success")
	}
	if confirmation.FailureReason != "card declined" {
		t.Fatalf("unexpected failure reason %q", confirmation.FailureReason)
	}
}

func TestStripeParseWebhookRejectsBadSignature(t *testing.T) {
	gw := testStripeGateway(t, &fakeIntentAPI{})
	payload := `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{"id":"pi_123","metadata":{"order_ref":"ord-001"}}}}`

	if _, err := gw.ParseWebhook([]byte(payload), stripeSignatureHeader(payload, "whsec_wrong", time.Now())); err == nil {
		t.Fatal("webhook with bad signature accepted")
	}
	// Stale timestamps fall outside the verification tolerance.
	if _, err := gw.ParseWebhook([]byte(payload), stripeSignatureHeader(payload, "whsec_test", time.Now().Add(-time.Hour))); err == nil {
		t.Fatal("stale webhook accepted")
	}
}

func stripeSignatureHeader(payload, secret string, at time.Time) string {
	ts := at.Unix()
	return fmt.Sprintf("t=%d,v1=%s", ts, signHex(secret, fmt.Sprintf("%d.%s", ts, payload)))
}

func TestRegistryResolution(t *testing.T) {
	razorpay := testRazorpayGateway(t, nil)
	registry, err := NewRegistry(map[domain.PaymentMethod]services.PaymentGateway{
		domain.PaymentMethodRazorpay: razorpay,
	})
	if err != nil {
		t.Fatalf("NewRegistry returned error: %v", err)
	}

	if _, ok := registry.Gateway(domain.PaymentMethodRazorpay); !ok {
		t.Fatal("registered gateway not resolved")
	}
	if _, ok := registry.Gateway(domain.PaymentMethodStripe); ok {
		t.Fatal("unregistered gateway resolved")
	}
	if _, ok := registry.Gateway(domain.PaymentMethodCOD); ok {
		t.Fatal("cash on delivery must never resolve a gateway")
	}
}

func TestNewRegistryValidation(t *testing.T) {
	if _, err := NewRegistry(nil); err == nil {
		t.Fatal("expected error for empty registration")
	}
	if _, err := NewRegistry(map[domain.PaymentMethod]services.PaymentGateway{domain.PaymentMethodRazorpay: nil}); err == nil {
		t.Fatal("expected error for nil gateway")
	}
	if _, err := NewRegistry(map[domain.PaymentMethod]services.PaymentGateway{domain.PaymentMethodCOD: testRazorpayGateway(t, nil)}); err == nil {
		t.Fatal("expected error for cod gateway registration")
	}
}

func TestParseMethod(t *testing.T) {
	cases := map[string]domain.PaymentMethod{
		"razorpay": domain.PaymentMethodRazorpay,
		" Stripe ": domain.PaymentMethodStripe,
		"COD":      domain.PaymentMethodCOD,
	}
	for raw, want := range cases {
		got, err := ParseMethod(raw)
		if err != nil {
			t.Fatalf("ParseMethod(%q) returned error: %v", raw, err)
		}
		if got != want {
			t.Fatalf("ParseMethod(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseMethod("paypal"); !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}
