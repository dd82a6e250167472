package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func testRazorpayGateway(t *testing.T, doer httpDoer) *RazorpayGateway {
	t.Helper()
	gw, err := NewRazorpayGateway(RazorpayGatewayConfig{
		KeyID:         "rzp_test_key",
		KeySecret:     "key-secret",
		WebhookSecret: "hook-secret",
		HTTPClient:    doer,
	})
	if err != nil {
		t.Fatalf("NewRazorpayGateway returned error: %v", err)
	}
	return gw
}

func signHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestRazorpayCreateIntent(t *testing.T) {
	var captured razorpayOrderRequest
	gw := testRazorpayGateway(t, roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if req.Method != http.MethodPost || req.URL.Path != "/v1/orders" {
			t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		}
		if user, _, ok := req.BasicAuth(); !ok || user != "rzp_test_key" {
			t.Fatal("expected basic auth with the key id")
		}
		body, _ := io.ReadAll(req.Body)
		if err := json.Unmarshal(body, &captured); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(`{"id":"order_abc","amount":5998,"currency":"INR","status":"created"}`)),
		}, nil
	}))

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
	if intent.ProviderOrderID != "order_abc" || intent.Amount != 5998 || intent.Currency != "INR" {
		t.Fatalf("unexpected intent %+v", intent)
	}
	if captured.Amount != 5998 || captured.Receipt != "ORD-20260314-000001" {
		t.Fatalf("unexpected provider request %+v", captured)
	}
	if captured.Notes[orderRefNote] != "ord-001" {
		t.Fatalf("order reference not forwarded in notes: %+v", captured.Notes)
	}
}

func TestRazorpayCreateIntentProviderError(t *testing.T) {
	gw := testRazorpayGateway(t, roundTripFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusBadRequest,
			Body:       io.NopCloser(strings.NewReader(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount must be at least INR 1.00"}}`)),
		}, nil
	}))

	_, err := gw.CreateIntent(context.Background(), services.Order{ID: "ord-001", Currency: "INR"})
	if err == nil || !strings.Contains(err.Error(), "amount must be at least") {
		t.Fatalf("expected provider error description, got %v", err)
	}
}

func TestRazorpayVerifyClientSignature(t *testing.T) {
	gw := testRazorpayGateway(t, nil)

	good := signHex("key-secret", "order_abc|pay_xyz")
	if err := gw.VerifyClientSignature("order_abc", "pay_xyz", good); err != nil {
		t.Fatalf("valid signature rejected: %v", err)
	}
	if err := gw.VerifyClientSignature("order_abc", "pay_xyz", "deadbeef"); err == nil {
		t.Fatal("forged signature accepted")
	}
	// A signature for one payment must not verify another.
	if err := gw.VerifyClientSignature("order_abc", "pay_other", good); err == nil {
		t.Fatal("signature accepted for the wrong payment id")
	}
	if err := gw.VerifyClientSignature("", "pay_xyz", good); err == nil {
		t.Fatal("missing order id accepted")
	}
}

func TestRazorpayParseWebhookCaptured(t *testing.T) {
	gw := testRazorpayGateway(t, nil)
	payload := `{"event":"payment.captured","created_at":1773654300,"payload":{"payment":{"entity":{"id":"pay_xyz","order_id":"order_abc","notes":{"order_ref":"ord-001"}}}}}`

	confirmation, err := gw.ParseWebhook([]byte(payload), signHex("hook-secret", payload))
	if err != nil {
		t.Fatalf("ParseWebhook returned error: %v", err)
	}
	if !confirmation.Succeeded {
		t.Fatal("capture event must map to success")
	}
	if confirmation.OrderRef != "ord-001" || confirmation.ProviderPaymentID != "pay_xyz" {
		t.Fatalf("unexpected confirmation %+v", confirmation)
	}
	if confirmation.Provider != domain.PaymentMethodRazorpay {
		t.Fatalf("unexpected provider %q", confirmation.Provider)
	}
}

func TestRazorpayParseWebhookFailed(t *testing.T) {
	gw := testRazorpayGateway(t, nil)
	payload := `{"event":"payment.failed","payload":{"payment":{"entity":{"id":"pay_xyz","notes":{"order_ref":"ord-001"},"error_description":"card declined"}}}}`

	confirmation, err := gw.ParseWebhook([]byte(payload), signHex("hook-secret", payload))
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

func TestRazorpayParseWebhookRejectsBadSignature(t *testing.T) {
	gw := testRazorpayGateway(t, nil)
	payload := `{"event":"payment.captured","payload":{"payment":{"entity":{"id":"pay_xyz","notes":{"order_ref":"ord-001"}}}}}`

	if _, err := gw.ParseWebhook([]byte(payload), signHex("wrong-secret", payload)); err == nil {
		t.Fatal("webhook with bad signature accepted")
	}
	// Tampering after signing must also fail.
	tampered := strings.Replace(payload, "ord-001", "ord-002", 1)
	if _, err := gw.ParseWebhook([]byte(tampered), signHex("hook-secret", payload)); err == nil {
		t.Fatal("tampered webhook accepted")
	}
}

func TestRazorpayParseWebhookUnhandledEvent(t *testing.T) {
	gw := testRazorpayGateway(t, nil)
	payload := `{"event":"refund.created","payload":{"payment":{"entity":{"id":"pay_xyz","notes":{"order_ref":"ord-001"}}}}}`

	if _, err := gw.ParseWebhook([]byte(payload), signHex("hook-secret", payload)); err == nil {
		t.Fatal("unhandled event type accepted")
	}
}
