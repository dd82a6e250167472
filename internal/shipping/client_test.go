package shipping

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/oakline-commerce/api/internal/domain"
)

type scriptedCarrier struct {
	t          *testing.T
	authCalls  int
	orderCalls int
	trackCalls int
	rejectNext bool
	token      string
}

func (c *scriptedCarrier) Do(req *http.Request) (*http.Response, error) {
	switch {
	case req.URL.Path == "/v1/external/auth/login":
		c.authCalls++
		c.token = "tok-" + strings.Repeat("x", c.authCalls)
		return jsonResponse(http.StatusOK, `{"token":"`+c.token+`"}`), nil
	case req.Header.Get("Authorization") != "Bearer "+c.token || c.rejectNext:
		c.rejectNext = false
		return jsonResponse(http.StatusUnauthorized, `{"message":"invalid token"}`), nil
	case req.URL.Path == "/v1/external/orders/create/adhoc":
		c.orderCalls++
		return jsonResponse(http.StatusOK, `{"order_id":101,"shipment_id":202,"status":"NEW","awb_code":"AWB123","courier_name":"BlueDart"}`), nil
	case strings.HasPrefix(req.URL.Path, "/v1/external/courier/track/shipment/"):
		c.trackCalls++
		return jsonResponse(http.StatusOK, `{"tracking_data":{"shipment_status":"In Transit","track_url":"https://track.example/202","shipment_track":[{"awb_code":"AWB123","courier_name":"BlueDart","current_status":"Out for delivery"}]}}`), nil
	default:
		c.t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
		return nil, nil
	}
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func testOrder() domain.Order {
	return domain.Order{
		ID:       "ord-001",
		Number:   "ORD-20260314-000001",
		Currency: "INR",
		Items: []domain.OrderItem{
			{ItemID: "book-1", VariantKey: "hardcover", Name: "The Crimson Pact", UnitPrice: 2999, Quantity: 2},
		},
		Pricing: domain.PricingBreakdown{Subtotal: 5998, Total: 5998},
		Payment: domain.PaymentDescriptor{Method: domain.PaymentMethodCOD},
		ShippingAddress: domain.ShippingAddress{
			RecipientName: "A Reader",
			Line1:         "12 Lamp Street",
			City:          "Pune",
			State:         "MH",
			PostalCode:    "411001",
			Country:       "India",
			Phone:         "9999999999",
		},
		CreatedAt: time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC),
	}
}

func testClient(t *testing.T, carrier *scriptedCarrier, clock func() time.Time) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{
		BaseURL:    "https://carrier.example",
		Email:      "ops@example.com",
		Password:   "secret",
		PickupName: "warehouse-1",
		TokenTTL:   time.Hour,
		HTTPClient: carrier,
		Clock:      clock,
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return client
}

func TestCreateShipmentMapsResponse(t *testing.T) {
	carrier := &scriptedCarrier{t: t}
	client := testClient(t, carrier, nil)

	info, err := client.CreateShipment(context.Background(), testOrder())
	if err != nil {
		t.Fatalf("CreateShipment returned error: %v", err)
	}
	if info.ExternalID != "202" || info.TrackingReference != "AWB123" || info.Carrier != "BlueDart" {
		t.Fatalf("unexpected shipment info %+v", info)
	}
	if info.CarrierStatus != "NEW" {
		t.Fatalf("unexpected carrier status %q", info.CarrierStatus)
	}
}

func TestCreateShipmentPayload(t *testing.T) {
	var captured createShipmentRequest
	carrier := &scriptedCarrier{t: t}
	doer := doerFunc(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/v1/external/orders/create/adhoc" {
			body, _ := io.ReadAll(req.Body)
			if err := json.Unmarshal(body, &captured); err != nil {
				t.Fatalf("decode shipment payload: %v", err)
			}
		}
		return carrier.Do(req)
	})
	client, err := NewClient(ClientConfig{
		BaseURL:    "https://carrier.example",
		Email:      "ops@example.com",
		Password:   "secret",
		PickupName: "warehouse-1",
		HTTPClient: doer,
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}

	if _, err := client.CreateShipment(context.Background(), testOrder()); err != nil {
		t.Fatalf("CreateShipment returned error: %v", err)
	}
	if captured.OrderID != "ORD-20260314-000001" || captured.PaymentMethod != "COD" {
		t.Fatalf("unexpected payload %+v", captured)
	}
	if captured.PickupName != "warehouse-1" || captured.City != "Pune" {
		t.Fatalf("unexpected payload %+v", captured)
	}
	if len(captured.Items) != 1 || captured.Items[0].SKU != "book-1#hardcover" || captured.Items[0].Units != 2 {
		t.Fatalf("unexpected items %+v", captured.Items)
	}
}

type doerFunc func(req *http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestTokenIsCachedAcrossCalls(t *testing.T) {
	carrier := &scriptedCarrier{t: t}
	client := testClient(t, carrier, nil)
	ctx := context.Background()

	if _, err := client.CreateShipment(ctx, testOrder()); err != nil {
		t.Fatalf("first call returned error: %v", err)
	}
	if _, err := client.Track(ctx, "202"); err != nil {
		t.Fatalf("second call returned error: %v", err)
	}
	if carrier.authCalls != 1 {
		t.Fatalf("expected one authentication, got %d", carrier.authCalls)
	}
}

func TestTokenRefreshesAfterExpiry(t *testing.T) {
	carrier := &scriptedCarrier{t: t}
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	client := testClient(t, carrier, func() time.Time { return now })
	ctx := context.Background()

	if _, err := client.Track(ctx, "202"); err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := client.Track(ctx, "202"); err != nil {
		t.Fatalf("Track after expiry returned error: %v", err)
	}
	if carrier.authCalls != 2 {
		t.Fatalf("expected re-authentication after expiry, got %d auth calls", carrier.authCalls)
	}
}

func TestRejectedTokenTriggersOneRetry(t *testing.T) {
	carrier := &scriptedCarrier{t: t}
	client := testClient(t, carrier, nil)
	ctx := context.Background()

	// Warm the cache, then have the carrier reject the next authed call.
	if _, err := client.Track(ctx, "202"); err != nil {
		t.Fatalf("warmup Track returned error: %v", err)
	}
	carrier.rejectNext = true
	if _, err := client.Track(ctx, "202"); err != nil {
		t.Fatalf("Track after rejection returned error: %v", err)
	}
	if carrier.authCalls != 2 {
		t.Fatalf("expected re-authentication after rejection, got %d auth calls", carrier.authCalls)
	}
	if carrier.trackCalls != 2 {
		t.Fatalf("expected the rejected call to be retried, got %d track calls", carrier.trackCalls)
	}
}

func TestTrackMapsCarrierStatus(t *testing.T) {
	carrier := &scriptedCarrier{t: t}
	client := testClient(t, carrier, nil)

	info, err := client.Track(context.Background(), "202")
	if err != nil {
		t.Fatalf("Track returned error: %v", err)
	}
	if info.CarrierStatus != "Out for delivery" || info.Carrier != "BlueDart" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.TrackingURL != "https://track.example/202" {
		t.Fatalf("unexpected tracking url %q", info.TrackingURL)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{Email: "a@b.c", Password: "p"}); err == nil {
		t.Fatal("expected error for missing base url")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "https://carrier.example"}); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}
