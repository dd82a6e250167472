package shipping

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oakline-commerce/api/internal/domain"
)

const defaultTokenTTL = 9 * 24 * time.Hour

// Logger defines the logging contract for shipping client operations.
type Logger func(ctx context.Context, event string, fields map[string]any)

type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig configures the carrier API client.
type ClientConfig struct {
	BaseURL    string
	Email      string
	Password   string
	PickupName string
	TokenTTL   time.Duration
	HTTPClient httpDoer
	Logger     Logger
	Clock      func() time.Time
}

// Client talks to the carrier aggregator API. Authentication yields a bearer
// token cached until its expiry; an expired token is refreshed on the next
// call rather than proactively.
type Client struct {
	baseURL    string
	email      string
	password   string
	pickupName string
	tokenTTL   time.Duration
	httpClient httpDoer
	logger     Logger
	clock      func() time.Time

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient constructs a carrier client using the given configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("shipping: base url is required")
	}
	email := strings.TrimSpace(cfg.Email)
	password := cfg.Password
	if email == "" || password == "" {
		return nil, errors.New("shipping: api credentials are required")
	}
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Client{
		baseURL:    baseURL,
		email:      email,
		password:   password,
		pickupName: strings.TrimSpace(cfg.PickupName),
		tokenTTL:   ttl,
		httpClient: httpClient,
		logger:     logger,
		clock:      func() time.Time { return clock().UTC() },
	}, nil
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	Token string `json:"token"`
}

func (c *Client) bearerToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && c.clock().Before(c.tokenExpiry) {
		return c.token, nil
	}

	payload, err := json.Marshal(authRequest{Email: c.email, Password: c.password})
	if err != nil {
		return "", fmt.Errorf("shipping: encode auth request: %w", err)
	}
	var auth authResponse
	if err := c.do(ctx, http.MethodPost, "/v1/external/auth/login", "", payload, &auth); err != nil {
		return "", fmt.Errorf("shipping: authenticate: %w", err)
	}
	if auth.Token == "" {
		return "", errors.New("shipping: auth response carries no token")
	}

	c.token = auth.Token
	c.tokenExpiry = c.clock().Add(c.tokenTTL)
	c.logger(ctx, "shipping.token_refreshed", map[string]any{
		"expiresAt": c.tokenExpiry.Format(time.RFC3339),
	})
	return c.token, nil
}

// invalidateToken drops the cached token after the carrier rejects it.
func (c *Client) invalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

type createShipmentRequest struct {
	OrderID       string               `json:"order_id"`
	OrderDate     string               `json:"order_date"`
	PickupName    string               `json:"pickup_location,omitempty"`
	BillingName   string               `json:"billing_customer_name"`
	BillingPhone  string               `json:"billing_phone"`
	Address       string               `json:"billing_address"`
	City          string               `json:"billing_city"`
	State         string               `json:"billing_state"`
	Country       string               `json:"billing_country"`
	PostalCode    string               `json:"billing_pincode"`
	PaymentMethod string               `json:"payment_method"`
	SubTotal      int64                `json:"sub_total"`
	Items         []createShipmentItem `json:"order_items"`
}

type createShipmentItem struct {
	Name  string `json:"name"`
	SKU   string `json:"sku"`
	Units int64  `json:"units"`
	Price int64  `json:"selling_price"`
}

type createShipmentResponse struct {
	OrderID     json.Number `json:"order_id"`
	ShipmentID  json.Number `json:"shipment_id"`
	Status      string      `json:"status"`
	AWBCode     string      `json:"awb_code"`
	CourierName string      `json:"courier_name"`
}

// CreateShipment registers the order with the carrier and returns the
// external references to attach to the aggregate.
func (c *Client) CreateShipment(ctx context.Context, order domain.Order) (domain.ShipmentInfo, error) {
	if c == nil {
		return domain.ShipmentInfo{}, errors.New("shipping: client is nil")
	}

	paymentMethod := "Prepaid"
	if order.Payment.Method == domain.PaymentMethodCOD {
		paymentMethod = "COD"
	}
	req := createShipmentRequest{
		OrderID:       order.Number,
		OrderDate:     order.CreatedAt.Format("2006-01-02 15:04"),
		PickupName:    c.pickupName,
		BillingName:   order.ShippingAddress.RecipientName,
		BillingPhone:  order.ShippingAddress.Phone,
		Address:       order.ShippingAddress.Line1,
		City:          order.ShippingAddress.City,
		State:         order.ShippingAddress.State,
		Country:       order.ShippingAddress.Country,
		PostalCode:    order.ShippingAddress.PostalCode,
		PaymentMethod: paymentMethod,
		SubTotal:      order.Pricing.Subtotal,
	}
	for _, item := range order.Items {
		req.Items = append(req.Items, createShipmentItem{
			Name:  item.Name,
			SKU:   item.ItemID + "#" + item.VariantKey,
			Units: item.Quantity,
			Price: item.UnitPrice,
		})
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return domain.ShipmentInfo{}, fmt.Errorf("shipping: encode shipment request: %w", err)
	}

	var created createShipmentResponse
	if err := c.doAuthed(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", payload, &created); err != nil {
		return domain.ShipmentInfo{}, err
	}
	if created.ShipmentID.String() == "" {
		return domain.ShipmentInfo{}, errors.New("shipping: response carries no shipment id")
	}

	c.logger(ctx, "shipping.shipment_created", map[string]any{
		"orderNumber": order.Number,
		"shipmentId":  created.ShipmentID.String(),
		"courier":     created.CourierName,
	})

	return domain.ShipmentInfo{
		ExternalID:        created.ShipmentID.String(),
		Carrier:           created.CourierName,
		TrackingReference: created.AWBCode,
		CarrierStatus:     created.Status,
	}, nil
}

type trackResponse struct {
	TrackingData struct {
		ShipmentStatus string `json:"shipment_status"`
		TrackURL       string `json:"track_url"`
		ShipmentTrack  []struct {
			AWBCode       string `json:"awb_code"`
			CourierName   string `json:"courier_name"`
			CurrentStatus string `json:"current_status"`
		} `json:"shipment_track"`
	} `json:"tracking_data"`
}

// Track fetches the carrier-side status for a shipment.
func (c *Client) Track(ctx context.Context, externalID string) (domain.ShipmentInfo, error) {
	if strings.TrimSpace(externalID) == "" {
		return domain.ShipmentInfo{}, errors.New("shipping: shipment id is required")
	}
	var tracked trackResponse
	if err := c.doAuthed(ctx, http.MethodGet, "/v1/external/courier/track/shipment/"+externalID, nil, &tracked); err != nil {
		return domain.ShipmentInfo{}, err
	}

	info := domain.ShipmentInfo{
		ExternalID:    externalID,
		TrackingURL:   tracked.TrackingData.TrackURL,
		CarrierStatus: tracked.TrackingData.ShipmentStatus,
	}
	if len(tracked.TrackingData.ShipmentTrack) > 0 {
		leg := tracked.TrackingData.ShipmentTrack[0]
		info.TrackingReference = leg.AWBCode
		info.Carrier = leg.CourierName
		if leg.CurrentStatus != "" {
			info.CarrierStatus = leg.CurrentStatus
		}
	}
	return info, nil
}

// doAuthed performs a bearer-authenticated call, refreshing the token once
// when the carrier rejects it.
func (c *Client) doAuthed(ctx context.Context, method, path string, payload []byte, out any) error {
	token, err := c.bearerToken(ctx)
	if err != nil {
		return err
	}
	err = c.do(ctx, method, path, token, payload, out)
	if err == nil {
		return nil
	}
	var status *statusError
	if errors.As(err, &status) && status.code == http.StatusUnauthorized {
		c.invalidateToken()
		token, tokenErr := c.bearerToken(ctx)
		if tokenErr != nil {
			return tokenErr
		}
		return c.do(ctx, method, path, token, payload, out)
	}
	return err
}

type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("shipping: carrier returned status %d: %s", e.code, e.body)
	}
	return fmt.Sprintf("shipping: carrier returned status %d", e.code)
}

func (c *Client) do(ctx context.Context, method, path, token string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("shipping: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("shipping: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("shipping: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("shipping: decode response: %w", err)
	}
	return nil
}
