package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/services"
)

const maxInternalBodySize = 16 * 1024

// InternalHandlers serves trusted service-to-service endpoints. The router
// mounts them behind the HMAC validator, so by the time a request lands here
// the caller has already proven possession of the shared secret.
type InternalHandlers struct {
	orders services.OrderService
}

// NewInternalHandlers constructs a new InternalHandlers instance.
func NewInternalHandlers(orders services.OrderService) *InternalHandlers {
	return &InternalHandlers{orders: orders}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/orders/{orderID}/shipment", h.attachShipment)
}

type attachShipmentRequest struct {
	ExternalID        string `json:"external_id"`
	Carrier           string `json:"carrier"`
	TrackingReference string `json:"tracking_reference"`
	TrackingURL       string `json:"tracking_url"`
	CarrierStatus     string `json:"carrier_status"`
}

func (req *attachShipmentRequest) validate() string {
	if strings.TrimSpace(req.ExternalID) == "" {
		return "external_id is required"
	}
	if strings.TrimSpace(req.Carrier) == "" {
		return "carrier is required"
	}
	return ""
}

type attachShipmentResponse struct {
	OrderID  string           `json:"order_id"`
	Status   string           `json:"status"`
	Shipment *shipmentPayload `json:"shipment,omitempty"`
}

func (h *InternalHandlers) attachShipment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	if orderID == "" {
		writeInvalidRequest(ctx, w, "order id is required")
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req attachShipmentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeInvalidRequest(ctx, w, "request body must be valid JSON")
		return
	}
	if msg := req.validate(); msg != "" {
		writeInvalidRequest(ctx, w, msg)
		return
	}

	order, err := h.orders.AttachShipment(ctx, orderID, domain.ShipmentInfo{
		ExternalID:        strings.TrimSpace(req.ExternalID),
		Carrier:           strings.TrimSpace(req.Carrier),
		TrackingReference: strings.TrimSpace(req.TrackingReference),
		TrackingURL:       strings.TrimSpace(req.TrackingURL),
		CarrierStatus:     strings.TrimSpace(req.CarrierStatus),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, attachShipmentResponse{
		OrderID:  order.ID,
		Status:   string(order.Status),
		Shipment: buildShipmentPayload(order.Shipment),
	})
}
