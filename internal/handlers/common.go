package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/oakline-commerce/api/internal/domain"
	"github.com/oakline-commerce/api/internal/platform/auth"
	"github.com/oakline-commerce/api/internal/platform/httpx"
)

var errBodyTooLarge = errors.New("request body too large")

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

type timelinePayload struct {
	Status  string `json:"status"`
	At      string `json:"at"`
	Message string `json:"message,omitempty"`
	Actor   string `json:"actor,omitempty"`
}

func buildTimelinePayloads(entries []domain.TimelineEntry) []timelinePayload {
	result := make([]timelinePayload, 0, len(entries))
	for _, entry := range entries {
		result = append(result, timelinePayload{
			Status:  string(entry.Status),
			At:      formatTime(entry.Timestamp),
			Message: entry.Message,
			Actor:   string(entry.Actor),
		})
	}
	return result
}

type shipmentPayload struct {
	ExternalID        string `json:"external_id,omitempty"`
	Carrier           string `json:"carrier,omitempty"`
	TrackingReference string `json:"tracking_reference,omitempty"`
	TrackingURL       string `json:"tracking_url,omitempty"`
	CarrierStatus     string `json:"carrier_status,omitempty"`
}

func buildShipmentPayload(info *domain.ShipmentInfo) *shipmentPayload {
	if info == nil {
		return nil
	}
	return &shipmentPayload{
		ExternalID:        info.ExternalID,
		Carrier:           info.Carrier,
		TrackingReference: info.TrackingReference,
		TrackingURL:       info.TrackingURL,
		CarrierStatus:     info.CarrierStatus,
	}
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func writeHTTPError(ctx context.Context, w http.ResponseWriter, code, message string, status int) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeInvalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	writeHTTPError(ctx, w, "invalid_request", message, http.StatusBadRequest)
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		writeHTTPError(ctx, w, "payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge)
		return
	}
	writeInvalidRequest(ctx, w, err.Error())
}

func clientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); ip != "" {
		if idx := strings.IndexByte(ip, ','); idx > 0 {
			return strings.TrimSpace(ip[:idx])
		}
		return ip
	}
	host := r.RemoteAddr
	if idx := strings.LastIndexByte(host, ':'); idx > 0 {
		host = host[:idx]
	}
	return host
}
