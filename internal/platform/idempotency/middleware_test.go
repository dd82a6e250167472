package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var fixedTime = time.Date(2026, time.March, 14, 12, 0, 0, 0, time.UTC)

func postOrderRequest(key, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	return req
}

func fixedClockMiddleware(store Store) func(http.Handler) http.Handler {
	return Middleware(store, WithClock(func() time.Time { return fixedTime }))
}

func assertErrorResponse(t *testing.T, payload []byte, expected string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("failed to decode error payload: %v", err)
	}
	if body.Error != expected {
		t.Fatalf("expected error code %s, got %s", expected, body.Error)
	}
}

func TestMiddlewareMissingHeaderBypasses(t *testing.T) {
	handlerCalled := false
	handler := fixedClockMiddleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusCreated)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrderRequest("", `{"cart_id":"cart-1"}`))

	if !handlerCalled {
		t.Fatal("handler should be invoked when no key is supplied")
	}
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rr.Code)
	}
}

func TestMiddlewareReplaysStoredResponse(t *testing.T) {
	var calls int
	handler := fixedClockMiddleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order_id":"ord-1"}`))
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrderRequest("abc-123", `{"cart_id":"cart-1"}`))

	if calls != 1 {
		t.Fatalf("expected handler to be called once, got %d", calls)
	}
	if first.Code != http.StatusCreated {
		t.Fatalf("unexpected first response status: %d", first.Code)
	}

	replay := httptest.NewRecorder()
	handler.ServeHTTP(replay, postOrderRequest("abc-123", `{"cart_id":"cart-1"}`))

	if calls != 1 {
		t.Fatalf("expected handler not to be called again, got %d calls", calls)
	}
	if replay.Code != http.StatusCreated {
		t.Fatalf("expected replayed status 201, got %d", replay.Code)
	}
	if replay.Header().Get(replayHeaderName) != "true" {
		t.Fatalf("expected replay header to be present")
	}
	if got := replay.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("expected content-type json, got %s", got)
	}
	if replay.Body.String() != first.Body.String() {
		t.Fatalf("expected response body %s, got %s", first.Body.String(), replay.Body.String())
	}
}

func TestMiddlewareConflictingFingerprint(t *testing.T) {
	handler := fixedClockMiddleware(NewMemoryStore())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, postOrderRequest("same-key", `{"cart_id":"cart-1"}`))
	if first.Code != http.StatusOK {
		t.Fatalf("expected first request success, got %d", first.Code)
	}

	// Same key, different payload.
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, postOrderRequest("same-key", `{"cart_id":"cart-2"}`))

	if second.Code != http.StatusConflict {
		t.Fatalf("expected conflict status, got %d", second.Code)
	}
	assertErrorResponse(t, second.Body.Bytes(), "idempotency_key_conflict")
}

func TestMiddlewarePendingReservationReturnsConflict(t *testing.T) {
	store := NewMemoryStore()
	handler := fixedClockMiddleware(store)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler should not be invoked when reservation pending")
	}))

	req := postOrderRequest("pending-key", `{"cart_id":"cart-1"}`)

	// Seed a pending reservation as if a concurrent request holds the key.
	body, err := readAndReplayBody(req)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	identity := extractRequester(req.Context())
	fingerprint := requestFingerprint(req, body, identity)
	if _, err := store.Reserve(req.Context(), scopedKey("pending-key", identity), fingerprint, fixedTime, time.Hour); err != nil {
		t.Fatalf("failed to seed reservation: %v", err)
	}

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409 for pending reservation, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_in_progress")
}

func TestMiddlewareSaveFailureRollsBackReservation(t *testing.T) {
	store := &stubStore{failSave: true}
	handler := fixedClockMiddleware(store)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, postOrderRequest("fail-key", `{"cart_id":"cart-1"}`))

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 response, got %d", rr.Code)
	}
	assertErrorResponse(t, rr.Body.Bytes(), "idempotency_store_error")
	if !store.released {
		t.Fatalf("expected reservation to be released on failure")
	}
}

type stubStore struct {
	failSave bool
	released bool
}

func (s *stubStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{State: ReservationStateNew, Record: Record{}}, nil
}

func (s *stubStore) SaveResponse(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failSave {
		return errors.New("save failed")
	}
	return nil
}

func (s *stubStore) Release(context.Context, string, string) error {
	s.released = true
	return nil
}

func (s *stubStore) CleanupExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}
