package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	defaultSignatureHeader = "X-Signature"
	defaultTimestampHeader = "X-Signature-Timestamp"
	defaultNonceHeader     = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// SecretProvider resolves shared secrets used for HMAC validation.
type SecretProvider interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SecretProviderFunc adapts a function to the SecretProvider interface.
type SecretProviderFunc func(context.Context, string) (string, error)

// GetSecret implements SecretProvider.
func (f SecretProviderFunc) GetSecret(ctx context.Context, name string) (string, error) {
	if f == nil {
		return "", errors.New("auth: secret provider not configured")
	}
	return f(ctx, name)
}

// NonceStore tracks unique nonces for replay prevention.
type NonceStore interface {
	// UseNonce records the nonce if it has not been seen before within the scope. The boolean indicates
	// whether the nonce was stored (true) or already existed (false).
	UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore offers an in-memory nonce registry suitable for tests and local development.
type InMemoryNonceStore struct {
	mu   sync.Mutex
	seen map[nonceKey]time.Time
}

type nonceKey struct {
	scope string
	nonce string
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{seen: make(map[nonceKey]time.Time)}
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}

	now := time.Now()
	if expiry.Before(now) {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	key := nonceKey{scope: scope, nonce: nonce}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked(now)

	if existing, ok := s.seen[key]; ok && existing.After(now) {
		return false, nil
	}

	s.seen[key] = expiry
	return true, nil
}

func (s *InMemoryNonceStore) pruneLocked(now time.Time) {
	for key, expiry := range s.seen {
		if expiry.Before(now) {
			delete(s.seen, key)
		}
	}
}

// HMACValidator verifies signed requests from trusted internal callers, such
// as the fulfilment system reporting shipment dispatch.
type HMACValidator struct {
	provider SecretProvider
	nonces   NonceStore

	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time

	signatureHeader string
	timestampHeader string
	nonceHeader     string

	clockSkew time.Duration
	nonceTTL  time.Duration

	secretCache sync.Map
}

// HMACOption customises the validator.
type HMACOption func(*HMACValidator)

// NewHMACValidator builds a validator using the given secret provider and nonce store.
func NewHMACValidator(provider SecretProvider, nonces NonceStore, opts ...HMACOption) *HMACValidator {
	validator := &HMACValidator{
		provider:        provider,
		nonces:          nonces,
		logger:          log.Default(),
		now:             time.Now,
		signatureHeader: defaultSignatureHeader,
		timestampHeader: defaultTimestampHeader,
		nonceHeader:     defaultNonceHeader,
		clockSkew:       defaultClockSkew,
		nonceTTL:        defaultNonceTTL,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(validator)
		}
	}

	return validator
}

// WithHMACLogger overrides the validator logger.
func WithHMACLogger(logger Logger) HMACOption {
	return func(v *HMACValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithHMACMetrics sets the metrics recorder.
func WithHMACMetrics(metrics MetricsRecorder) HMACOption {
	return func(v *HMACValidator) {
		v.metrics = metrics
	}
}

// WithHMACClock injects a custom clock, primarily for tests.
func WithHMACClock(now func() time.Time) HMACOption {
	return func(v *HMACValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithHMACHeaders customises the header names used by the middleware.
func WithHMACHeaders(signature, timestamp, nonce string) HMACOption {
	return func(v *HMACValidator) {
		if signature != "" {
			v.signatureHeader = signature
		}
		if timestamp != "" {
			v.timestampHeader = timestamp
		}
		if nonce != "" {
			v.nonceHeader = nonce
		}
	}
}

// WithHMACClockSkew adjusts the accepted timestamp skew.
func WithHMACClockSkew(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithHMACNonceTTL customises the nonce retention duration.
func WithHMACNonceTTL(d time.Duration) HMACOption {
	return func(v *HMACValidator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// HMACMetadata describes the verification context for downstream handlers.
type HMACMetadata struct {
	SecretName   string
	Timestamp    time.Time
	Nonce        string
	Signature    []byte
	RawSignature string
}

type hmacContextKey struct{}

// WithHMACMetadata stores the metadata on the context.
func WithHMACMetadata(ctx context.Context, meta *HMACMetadata) context.Context {
	if meta == nil {
		return ctx
	}
	return context.WithValue(ctx, hmacContextKey{}, meta)
}

// HMACMetadataFromContext retrieves metadata from the context.
func HMACMetadataFromContext(ctx context.Context) (*HMACMetadata, bool) {
	meta, ok := ctx.Value(hmacContextKey{}).(*HMACMetadata)
	if !ok || meta == nil {
		return nil, false
	}
	return meta, true
}

// hmacRejection carries the response written when verification fails, plus the
// short reason tag recorded in metrics.
type hmacRejection struct {
	status  int
	code    string
	message string
	reason  string
}

func rejectHMAC(status int, code, message, reason string) *hmacRejection {
	return &hmacRejection{status: status, code: code, message: message, reason: reason}
}

// signatureEnvelope holds the raw header values a caller attached to the request.
type signatureEnvelope struct {
	signature string
	timestamp string
	nonce     string
}

func (v *HMACValidator) envelope(r *http.Request) signatureEnvelope {
	return signatureEnvelope{
		signature: strings.TrimSpace(r.Header.Get(v.signatureHeader)),
		timestamp: strings.TrimSpace(r.Header.Get(v.timestampHeader)),
		nonce:     strings.TrimSpace(r.Header.Get(v.nonceHeader)),
	}
}

// RequireHMAC enforces the presence of a valid HMAC signature on the request.
func (v *HMACValidator) RequireHMAC(secretName string) func(http.Handler) http.Handler {
	scopedSecret := strings.TrimSpace(secretName)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			meta, rejection := v.verifyRequest(ctx, r, scopedSecret)
			if rejection != nil {
				v.record(ctx, false, rejection.reason, start)
				respondAuthError(w, rejection.status, rejection.code, rejection.message)
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithHMACMetadata(ctx, meta)))
		})
	}
}

func (v *HMACValidator) verifyRequest(ctx context.Context, r *http.Request, secretName string) (*HMACMetadata, *hmacRejection) {
	if secretName == "" {
		return nil, rejectHMAC(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret not configured", "secret_not_configured")
	}

	secret, err := v.loadSecret(ctx, secretName)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: hmac secret lookup failed: %v", err)
		}
		return nil, rejectHMAC(http.StatusServiceUnavailable, "verification_unavailable", "hmac secret unavailable", "secret_unavailable")
	}

	env := v.envelope(r)
	if env.signature == "" {
		return nil, rejectHMAC(http.StatusUnauthorized, "signature_missing", "signature header missing", "signature_missing")
	}
	if env.timestamp == "" {
		return nil, rejectHMAC(http.StatusUnauthorized, "timestamp_missing", "signature timestamp missing", "timestamp_missing")
	}

	timestamp, err := parseSignatureTimestamp(env.timestamp)
	if err != nil {
		return nil, rejectHMAC(http.StatusUnauthorized, "timestamp_invalid", "signature timestamp invalid", "timestamp_invalid")
	}
	if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
		return nil, rejectHMAC(http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window", "timestamp_skew")
	}

	if env.nonce == "" {
		return nil, rejectHMAC(http.StatusUnauthorized, "nonce_missing", "signature nonce missing", "nonce_missing")
	}

	body, err := peekBody(r)
	if err != nil {
		return nil, rejectHMAC(http.StatusBadRequest, "invalid_body", "unable to read body for signature verification", "body_unreadable")
	}

	signature, err := decodeSignature(env.signature)
	if err != nil {
		return nil, rejectHMAC(http.StatusUnauthorized, "signature_invalid", "signature encoding invalid", "signature_invalid")
	}

	expected := computeHMAC(secret, canonicalRequest(r, body, env.timestamp, env.nonce))
	if !hmac.Equal(signature, expected) {
		return nil, rejectHMAC(http.StatusUnauthorized, "signature_mismatch", "signature verification failed", "signature_mismatch")
	}

	if rejection := v.consumeNonce(ctx, secretName, env.nonce, timestamp); rejection != nil {
		return nil, rejection
	}

	return &HMACMetadata{
		SecretName:   secretName,
		Timestamp:    timestamp,
		Nonce:        env.nonce,
		Signature:    signature,
		RawSignature: env.signature,
	}, nil
}

func (v *HMACValidator) consumeNonce(ctx context.Context, scope, nonce string, timestamp time.Time) *hmacRejection {
	if v.nonces == nil {
		return rejectHMAC(http.StatusServiceUnavailable, "verification_unavailable", "nonce store unavailable", "nonce_store_unavailable")
	}

	expiry := timestamp.Add(v.nonceTTL)
	if now := v.now(); expiry.Before(now) {
		expiry = now.Add(v.nonceTTL)
	}

	stored, err := v.nonces.UseNonce(ctx, scope, nonce, expiry)
	if err != nil {
		if v.logger != nil {
			v.logger.Printf("auth: nonce store error: %v", err)
		}
		return rejectHMAC(http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error", "nonce_store_error")
	}
	if !stored {
		return rejectHMAC(http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce", "nonce_replay")
	}

	return nil
}

func (v *HMACValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v == nil || v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "hmac", success, reason, v.now().Sub(start))
}

func (v *HMACValidator) loadSecret(ctx context.Context, name string) ([]byte, error) {
	if v == nil || v.provider == nil {
		return nil, errors.New("auth: secret provider not configured")
	}

	if cached, ok := v.secretCache.Load(name); ok {
		if secret, ok := cached.([]byte); ok && len(secret) > 0 {
			return secret, nil
		}
	}

	raw, err := v.provider.GetSecret(ctx, name)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, errors.New("auth: secret is empty")
	}

	secret := []byte(raw)
	v.secretCache.Store(name, secret)
	return secret, nil
}

// peekBody reads the full body and restores it so the handler can read it again.
func peekBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

// decodeSignature accepts base64 or hex, matching what the fulfilment partner
// sends. Hex is tried first: a 64-char hex digest is also well-formed base64,
// while base64 of a raw MAC always carries '=' padding and fails hex decoding.
func decodeSignature(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("auth: empty signature")
	}
	if len(value)%2 == 0 {
		if decoded, err := hex.DecodeString(value); err == nil {
			return decoded, nil
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}

	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

// canonicalRequest joins method, path, timestamp, nonce, and the body digest
// into the string both sides sign.
func canonicalRequest(r *http.Request, body []byte, timestamp, nonce string) []byte {
	method := strings.ToUpper(r.Method)
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	digest := sha256.Sum256(body)

	var canonical strings.Builder
	canonical.WriteString(method)
	canonical.WriteByte('\n')
	canonical.WriteString(path)
	canonical.WriteByte('\n')
	canonical.WriteString(timestamp)
	canonical.WriteByte('\n')
	canonical.WriteString(nonce)
	canonical.WriteByte('\n')
	canonical.WriteString(hex.EncodeToString(digest[:]))
	return []byte(canonical.String())
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}
