package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func customerToken(uid string, claims map[string]interface{}) *firebaseauth.Token {
	if claims == nil {
		claims = map[string]interface{}{}
	}
	return &firebaseauth.Token{UID: uid, Claims: claims}
}

func decodeAuthError(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON body: %v", err)
	}
	code, _ := body["error"].(string)
	return code
}

func TestRequireFirebaseAuthAllowsValidToken(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: customerToken("uid-123", map[string]interface{}{
			"role":  []interface{}{"staff", "admin"},
			"email": "user@example.com",
		}),
	}

	authn := NewAuthenticator(verifier)

	handlerCalled := false
	handler := authn.RequireFirebaseAuth(RoleStaff)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true

		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "uid-123" {
			t.Fatalf("unexpected uid: %s", identity.UID)
		}
		if !identity.HasRole(RoleStaff) {
			t.Fatalf("expected staff role, got %v", identity.Roles)
		}
		if !identity.HasAnyRole(RoleAdmin, RoleUser) {
			t.Fatalf("expected admin among roles, got %v", identity.Roles)
		}
		if identity.Email != "user@example.com" {
			t.Fatalf("expected email user@example.com, got %s", identity.Email)
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer token-value")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rr.Code)
	}
	if !handlerCalled {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-value" {
		t.Fatalf("expected verifier to receive token-value, got %s", verifier.received)
	}
}

func TestRequireFirebaseAuthRejections(t *testing.T) {
	tests := []struct {
		name          string
		verifier      *stubTokenVerifier
		requiredRoles []string
		authorization string
		wantCode      string
	}{
		{
			name:          "expired token",
			verifier:      &stubTokenVerifier{err: ErrTokenExpired},
			requiredRoles: []string{RoleUser},
			authorization: "Bearer expired-token",
			wantCode:      "token_expired",
		},
		{
			name:          "invalid token",
			verifier:      &stubTokenVerifier{err: ErrTokenInvalid},
			requiredRoles: []string{RoleUser},
			authorization: "Bearer broken-token",
			wantCode:      "invalid_token",
		},
		{
			name:          "customer cannot reach admin route",
			verifier:      &stubTokenVerifier{token: customerToken("uid-789", map[string]interface{}{"role": "user"})},
			requiredRoles: []string{RoleAdmin},
			authorization: "Bearer customer-token",
			wantCode:      "insufficient_role",
		},
		{
			name:          "missing authorization header",
			verifier:      &stubTokenVerifier{token: customerToken("uid-000", nil)},
			requiredRoles: []string{RoleUser},
			authorization: "",
			wantCode:      "unauthenticated",
		},
		{
			name:          "basic scheme rejected",
			verifier:      &stubTokenVerifier{token: customerToken("uid-000", nil)},
			requiredRoles: []string{RoleUser},
			authorization: "Basic dXNlcjpwYXNz",
			wantCode:      "unauthenticated",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			authn := NewAuthenticator(tc.verifier)
			handler := authn.RequireFirebaseAuth(tc.requiredRoles...)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler should not execute")
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.authorization != "" {
				req.Header.Set("Authorization", tc.authorization)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if rr.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rr.Code)
			}
			if code := decodeAuthError(t, rr); code != tc.wantCode {
				t.Fatalf("expected %s error, got %v", tc.wantCode, code)
			}
		})
	}
}

func TestRequireFirebaseAuthMissingRoleUsesFallback(t *testing.T) {
	verifier := &stubTokenVerifier{token: customerToken("uid-456", nil)}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if len(identity.Roles) != 1 || identity.Roles[0] != RoleUser {
			t.Fatalf("expected fallback role %q, got %v", RoleUser, identity.Roles)
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer missing-role-token")
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
}

func TestRolesFromClaimsShapes(t *testing.T) {
	tests := []struct {
		name   string
		claims map[string]interface{}
		want   []string
	}{
		{
			name:   "single string",
			claims: map[string]interface{}{"role": " Admin "},
			want:   []string{"admin"},
		},
		{
			name:   "list with duplicates",
			claims: map[string]interface{}{"role": []interface{}{"staff", "Staff", "admin"}},
			want:   []string{"staff", "admin"},
		},
		{
			name:   "grant map keeps only true entries",
			claims: map[string]interface{}{"role": map[string]interface{}{"admin": true, "staff": false}},
			want:   []string{"admin"},
		},
		{
			name:   "unsupported shape",
			claims: map[string]interface{}{"role": 42},
			want:   nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := rolesFromClaims(tc.claims, "role")
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, got)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	if token, ok := extractBearerToken("bearer abc123"); !ok || token != "abc123" {
		t.Fatalf("expected case-insensitive scheme to match, got %q ok=%v", token, ok)
	}
	if _, ok := extractBearerToken("Bearer "); ok {
		t.Fatalf("expected empty token to be rejected")
	}
	if _, ok := extractBearerToken("abc123"); ok {
		t.Fatalf("expected missing scheme to be rejected")
	}
}
