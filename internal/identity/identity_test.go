package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestVerifyRoundTrip(t *testing.T) {
	v := NewVerifier("secret", "auth")
	token, err := v.Issue("user-1", "tenant-1", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.TenantID != "tenant-1" {
		t.Errorf("unexpected claims %+v", claims)
	}
}

func TestVerifyRejects(t *testing.T) {
	v := NewVerifier("secret", "auth")

	expired, _ := v.Issue("u", "t", -time.Minute)
	wrongKey, _ := NewVerifier("other", "auth").Issue("u", "t", time.Hour)
	wrongIssuer, _ := NewVerifier("secret", "elsewhere").Issue("u", "t", time.Hour)
	noTenant, _ := v.Issue("u", "", time.Hour)

	tests := map[string]string{
		"expired":      expired,
		"wrong key":    wrongKey,
		"wrong issuer": wrongIssuer,
		"no tenant":    noTenant,
		"garbage":      "not.a.jwt",
		"empty":        "",
	}
	for name, token := range tests {
		if _, err := v.Verify(token); err != ErrInvalidToken {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}

func TestMiddleware(t *testing.T) {
	v := NewVerifier("secret", "")
	var gotTenant, gotUser string
	handler := Middleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant = TenantIDFromContext(r.Context())
		gotUser = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: expected 401, got %d", w.Code)
	}

	token, _ := v.Issue("user-1", "tenant-1", time.Hour)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("valid token: expected 204, got %d", w.Code)
	}
	if gotTenant != "tenant-1" || gotUser != "user-1" {
		t.Errorf("context not populated: tenant=%q user=%q", gotTenant, gotUser)
	}
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	if got := IPFromRequest(req); got != "10.0.0.1" {
		t.Errorf("expected 10.0.0.1, got %s", got)
	}
}
