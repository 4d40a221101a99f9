package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		wantOrigin string
		wantCreds  string
		method     string
		wantStatus int
	}{
		{"explicit origin", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com", "true", http.MethodGet, http.StatusOK},
		{"wildcard has no credentials", []string{"*"}, "https://other.example.com", "https://other.example.com", "", http.MethodGet, http.StatusOK},
		{"unknown origin", []string{"https://app.example.com"}, "https://evil.example.com", "", "", http.MethodGet, http.StatusOK},
		{"preflight", []string{"https://app.example.com"}, "https://app.example.com", "https://app.example.com", "true", http.MethodOptions, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()

			CORS(tt.allowed)(next).ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %q, want %q", got, tt.wantCreds)
			}
		})
	}
}
