package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORSMiddleware(t *testing.T) {
	tests := []struct {
		name          string
		allowed       string
		origin        string
		method        string
		preflight     bool
		wantStatus    int
		wantAllowed   string
		wantNextCalls bool
	}{
		{"matching origin", "http://localhost:3000", "http://localhost:3000", http.MethodPost, false, http.StatusOK, "http://localhost:3000", true},
		{"trailing slash in config", "http://localhost:3000/", "http://localhost:3000", http.MethodGet, false, http.StatusOK, "http://localhost:3000", true},
		{"preflight", "http://localhost:3000", "http://localhost:3000", http.MethodOptions, true, http.StatusNoContent, "http://localhost:3000", false},
		{"foreign origin", "http://localhost:3000", "https://evil.example.com", http.MethodPost, false, http.StatusOK, "", true},
		{"foreign preflight", "http://localhost:3000", "https://evil.example.com", http.MethodOptions, true, http.StatusOK, "", true},
		{"no origin header", "http://localhost:3000", "", http.MethodGet, false, http.StatusOK, "", true},
		{"cors disabled", "", "http://localhost:3000", http.MethodGet, false, http.StatusOK, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewCORSMiddleware(tt.allowed)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(tt.method, "/api/auth/otp", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if called != tt.wantNextCalls {
				t.Errorf("next called = %v, want %v", called, tt.wantNextCalls)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllowed {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, tt.wantAllowed)
			}
			if got := w.Header().Get("Vary"); got != "Origin" {
				t.Errorf("Vary = %q, want Origin", got)
			}
			if tt.wantAllowed == "" {
				return
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
				t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
			}
			if got := w.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-CSRF-Token" {
				t.Errorf("Access-Control-Allow-Headers = %q", got)
			}
		})
	}
}
