package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// newCSRFTestHandler はCSRFミドルウェアでラップした後続ハンドラーと呼び出し有無を返す。
func newCSRFTestHandler(config CSRFConfig) (http.Handler, *bool) {
	called := false
	h := NewCSRFMiddleware(config)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called
}

func TestCSRFMiddleware_SafeMethods_PassThroughAndIssueCookie(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			h, called := newCSRFTestHandler(CSRFConfig{CookieSecure: true, CookieDomain: "example.com"})

			req := httptest.NewRequest(method, "/api/auth/session", nil)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if !*called {
				t.Fatalf("handler should be called for %s", method)
			}
			var cookie *http.Cookie
			for _, c := range w.Result().Cookies() {
				if c.Name == csrfCookieName {
					cookie = c
				}
			}
			if cookie == nil {
				t.Fatal("expected csrf_token cookie to be issued")
			}
			if len(cookie.Value) != 43 {
				t.Errorf("token length = %d, want 43 base64url chars", len(cookie.Value))
			}
			if cookie.HttpOnly {
				t.Error("csrf cookie must be readable by the frontend")
			}
			if !cookie.Secure || cookie.Domain != "example.com" || cookie.SameSite != http.SameSiteLaxMode {
				t.Errorf("cookie attributes = %+v", cookie)
			}
		})
	}
}

func TestCSRFMiddleware_SafeMethod_KeepsExistingCookie(t *testing.T) {
	h, _ := newCSRFTestHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if len(w.Result().Cookies()) != 0 {
		t.Errorf("existing token should not be replaced, got %v", w.Result().Cookies())
	}
}

func TestCSRFMiddleware_StateChangingRequests(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		cookie     string
		header     string
		wantStatus int
	}{
		{"POST valid", http.MethodPost, "tok", "tok", http.StatusOK},
		{"PUT valid", http.MethodPut, "tok", "tok", http.StatusOK},
		{"POST no cookie", http.MethodPost, "", "tok", http.StatusForbidden},
		{"POST no header", http.MethodPost, "tok", "", http.StatusForbidden},
		{"POST mismatch", http.MethodPost, "tok", "other", http.StatusForbidden},
		{"PATCH no token", http.MethodPatch, "", "", http.StatusForbidden},
		{"DELETE no token", http.MethodDelete, "", "", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, called := newCSRFTestHandler(CSRFConfig{})

			req := httptest.NewRequest(tt.method, "/api/auth/otp", nil)
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
			}
			if tt.header != "" {
				req.Header.Set(csrfHeaderName, tt.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if *called != (tt.wantStatus == http.StatusOK) {
				t.Errorf("handler called = %v, want %v", *called, tt.wantStatus == http.StatusOK)
			}
			if tt.wantStatus != http.StatusForbidden {
				return
			}

			var body ErrorResponseBody
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode error body: %v", err)
			}
			if body.Error != model.ErrCodeCSRFFailed {
				t.Errorf("error = %q, want %q", body.Error, model.ErrCodeCSRFFailed)
			}
		})
	}
}

func TestCSRFTokenHandler_IssuesToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}

	var cookieValue string
	for _, c := range w.Result().Cookies() {
		if c.Name == csrfCookieName {
			cookieValue = c.Value
		}
	}
	if body.Token == "" || body.Token != cookieValue {
		t.Errorf("token = %q, cookie = %q, want equal and non-empty", body.Token, cookieValue)
	}
}

func TestCSRFTokenHandler_ReturnsExistingToken(t *testing.T) {
	h := NewCSRFTokenHandler(CSRFConfig{})

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Token != "existing" {
		t.Errorf("token = %q, want %q", body.Token, "existing")
	}
	if len(w.Result().Cookies()) != 0 {
		t.Error("existing cookie should not be reissued")
	}
}
