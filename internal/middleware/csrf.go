package middleware

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// ダブルサブミット用のCookieとヘッダー。CookieはフロントエンドのJSが読むためHttpOnlyにしない。
const (
	csrfCookieName = "csrf_token"
	csrfHeaderName = "X-CSRF-Token"
	csrfTokenBytes = 32
	csrfCookieTTL  = 24 * 60 * 60
)

var (
	errCSRFCookieMissing = errors.New("csrf cookie missing")
	errCSRFHeaderMissing = errors.New("csrf header missing")
	errCSRFMismatch      = errors.New("csrf token mismatch")
)

// CSRFConfig はCSRFトークンCookieの属性。
type CSRFConfig struct {
	CookieSecure bool
	CookieDomain string
}

// currentToken はリクエストに付いているトークンを返す。なければ新しく発行してCookieに載せる。
func (c CSRFConfig) currentToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if cookie, err := r.Cookie(csrfCookieName); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}

	buf := make([]byte, csrfTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/",
		Domain:   c.CookieDomain,
		MaxAge:   csrfCookieTTL,
		Secure:   c.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

// checkCSRF はCookieとX-CSRF-Tokenヘッダーが定数時間比較で一致するかを調べる。
func checkCSRF(r *http.Request) error {
	cookie, err := r.Cookie(csrfCookieName)
	if err != nil || cookie.Value == "" {
		return errCSRFCookieMissing
	}
	header := r.Header.Get(csrfHeaderName)
	if header == "" {
		return errCSRFHeaderMissing
	}
	if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
		return errCSRFMismatch
	}
	return nil
}

// NewCSRFMiddleware はダブルサブミット方式のCSRF検証を行う。
// GET・HEAD・OPTIONSは検証せず、トークンCookieがなければ発行する。
// それ以外はCSRF_FAILEDの403で拒否する。
func NewCSRFMiddleware(config CSRFConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				if _, err := config.currentToken(w, r); err != nil {
					slog.Error("failed to issue CSRF token", slog.Any("error", err))
				}
				next.ServeHTTP(w, r)
				return
			}

			if err := checkCSRF(r); err != nil {
				slog.Warn("CSRF check failed",
					slog.String("reason", err.Error()),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusForbidden, model.NewCSRFError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewCSRFTokenHandler はGET /api/csrf-token のハンドラーで、{"token": ...} を返す。
// Cookieに既存のトークンがあればそれを返す。
func NewCSRFTokenHandler(config CSRFConfig) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := config.currentToken(w, r)
		if err != nil {
			slog.Error("failed to issue CSRF token", slog.Any("error", err))
			WriteInternalServerError(w)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Token string `json:"token"`
		}{token})
	})
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}
