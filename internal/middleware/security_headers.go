package middleware

import "net/http"

// hstsMaxAge は1年。
const hstsMaxAge = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// 認証系のレスポンスはユーザー固有のためキャッシュさせない。
// secureがtrueの場合（HTTPS配信時）はStrict-Transport-Securityも付与する。
func NewSecurityHeadersMiddleware(secure bool) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			h.Set("Cache-Control", "no-store")
			h.Set("Pragma", "no-cache")
			if secure {
				h.Set("Strict-Transport-Security", hstsMaxAge)
			}
			next.ServeHTTP(w, r)
		})
	}
}
