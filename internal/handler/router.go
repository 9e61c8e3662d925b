package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/manas332/profile-official-sub000/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 認証
	AuthService AuthServiceInterface
	Sessions    SessionManager
	Verifiers   VerifierStore
	AuthConfig  AuthHandlerConfig

	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CSRF              middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter

	// 運用エンドポイント。nilの場合はルートを登録しない。
	HealthChecker  Pinger
	MetricsHandler http.Handler
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → SecurityHeaders → CORS
//
// /api/auth/* の状態を変更するルートには RateLimit → CSRF を追加で適用する。
// IdPからのリダイレクトを受けるGETルートはCSRF検証の対象外。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.CSRF.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Sessions, deps.Verifiers, deps.AuthConfig)

	// --- 運用エンドポイント ---
	if deps.HealthChecker != nil {
		r.Method(http.MethodGet, "/health", NewHealthHandler(deps.HealthChecker))
	}
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF))

	// --- 認証ルート ---
	r.Route("/api/auth", func(r chi.Router) {
		// フェデレーションのリダイレクトとセッション照会
		r.Get("/google", authHandler.GoogleLogin)
		r.Get("/callback", authHandler.Callback)
		r.Get("/session", authHandler.Session)

		// 状態を変更するルート: RateLimit → CSRF
		r.Group(func(r chi.Router) {
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.AuthMiddleware())
			}
			r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

			r.Post("/otp", authHandler.BeginOTP)
			r.Post("/otp/verify", authHandler.VerifyOTP)
			r.Post("/login", authHandler.Login)
			r.Post("/token", authHandler.Token)
			r.Post("/logout", authHandler.Logout)
		})
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(deps.Sessions))

		r.Get("/api/account", Account)
	})

	return r
}
