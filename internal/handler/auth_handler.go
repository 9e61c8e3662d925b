// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/manas332/profile-official-sub000/internal/auth"
	"github.com/manas332/profile-official-sub000/internal/middleware"
	"github.com/manas332/profile-official-sub000/internal/model"
	"github.com/manas332/profile-official-sub000/internal/pkce"
)

// コールバックのエラーリダイレクトで使う理由コード
const (
	callbackErrInvalidState   = "invalid_state"
	callbackErrMissingCode    = "missing_code"
	callbackErrExchangeFailed = "token_exchange_failed"
	callbackErrInvalidToken   = "invalid_token"
	callbackErrReconcile      = "reconcile_failed"
	callbackErrSession        = "session_failed"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginOTP(ctx context.Context, email, purpose string) error
	VerifyOTP(ctx context.Context, in auth.VerifyOTPInput) (*auth.SignInResult, error)
	PasswordLogin(ctx context.Context, email, password string) (*auth.SignInResult, error)
	StartFederated() (*auth.FederatedStart, error)
	CompleteFederated(ctx context.Context, code, verifier string) (*auth.SignInResult, error)
	ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (string, error)
}

// SessionManager はセッションCookieの発行・読み取り・破棄を抽象化する。session.Managerが満たす。
type SessionManager interface {
	Create(w http.ResponseWriter, user model.User, token string) (*model.Session, error)
	Read(w http.ResponseWriter, r *http.Request) *model.Session
	Destroy(w http.ResponseWriter)
}

// VerifierStore はstateをキーにPKCE検証子を保持する。pkce.CookieStoreが満たす。
type VerifierStore interface {
	Store(w http.ResponseWriter, state, verifier string)
	Get(r *http.Request, state string) (string, bool)
	Clear(w http.ResponseWriter, state string)
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	BaseURL   string // サインイン成功後のリダイレクト先
	LoginPath string // エラー時のリダイレクト先パス。既定は/login
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service   AuthServiceInterface
	sessions  SessionManager
	verifiers VerifierStore
	config    AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, sessions SessionManager, verifiers VerifierStore, config AuthHandlerConfig) *AuthHandler {
	if config.LoginPath == "" {
		config.LoginPath = "/login"
	}
	return &AuthHandler{
		service:   service,
		sessions:  sessions,
		verifiers: verifiers,
		config:    config,
	}
}

type beginOTPRequest struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type verifyOTPRequest struct {
	Email    string `json:"email"`
	OTP      string `json:"otp"`
	Purpose  string `json:"purpose"`
	Password string `json:"password,omitempty"`
	Name     string `json:"name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
	RedirectURI  string `json:"redirect_uri"`
}

// userResponse はサインイン成功時のレスポンス。
type userResponse struct {
	User *model.User `json:"user"`
}

// sessionResponse はセッション照会のレスポンス。未認証時はuserとexpiresAtがnullになる。
type sessionResponse struct {
	Authenticated bool        `json:"authenticated"`
	User          *model.User `json:"user"`
	ExpiresAt     *int64      `json:"expiresAt"`
}

// tokenErrorResponse はトークン交換失敗時のレスポンス。
// detailsにはIdPが返したJSONをそのまま含める。
type tokenErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// BeginOTP はワンタイムコードを発行してメールで送る。
// POST /api/auth/otp
func (h *AuthHandler) BeginOTP(w http.ResponseWriter, r *http.Request) {
	var req beginOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	if err := h.service.BeginOTP(r.Context(), req.Email, req.Purpose); err != nil {
		// 発行前のアカウント有無チェックはフローの選び直しを促す入力エラーとして返す
		var apiErr *model.APIError
		if errors.As(err, &apiErr) && apiErr.Code == model.ErrCodeAccountNotFound {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Verification code sent.",
	})
}

// VerifyOTP はコードを検証してセッションを発行する。
// POST /api/auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	result, err := h.service.VerifyOTP(r.Context(), auth.VerifyOTPInput{
		Email:    req.Email,
		OTP:      req.OTP,
		Purpose:  req.Purpose,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.respondSignedIn(w, result)
}

// Login はメールアドレスとパスワードでサインインする。
// POST /api/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	result, err := h.service.PasswordLogin(r.Context(), req.Email, req.Password)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.respondSignedIn(w, result)
}

// GoogleLogin はPKCE付きでIdPの認可画面へリダイレクトする。
// GET /api/auth/google
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	start, err := h.service.StartFederated()
	if err != nil {
		slog.Error("failed to start federated sign-in", slog.String("error", err.Error()))
		h.redirectWithError(w, r, callbackErrSession)
		return
	}

	h.verifiers.Store(w, start.State, start.Verifier)
	http.Redirect(w, r, start.URL, http.StatusTemporaryRedirect)
}

// Callback はIdPからのリダイレクトを処理する。
// 失敗はすべてログイン画面への?error=付きリダイレクトで伝える。
// GET /api/auth/callback?code=xxx&state=yyy
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// IdP側のエラー（利用者のキャンセルなど）はそのまま伝える
	if providerErr := q.Get("error"); providerErr != "" {
		if state := q.Get("state"); state != "" {
			h.verifiers.Clear(w, state)
		}
		slog.Warn("identity provider returned an error",
			slog.String("error", providerErr),
			slog.String("description", q.Get("error_description")),
		)
		h.redirectWithError(w, r, providerErr)
		return
	}

	// 保存済みの検証子がないstateは交換を試みない
	state := q.Get("state")
	verifier, ok := h.verifiers.Get(r, state)
	if !ok {
		slog.Warn("no pkce verifier for callback state")
		h.redirectWithError(w, r, callbackErrInvalidState)
		return
	}
	h.verifiers.Clear(w, state)

	code := q.Get("code")
	if code == "" {
		h.redirectWithError(w, r, callbackErrMissingCode)
		return
	}

	result, err := h.service.CompleteFederated(r.Context(), code, verifier)
	if err != nil {
		slog.Error("federated callback failed", slog.String("error", err.Error()))
		h.redirectWithError(w, r, callbackReason(err))
		return
	}

	if _, err := h.sessions.Create(w, *result.User, result.Token); err != nil {
		slog.Error("failed to create session", slog.String("error", err.Error()))
		h.redirectWithError(w, r, callbackErrSession)
		return
	}

	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// Token は認可コードをIDトークンに交換する。client_secretをサーバー側に留めるための中継。
// フォームとJSONの両方を受け付ける。
// POST /api/auth/token
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		if err := r.ParseForm(); err != nil {
			handleServiceError(w, model.NewInvalidRequestError())
			return
		}
		req.Code = r.PostForm.Get("code")
		req.CodeVerifier = r.PostForm.Get("code_verifier")
		req.RedirectURI = r.PostForm.Get("redirect_uri")
	} else if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, model.NewInvalidRequestError())
		return
	}

	if req.Code == "" {
		handleServiceError(w, model.NewMissingFieldError("code"))
		return
	}
	if req.CodeVerifier == "" {
		handleServiceError(w, model.NewMissingFieldError("code_verifier"))
		return
	}

	idToken, err := h.service.ExchangeCode(r.Context(), req.Code, req.CodeVerifier, req.RedirectURI)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"id_token": idToken})
}

// Session は現在のセッションを返す。セッションがなくても200を返す。
// GET /api/auth/session
func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	s := h.sessions.Read(w, r)
	if s == nil {
		writeJSON(w, http.StatusOK, sessionResponse{Authenticated: false})
		return
	}

	user := s.User
	expiresAt := s.ExpiresAt
	writeJSON(w, http.StatusOK, sessionResponse{
		Authenticated: true,
		User:          &user,
		ExpiresAt:     &expiresAt,
	})
}

// Logout はセッションCookieを削除する。何度呼んでも成功する。
// POST /api/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Destroy(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *AuthHandler) respondSignedIn(w http.ResponseWriter, result *auth.SignInResult) {
	if _, err := h.sessions.Create(w, *result.User, result.Token); err != nil {
		slog.Error("failed to create session",
			slog.String("user_id", result.User.ID),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userResponse{User: result.User})
}

// redirectWithError はログイン画面へ?error=reason付きでリダイレクトする。
func (h *AuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, reason string) {
	target := strings.TrimRight(h.config.BaseURL, "/") + h.config.LoginPath + "?error=" + url.QueryEscape(reason)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

// callbackReason はフェデレーション失敗の理由コードを返す。
func callbackReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrExchangeFailed):
		return callbackErrExchangeFailed
	case errors.Is(err, auth.ErrInvalidIdentity):
		return callbackErrInvalidToken
	case errors.Is(err, auth.ErrReconcileFailed):
		return callbackErrReconcile
	default:
		return callbackErrSession
	}
}

// writeTokenError はトークン交換の失敗をIdPの応答ステータスで返す。
// 応答を受け取れなかった場合は502、IDトークンの検証に失敗した場合は401。
func writeTokenError(w http.ResponseWriter, err error) {
	var te *pkce.TokenExchangeError
	if !errors.As(err, &te) {
		writeJSON(w, http.StatusUnauthorized, tokenErrorResponse{
			Error:   callbackErrInvalidToken,
			Message: "The identity token could not be verified.",
		})
		return
	}

	status := te.Status
	if status < http.StatusBadRequest {
		status = http.StatusBadGateway
	}
	code := callbackErrExchangeFailed
	if upstream, ok := te.Body["error"].(string); ok && upstream != "" {
		code = upstream
	}
	writeJSON(w, status, tokenErrorResponse{
		Error:   code,
		Message: "The authorization code could not be exchanged.",
		Details: te.Body,
	})
}
