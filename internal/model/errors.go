// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeInvalidEmail       = "INVALID_EMAIL"
	ErrCodeInvalidOTPFormat   = "INVALID_OTP_FORMAT"
	ErrCodeInvalidPurpose     = "INVALID_PURPOSE"
	ErrCodeWeakPassword       = "WEAK_PASSWORD"
	ErrCodeMissingField       = "MISSING_FIELD"
	ErrCodeAccountExists      = "ACCOUNT_EXISTS"
	ErrCodeAccountNotFound    = "ACCOUNT_NOT_FOUND"
	ErrCodeInvalidCredentials = "INVALID_CREDENTIALS"
	ErrCodeInvalidOTP         = "INVALID_OTP"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeOTPDeliveryFailed  = "OTP_DELIVERY_FAILED"
	ErrCodeUpstream           = "UPSTREAM_ERROR"
	ErrCodeStoreNotReady      = "STORE_NOT_READY"
	ErrCodeInternal           = "INTERNAL_ERROR"
	ErrCodeCSRFFailed         = "CSRF_FAILED"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "The request body could not be parsed.",
		Category: "validation",
		Action:   "Send a valid JSON request body.",
	}
}

// NewInvalidEmailError はメールアドレス形式エラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "Please enter a valid email address.",
		Category: "validation",
		Action:   "Check the email address and try again.",
	}
}

// NewInvalidOTPFormatError はOTPの桁数・形式エラーを生成する。
func NewInvalidOTPFormatError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOTPFormat,
		Message:  "The verification code must be 6 digits.",
		Category: "validation",
		Action:   "Enter the 6-digit code from the email we sent you.",
	}
}

// NewInvalidPurposeError はOTP用途の指定エラーを生成する。
func NewInvalidPurposeError(purpose string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPurpose,
		Message:  fmt.Sprintf("Unknown verification purpose: %q", purpose),
		Category: "validation",
		Action:   "Use either signup or login.",
	}
}

// NewWeakPasswordError はパスワード要件エラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("Password must be at least %d characters.", minLength),
		Category: "validation",
		Action:   "Choose a longer password.",
	}
}

// NewMissingFieldError は必須項目の欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("%s is required.", field),
		Category: "validation",
		Action:   "Fill in all required fields.",
	}
}

// NewAccountExistsError はサインアップ時に既存アカウントがある場合のエラーを生成する。
func NewAccountExistsError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountExists,
		Message:  "An account with this email already exists.",
		Category: "auth",
		Action:   "Log in instead of signing up.",
	}
}

// NewAccountNotFoundError はログイン時にアカウントがない場合のエラーを生成する。
func NewAccountNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeAccountNotFound,
		Message:  "No account found for this email.",
		Category: "auth",
		Action:   "Sign up to create an account.",
	}
}

// NewInvalidCredentialsError は認証情報の誤りを表すエラーを生成する。
// どの要素が誤っていたかは明かさない。
func NewInvalidCredentialsError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredentials,
		Message:  "Invalid email or password.",
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewInvalidOTPError は無効または期限切れのOTPエラーを生成する。
func NewInvalidOTPError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidOTP,
		Message:  "The verification code is invalid or has expired.",
		Category: "auth",
		Action:   "Request a new code and try again.",
	}
}

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Authentication required.",
		Category: "auth",
		Action:   "Please log in.",
	}
}

// NewOTPDeliveryFailedError はOTP送信失敗エラーを生成する。
// コード自体は保存済みのため有効なままである。
func NewOTPDeliveryFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeOTPDeliveryFailed,
		Message:  "We could not send the verification email.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewUpstreamError は外部サービス呼び出し失敗エラーを生成する。
func NewUpstreamError(service string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstream,
		Message:  fmt.Sprintf("%s is not responding.", service),
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewStoreNotReadyError はテーブル未作成などストレージ未準備のエラーを生成する。
func NewStoreNotReadyError(resource string) *APIError {
	return &APIError{
		Code:     ErrCodeStoreNotReady,
		Message:  fmt.Sprintf("Storage resource %q is missing.", resource),
		Category: "system",
		Action:   "Run the migrate command to create the required tables.",
	}
}

// NewInternalError は内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Something went wrong.",
		Category: "system",
		Action:   "Please try again in a moment.",
	}
}

// NewCSRFError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFFailed,
		Message:  "CSRF token validation failed.",
		Category: "auth",
		Action:   "Reload the page and try again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests. Please try again later.",
		Category: "system",
		Action:   "Please wait and retry after the specified time.",
	}
}
