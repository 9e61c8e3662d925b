// Package model はドメインモデルを定義する。
package model

import "time"

// Provider はアカウントが最初に確立された認証方法を表す。
type Provider string

const (
	// ProviderGoogle はGoogleフェデレーションで作成されたアカウント。
	ProviderGoogle Provider = "google"
	// ProviderEmail はメールアドレス（パスワード/OTP）で作成されたアカウント。
	ProviderEmail Provider = "email"
)

// User はサービス利用ユーザーを表す。
// IDはIdPのsubjectで、一度作成されたレコードのIDは付け替えない。
// Providerは作成時の値のまま更新しない。
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	PhotoURL  string    `json:"photoURL,omitempty"`
	Provider  Provider  `json:"provider"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Session はCookieで運ばれるログインセッションを表す。
// Userは発行時点のスナップショットであり、以降のプロフィール更新は反映されない。
type Session struct {
	User      User   `json:"user"`
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expiresAt"` // epoch millis
}

// Expired はnowの時点でセッションが失効しているかを返す。
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt <= now.UnixMilli()
}

// OTPPurpose はワンタイムコードの用途。
type OTPPurpose string

const (
	OTPPurposeSignup OTPPurpose = "signup"
	OTPPurposeLogin  OTPPurpose = "login"
)

// Valid は用途が既知の値かを返す。
func (p OTPPurpose) Valid() bool {
	return p == OTPPurposeSignup || p == OTPPurposeLogin
}

// OTPRecord はメールアドレスごとに1件だけ存在するワンタイムコード。
type OTPRecord struct {
	Email     string
	OTP       string
	Purpose   OTPPurpose
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Credential はローカルIdPが保持するパスワード資格情報。
type Credential struct {
	Email        string
	Subject      string
	Name         string
	PasswordHash []byte
	CreatedAt    time.Time
}
