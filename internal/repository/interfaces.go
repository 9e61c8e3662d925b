// Package repository はデータ永続化のインターフェースを定義する。
//
// 実装はドライバ固有のエラーを errors.go のエラー種別に変換して返す。
// 上位層はドライバのエラー形状を直接検査しない。
package repository

import (
	"context"
	"time"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
// 複数レコードにまたがるトランザクションは持たない。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
	// 同一メールに複数レコードがある場合は最も古いレコードを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// Create はユーザーを作成する。IDが既に存在する場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile はname、photo_url、updated_atを更新する。
	// id、email、provider、created_atは変更しない。
	UpdateProfile(ctx context.Context, user *model.User) error
}

// OTPRepository はワンタイムコードの永続化インターフェース。
type OTPRepository interface {
	// Put はメールアドレスをキーにOTPを保存する。既存のレコードは上書きされる。
	Put(ctx context.Context, record *model.OTPRecord) error

	// Get はメールアドレスのOTPを取得する。見つからない場合はnilを返す。
	Get(ctx context.Context, email string) (*model.OTPRecord, error)

	// Delete はメールアドレスのOTPを削除する。存在しなくてもエラーにしない。
	Delete(ctx context.Context, email string) error

	// DeleteExpired はbefore時点で期限切れのOTPを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// CredentialRepository はローカルIdPのパスワード資格情報の永続化インターフェース。
type CredentialRepository interface {
	// FindByEmail はメールアドレスの資格情報を取得する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.Credential, error)

	// Create は資格情報を作成する。メールが既に存在する場合はErrAlreadyExistsを返す。
	Create(ctx context.Context, cred *model.Credential) error
}
