package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/manas332/profile-official-sub000/internal/model"
)

const otpsTable = "otps"

// PostgresOTPRepo はPostgreSQLを使用したOTPリポジトリ。
type PostgresOTPRepo struct {
	db *sql.DB
}

// NewPostgresOTPRepo はPostgresOTPRepoを生成する。
func NewPostgresOTPRepo(db *sql.DB) *PostgresOTPRepo {
	return &PostgresOTPRepo{db: db}
}

// Put はOTPを保存する。同じメールの既存レコードは上書きされる（後勝ち）。
func (r *PostgresOTPRepo) Put(ctx context.Context, record *model.OTPRecord) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO otps (email, otp, purpose, expires_at, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (email) DO UPDATE
		 SET otp = EXCLUDED.otp,
		     purpose = EXCLUDED.purpose,
		     expires_at = EXCLUDED.expires_at,
		     created_at = EXCLUDED.created_at`,
		record.Email, record.OTP, string(record.Purpose), record.ExpiresAt, record.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put otp: %w", classify(err, otpsTable))
	}
	return nil
}

// Get はメールアドレスのOTPを取得する。見つからない場合はnilを返す。
// 期限切れの判定は呼び出し側が行う。
func (r *PostgresOTPRepo) Get(ctx context.Context, email string) (*model.OTPRecord, error) {
	record := &model.OTPRecord{}
	var purpose string
	err := r.db.QueryRowContext(ctx,
		`SELECT email, otp, purpose, expires_at, created_at FROM otps WHERE email = $1`,
		email,
	).Scan(&record.Email, &record.OTP, &purpose, &record.ExpiresAt, &record.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get otp: %w", classify(err, otpsTable))
	}
	record.Purpose = model.OTPPurpose(purpose)
	return record, nil
}

// Delete はメールアドレスのOTPを削除する。
func (r *PostgresOTPRepo) Delete(ctx context.Context, email string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE email = $1`, email)
	if err != nil {
		return fmt.Errorf("failed to delete otp: %w", classify(err, otpsTable))
	}
	return nil
}

// DeleteExpired はbeforeより前に失効したOTPを削除する。
func (r *PostgresOTPRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM otps WHERE expires_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired otps: %w", classify(err, otpsTable))
	}
	return result.RowsAffected()
}

// compile-time interface check
var _ OTPRepository = (*PostgresOTPRepo)(nil)
