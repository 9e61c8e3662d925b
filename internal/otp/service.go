// Package otp はメールアドレスに紐づくワンタイムコードの発行と検証を行う。
//
// 状態遷移はメールごとに NONE → ISSUED → {CONSUMED | EXPIRED}。
// 同一メールへの発行は後勝ちで上書きされる。
package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/manas332/profile-official-sub000/internal/model"
	"github.com/manas332/profile-official-sub000/internal/repository"
)

const (
	// DefaultTTL はコードの有効期間。
	DefaultTTL = 10 * time.Minute

	// CodeLength はコードの桁数。
	CodeLength = 6

	codeMin = 100000
	codeMax = 999999
)

// ErrDeliveryFailed はコードの保存には成功したが配信に失敗したことを示す。
// 保存済みのコードは取り消されず、有効なまま残る。
var ErrDeliveryFailed = errors.New("otp: delivery failed")

// Notifier はコードを利用者へ帯域外で届ける。
type Notifier interface {
	Notify(ctx context.Context, email, code string, purpose model.OTPPurpose) error
}

// Result は検証結果。Validがfalseの場合Purposeは空。
type Result struct {
	Valid   bool
	Purpose model.OTPPurpose
}

// Service はOTPの発行・検証・削除を行う。
type Service struct {
	repo     repository.OTPRepository
	notifier Notifier
	ttl      time.Duration
	now      func() time.Time
	generate func() (string, error)
}

// Option はServiceの設定を変更する。
type Option func(*Service)

// WithTTL は有効期間を変更する。
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithGenerator はコード生成関数を差し替える。
func WithGenerator(gen func() (string, error)) Option {
	return func(s *Service) { s.generate = gen }
}

// NewService はServiceを生成する。
func NewService(repo repository.OTPRepository, notifier Notifier, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		notifier: notifier,
		ttl:      DefaultTTL,
		now:      time.Now,
		generate: GenerateCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GenerateCode は[100000, 999999]から一様に選んだ6桁のコードを返す。
func GenerateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeMax-codeMin+1))
	if err != nil {
		return "", fmt.Errorf("failed to generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeMin), nil
}

// Issue はコードを生成・保存し、Notifierで配信する。
// 配信失敗時はErrDeliveryFailedを返すが、コードは保存されたまま有効である。
func (s *Service) Issue(ctx context.Context, email string, purpose model.OTPPurpose) (string, error) {
	code, err := s.generate()
	if err != nil {
		return "", err
	}

	now := s.now()
	record := &model.OTPRecord{
		Email:     email,
		OTP:       code,
		Purpose:   purpose,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Put(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store otp: %w", err)
	}

	if err := s.notifier.Notify(ctx, email, code, purpose); err != nil {
		slog.Error("otp delivery failed",
			slog.String("email", email),
			slog.String("purpose", string(purpose)),
			slog.String("error", err.Error()),
		)
		return code, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}

	return code, nil
}

// Verify はcandidateが保存済みの未失効コードと一致するかを返す。
// 期限切れのレコードは削除される。一致してもレコードは削除しない。
func (s *Service) Verify(ctx context.Context, email, candidate string) (Result, error) {
	record, err := s.repo.Get(ctx, email)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load otp: %w", err)
	}
	if record == nil {
		return Result{}, nil
	}

	if !s.now().Before(record.ExpiresAt) {
		s.Delete(ctx, email)
		return Result{}, nil
	}

	if subtle.ConstantTimeCompare([]byte(record.OTP), []byte(candidate)) != 1 {
		return Result{}, nil
	}

	return Result{Valid: true, Purpose: record.Purpose}, nil
}

// Delete はコードを削除する。失敗はログに記録するのみで呼び出し元には返さない。
func (s *Service) Delete(ctx context.Context, email string) {
	if err := s.repo.Delete(ctx, email); err != nil {
		slog.Warn("failed to delete otp",
			slog.String("email", email),
			slog.String("error", err.Error()),
		)
	}
}
