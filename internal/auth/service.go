// Package auth はサインインフロー（パスワード、OTP、フェデレーション）と
// 永続ユーザーとの照合を提供する。
//
// 各フローはIDトークンを得た後、token.DecodeUserで正規化し、Reconcilerで
// 永続ユーザーを確定させる。セッションの発行はハンドラー層が行う。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/manas332/profile-official-sub000/internal/identity"
	"github.com/manas332/profile-official-sub000/internal/metrics"
	"github.com/manas332/profile-official-sub000/internal/model"
	"github.com/manas332/profile-official-sub000/internal/otp"
	"github.com/manas332/profile-official-sub000/internal/pkce"
	"github.com/manas332/profile-official-sub000/internal/repository"
	"github.com/manas332/profile-official-sub000/internal/token"
)

// フェデレーションのコールバックで区別する失敗。errors.Isで判定する。
var (
	ErrExchangeFailed  = errors.New("auth: token exchange failed")
	ErrInvalidIdentity = errors.New("auth: invalid identity token")
	ErrReconcileFailed = errors.New("auth: user reconciliation failed")
)

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// OTPService はワンタイムコードの発行と検証を抽象化する。otp.Serviceが満たす。
type OTPService interface {
	Issue(ctx context.Context, email string, purpose model.OTPPurpose) (string, error)
	Verify(ctx context.Context, email, candidate string) (otp.Result, error)
	Delete(ctx context.Context, email string)
}

// IdentityProvider はパスワード資格情報とIDトークン発行を抽象化する。
// identity.LocalProviderが満たす。
type IdentityProvider interface {
	SignUp(ctx context.Context, email, password, name string) (*model.Credential, error)
	Authenticate(ctx context.Context, email, password string) (string, error)
	IssueToken(ctx context.Context, email string) (string, error)
}

// CodeExchanger は認可コードフローを抽象化する。pkce.Exchangerが満たす。
type CodeExchanger interface {
	AuthCodeURL(state, challenge string) string
	RedirectURI() string
	ExchangeCodeForTokens(ctx context.Context, code, verifier, redirectURI string) (string, error)
}

// Deps はServiceの依存関係。MetricsはnilならNopを使う。
type Deps struct {
	Users      repository.UserRepository
	OTP        OTPService
	Identity   IdentityProvider
	Exchanger  CodeExchanger
	Reconciler *Reconciler
	Metrics    metrics.AuthMetrics
}

// Service はサインインに関するビジネスロジックを提供する。
type Service struct {
	users      repository.UserRepository
	otp        OTPService
	identity   IdentityProvider
	exchanger  CodeExchanger
	reconciler *Reconciler
	metrics    metrics.AuthMetrics
	now        func() time.Time
}

// NewService はServiceを生成する。
func NewService(deps Deps) *Service {
	m := deps.Metrics
	if m == nil {
		m = metrics.Nop{}
	}
	return &Service{
		users:      deps.Users,
		otp:        deps.OTP,
		identity:   deps.Identity,
		exchanger:  deps.Exchanger,
		reconciler: deps.Reconciler,
		metrics:    m,
		now:        time.Now,
	}
}

// SignInResult はサインイン成功時の照合済みユーザーとIDトークン。
type SignInResult struct {
	User  *model.User
	Token string
}

// VerifyOTPInput はOTP検証の入力。PasswordとNameはsignup時のみ使う。
type VerifyOTPInput struct {
	Email    string
	OTP      string
	Purpose  string
	Password string
	Name     string
}

// FederatedStart はフェデレーションフロー開始時に生成した値。
// Verifierはクライアント側にstateをキーとして保存する。
type FederatedStart struct {
	State    string
	Verifier string
	URL      string
}

// BeginOTP は入力を検証し、コードを発行して配信する。
// signupで既存ユーザーがいる場合、loginでユーザーがいない場合は発行しない。
func (s *Service) BeginOTP(ctx context.Context, rawEmail, rawPurpose string) error {
	email, apiErr := normalizeEmail(rawEmail)
	if apiErr != nil {
		return apiErr
	}
	purpose, apiErr := parsePurpose(rawPurpose)
	if apiErr != nil {
		return apiErr
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return storeFailure("failed to look up user for otp", err)
	}
	if purpose == model.OTPPurposeSignup && existing != nil {
		return model.NewAccountExistsError()
	}
	if purpose == model.OTPPurposeLogin && existing == nil {
		return model.NewAccountNotFoundError()
	}

	_, err = s.otp.Issue(ctx, email, purpose)
	if errors.Is(err, otp.ErrDeliveryFailed) {
		s.metrics.RecordOTPIssued(string(purpose), false)
		return model.NewOTPDeliveryFailedError()
	}
	if err != nil {
		return storeFailure("failed to issue otp", err)
	}

	s.metrics.RecordOTPIssued(string(purpose), true)
	slog.Info("otp issued",
		slog.String("email", email),
		slog.String("purpose", string(purpose)),
	)
	return nil
}

// VerifyOTP はコードを検証し、用途に応じてアカウント作成またはトークン発行を行う。
// 成功時はコードを削除する。
func (s *Service) VerifyOTP(ctx context.Context, in VerifyOTPInput) (result *SignInResult, err error) {
	defer func() { s.recordSignIn(metrics.MethodOTP, err) }()

	email, apiErr := normalizeEmail(in.Email)
	if apiErr != nil {
		return nil, apiErr
	}
	if !otpPattern.MatchString(in.OTP) {
		return nil, model.NewInvalidOTPFormatError()
	}
	purpose, apiErr := parsePurpose(in.Purpose)
	if apiErr != nil {
		return nil, apiErr
	}
	if purpose == model.OTPPurposeSignup && len(in.Password) < identity.MinPasswordLength {
		return nil, model.NewWeakPasswordError(identity.MinPasswordLength)
	}

	verified, err := s.otp.Verify(ctx, email, in.OTP)
	if err != nil {
		return nil, storeFailure("failed to verify otp", err)
	}
	valid := verified.Valid && verified.Purpose == purpose
	s.metrics.RecordOTPVerified(valid)
	if !valid {
		return nil, model.NewInvalidOTPError()
	}

	if purpose == model.OTPPurposeSignup {
		if _, err := s.identity.SignUp(ctx, email, in.Password, in.Name); err != nil {
			return nil, identityFailure("failed to sign up", err)
		}
	}

	idToken, err := s.identity.IssueToken(ctx, email)
	if err != nil {
		return nil, identityFailure("failed to issue identity token", err)
	}
	s.otp.Delete(ctx, email)

	return s.signIn(ctx, idToken)
}

// PasswordLogin はメールアドレスとパスワードでサインインする。
func (s *Service) PasswordLogin(ctx context.Context, rawEmail, password string) (result *SignInResult, err error) {
	defer func() { s.recordSignIn(metrics.MethodPassword, err) }()

	email, apiErr := normalizeEmail(rawEmail)
	if apiErr != nil {
		return nil, apiErr
	}
	if password == "" {
		return nil, model.NewMissingFieldError("password")
	}

	idToken, err := s.identity.Authenticate(ctx, email, password)
	if err != nil {
		return nil, identityFailure("failed to authenticate", err)
	}
	return s.signIn(ctx, idToken)
}

// StartFederated はstateとPKCEのペアを生成し、IdPの認可URLを返す。
func (s *Service) StartFederated() (*FederatedStart, error) {
	state, err := pkce.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state: %w", err)
	}
	verifier := pkce.GenerateVerifier()
	return &FederatedStart{
		State:    state,
		Verifier: verifier,
		URL:      s.exchanger.AuthCodeURL(state, pkce.GenerateChallenge(verifier)),
	}, nil
}

// CompleteFederated は認可コードをIDトークンに交換し、ユーザーを照合する。
// 失敗はErrExchangeFailed、ErrInvalidIdentity、ErrReconcileFailedのいずれかでラップする。
func (s *Service) CompleteFederated(ctx context.Context, code, verifier string) (result *SignInResult, err error) {
	defer func() { s.recordSignIn(metrics.MethodGoogle, err) }()

	idToken, err := s.ExchangeCode(ctx, code, verifier, s.exchanger.RedirectURI())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExchangeFailed, err)
	}

	incoming, err := token.DecodeUser(idToken, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidIdentity, err)
	}

	user, err := s.reconciler.Reconcile(ctx, incoming)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReconcileFailed, err)
	}
	return &SignInResult{User: user, Token: idToken}, nil
}

// ExchangeCode は認可コードをIDトークンに交換し、結果と所要時間を記録する。
// エラーはpkce.TokenExchangeErrorを含み得る。
func (s *Service) ExchangeCode(ctx context.Context, code, verifier, redirectURI string) (string, error) {
	start := time.Now()
	idToken, err := s.exchanger.ExchangeCodeForTokens(ctx, code, verifier, redirectURI)
	s.metrics.RecordTokenExchange(exchangeStatus(err), time.Since(start))
	if err != nil {
		slog.Error("token exchange failed", slog.String("error", err.Error()))
		return "", err
	}
	return idToken, nil
}

// signIn はIDトークンを正規化し、永続ユーザーと照合する。
func (s *Service) signIn(ctx context.Context, idToken string) (*SignInResult, error) {
	incoming, err := token.DecodeUser(idToken, s.now())
	if err != nil {
		slog.Error("failed to decode identity token", slog.String("error", err.Error()))
		return nil, model.NewInternalError()
	}

	user, err := s.reconciler.Reconcile(ctx, incoming)
	if err != nil {
		return nil, storeFailure("failed to reconcile user", err)
	}
	return &SignInResult{User: user, Token: idToken}, nil
}

func (s *Service) recordSignIn(method string, err error) {
	outcome := metrics.OutcomeSuccess
	if err != nil {
		outcome = metrics.OutcomeFailure
	}
	s.metrics.RecordSignIn(method, outcome)
}

// normalizeEmail は前後の空白を除いて小文字化し、アドレス形式を検証する。
// 表示名付きの形式（"Name <a@b>"）は受け付けない。
func normalizeEmail(raw string) (string, *model.APIError) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", model.NewInvalidEmailError()
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", model.NewInvalidEmailError()
	}
	return email, nil
}

func parsePurpose(raw string) (model.OTPPurpose, *model.APIError) {
	p := model.OTPPurpose(raw)
	if !p.Valid() {
		return "", model.NewInvalidPurposeError(raw)
	}
	return p, nil
}

// identityFailure はローカルIdPのエラーを利用者向けのAPIErrorに変換する。
func identityFailure(msg string, err error) error {
	switch {
	case errors.Is(err, identity.ErrAccountExists):
		return model.NewAccountExistsError()
	case errors.Is(err, identity.ErrAccountNotFound):
		return model.NewAccountNotFoundError()
	case errors.Is(err, identity.ErrInvalidCredentials):
		return model.NewInvalidCredentialsError()
	}
	return storeFailure(msg, err)
}

// storeFailure は永続化層のエラーをログに記録し、エラー種別に応じたAPIErrorに変換する。
// ドライバ固有の詳細は利用者に返さない。
func storeFailure(msg string, err error) error {
	slog.Error(msg, slog.String("error", err.Error()))

	switch {
	case errors.Is(err, repository.ErrResourceMissing):
		return model.NewStoreNotReadyError(repository.ResourceOf(err))
	case errors.Is(err, repository.ErrUnavailable):
		return model.NewUpstreamError("The database")
	}
	return model.NewInternalError()
}

// exchangeStatus はメトリクス用にトークンエンドポイントの応答ステータスを返す。
// 使えるトークン応答を得られなかった場合（通信失敗やIDトークンの検証失敗）は0。
func exchangeStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var te *pkce.TokenExchangeError
	if errors.As(err, &te) {
		return te.Status
	}
	return 0
}
