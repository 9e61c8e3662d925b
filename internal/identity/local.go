// Package identity はパスワードとOTPによるサインインを担うローカルIdPを提供する。
//
// ホスト型ユーザープールと同じ形のIDトークン（sub, email, name,
// cognito:username, iat, exp, iss）をHS256で発行する。
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/manas332/profile-official-sub000/internal/model"
	"github.com/manas332/profile-official-sub000/internal/repository"
)

const (
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 6

	// DefaultTokenTTL は発行するIDトークンの有効期間。
	DefaultTokenTTL = time.Hour

	// DefaultIssuer はissクレームの既定値。
	DefaultIssuer = "profile-local-idp"
)

var (
	// ErrAccountExists はメールアドレスの資格情報が既に存在することを示す。
	ErrAccountExists = errors.New("identity: account already exists")
	// ErrAccountNotFound はメールアドレスの資格情報が存在しないことを示す。
	ErrAccountNotFound = errors.New("identity: account not found")
	// ErrInvalidCredentials はパスワードが一致しないことを示す。
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
)

// idClaims はローカルIdPが発行するIDトークンのクレーム。
type idClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	Username string `json:"cognito:username"`
	TokenUse string `json:"token_use"`
	jwt.RegisteredClaims
}

// LocalProvider はcredentialsテーブルを使うローカルIdP。
type LocalProvider struct {
	creds      repository.CredentialRepository
	signingKey []byte
	issuer     string
	ttl        time.Duration
	cost       int
	now        func() time.Time
}

// Option はLocalProviderの設定を変更する。
type Option func(*LocalProvider)

// WithIssuer はissクレームを変更する。
func WithIssuer(iss string) Option {
	return func(p *LocalProvider) {
		if iss != "" {
			p.issuer = iss
		}
	}
}

// WithBcryptCost はbcryptのコストを変更する。テストでの高速化に使う。
func WithBcryptCost(cost int) Option {
	return func(p *LocalProvider) { p.cost = cost }
}

// WithClock は現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(p *LocalProvider) { p.now = now }
}

// NewLocalProvider はLocalProviderを生成する。
func NewLocalProvider(creds repository.CredentialRepository, signingKey []byte, opts ...Option) *LocalProvider {
	p := &LocalProvider{
		creds:      creds,
		signingKey: signingKey,
		issuer:     DefaultIssuer,
		ttl:        DefaultTokenTTL,
		cost:       bcrypt.DefaultCost,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SignUp は新しい資格情報を作成する。subjectはUUIDで採番する。
func (p *LocalProvider) SignUp(ctx context.Context, email, password, name string) (*model.Credential, error) {
	existing, err := p.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}
	if existing != nil {
		return nil, ErrAccountExists
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	cred := &model.Credential{
		Email:        email,
		Subject:      uuid.NewString(),
		Name:         name,
		PasswordHash: hash,
		CreatedAt:    p.now(),
	}
	if err := p.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, fmt.Errorf("failed to create credential: %w", err)
	}
	return cred, nil
}

// Authenticate はパスワードを検証し、IDトークンを返す。
func (p *LocalProvider) Authenticate(ctx context.Context, email, password string) (string, error) {
	cred, err := p.find(ctx, email)
	if err != nil {
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword(cred.PasswordHash, []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return p.mint(cred)
}

// IssueToken はOTPで本人確認済みのメールアドレスに対してIDトークンを返す。
func (p *LocalProvider) IssueToken(ctx context.Context, email string) (string, error) {
	cred, err := p.find(ctx, email)
	if err != nil {
		return "", err
	}
	return p.mint(cred)
}

func (p *LocalProvider) find(ctx context.Context, email string) (*model.Credential, error) {
	cred, err := p.creds.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}
	if cred == nil {
		return nil, ErrAccountNotFound
	}
	return cred, nil
}

func (p *LocalProvider) mint(cred *model.Credential) (string, error) {
	now := p.now()
	claims := idClaims{
		Email:    cred.Email,
		Name:     cred.Name,
		Username: cred.Email,
		TokenUse: "id",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   cred.Subject,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign id token: %w", err)
	}
	return signed, nil
}
