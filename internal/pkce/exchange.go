package pkce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
)

const (
	authorizePath = "/oauth2/authorize"
	tokenPath     = "/oauth2/token"

	// DefaultHTTPTimeout はトークンエンドポイント呼び出しのタイムアウト。
	DefaultHTTPTimeout = 10 * time.Second

	rawBodyLimit = 200
)

// ErrTokenExchangeFailed は認可コードの交換に失敗したことを示す。
var ErrTokenExchangeFailed = errors.New("pkce: token exchange failed")

// TokenExchangeError はトークンエンドポイントが2xx以外を返したときのエラー。
// 応答本文がJSONとして解釈できればBodyに、そうでなければ先頭200文字をRawに持つ。
// Statusが0の場合は応答を受け取る前に失敗している。
type TokenExchangeError struct {
	Status int
	Body   map[string]any
	Raw    string
	Err    error
}

func (e *TokenExchangeError) Error() string {
	switch {
	case e.Body != nil:
		if code, ok := e.Body["error"].(string); ok {
			return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, code)
		}
		return fmt.Sprintf("token exchange failed with status %d", e.Status)
	case e.Raw != "":
		return fmt.Sprintf("token exchange failed with status %d: %s", e.Status, e.Raw)
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	default:
		return fmt.Sprintf("token exchange failed with status %d", e.Status)
	}
}

// Is はErrTokenExchangeFailedとの比較を可能にする。
func (e *TokenExchangeError) Is(target error) bool {
	return target == ErrTokenExchangeFailed
}

func (e *TokenExchangeError) Unwrap() error {
	return e.Err
}

// Config はIdPのホストUIとクライアントの設定。
type Config struct {
	ClientID     string
	ClientSecret string // 空の場合はパブリッククライアントとして動作する
	Domain       string // 例: https://example.auth.ap-south-1.amazoncognito.com
	RedirectURI  string
	Scopes       []string
	HTTPTimeout  time.Duration

	// テスト用にオーバーライド可能なURL
	AuthURL  string
	TokenURL string
}

// IDTokenVerifier はIDトークンの署名とクレームを検証する。
type IDTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

// Exchanger は認可URLの生成と認可コードの交換を行う。
type Exchanger struct {
	oauth    oauth2.Config
	client   *http.Client
	verifier IDTokenVerifier
}

// NewExchanger はExchangerを生成する。
// verifierがnilの場合、IDトークンは検証せずにそのまま返す。
func NewExchanger(cfg Config, verifier IDTokenVerifier) *Exchanger {
	domain := strings.TrimRight(cfg.Domain, "/")
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = domain + authorizePath
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = domain + tokenPath
	}
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "email", "profile"}
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	return &Exchanger{
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		client:   &http.Client{Timeout: timeout},
		verifier: verifier,
	}
}

// RedirectURI は設定済みのリダイレクトURIを返す。
func (e *Exchanger) RedirectURI() string {
	return e.oauth.RedirectURL
}

// AuthCodeURL はGoogleフェデレーションを指定した認可URLを返す。
func (e *Exchanger) AuthCodeURL(state, challenge string) string {
	return e.oauth.AuthCodeURL(state,
		oauth2.SetAuthURLParam("identity_provider", "Google"),
		oauth2.SetAuthURLParam("code_challenge", challenge),
		oauth2.SetAuthURLParam("code_challenge_method", ChallengeMethod),
	)
}

// ExchangeCodeForTokens は認可コードと検証子をトークンエンドポイントへ送り、
// IDトークンを返す。client_secretは設定されている場合のみ送る。
func (e *Exchanger) ExchangeCodeForTokens(ctx context.Context, code, verifier, redirectURI string) (string, error) {
	cfg := e.oauth
	if redirectURI != "" {
		cfg.RedirectURL = redirectURI
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.client)
	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return "", newTokenExchangeError(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		return "", &TokenExchangeError{
			Status: http.StatusOK,
			Err:    errors.New("id_token missing from token response"),
		}
	}

	if e.verifier != nil {
		if _, err := e.verifier.Verify(ctx, idToken); err != nil {
			return "", fmt.Errorf("failed to verify id token: %w", err)
		}
	}

	return idToken, nil
}

func newTokenExchangeError(err error) *TokenExchangeError {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return &TokenExchangeError{Err: err}
	}

	te := &TokenExchangeError{Err: err}
	if re.Response != nil {
		te.Status = re.Response.StatusCode
	}

	var body map[string]any
	if json.Unmarshal(re.Body, &body) == nil && body != nil {
		te.Body = body
		return te
	}

	raw := string(re.Body)
	if len(raw) > rawBodyLimit {
		raw = raw[:rawBodyLimit]
	}
	te.Raw = raw
	return te
}

// NewOIDCVerifier はissuerURLのディスカバリ情報からIDトークン検証器を生成する。
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*oidc.IDTokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return provider.Verifier(&oidc.Config{ClientID: clientID}), nil
}
