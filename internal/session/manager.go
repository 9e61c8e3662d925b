// Package session はCookieで運ぶ自己完結型のログインセッションを管理する。
//
// セッションは発行時点のユーザーのスナップショットを含み、リクエストごとに
// IdPへ再確認しない。失効は読み取り時の時刻比較でのみ判定する。
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/manas332/profile-official-sub000/internal/model"
)

const (
	// CookieName はセッションCookieの名前。
	CookieName = "session"

	// DefaultTTL はセッションの有効期間。
	DefaultTTL = 7 * 24 * time.Hour
)

// Config はManagerの設定。
type Config struct {
	Secret []byte
	Secure bool // 本番環境ではtrue
	Domain string
	TTL    time.Duration
}

// claims はCookie値に格納するセッションの表現。
type claims struct {
	User      model.User `json:"user"`
	Token     string     `json:"token"`
	ExpiresAt int64      `json:"expiresAt"`
	jwt.RegisteredClaims
}

// Manager はセッションCookieの発行・読み取り・破棄を行う。
type Manager struct {
	secret []byte
	secure bool
	domain string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewManager はManagerを生成する。
func NewManager(cfg Config) *Manager {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		secret: cfg.Secret,
		secure: cfg.Secure,
		domain: cfg.Domain,
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// SetClock は現在時刻の取得関数を差し替える。
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create はuserとtokenからセッションを作成し、Cookieに書き込む。
func (m *Manager) Create(w http.ResponseWriter, user model.User, token string) (*model.Session, error) {
	now := m.now()
	s := &model.Session{
		User:      user,
		Token:     token,
		ExpiresAt: now.Add(m.ttl).UnixMilli(),
	}

	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		User:      s.User,
		Token:     s.Token,
		ExpiresAt: s.ExpiresAt,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  user.ID,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign session: %w", err)
	}

	http.SetCookie(w, m.cookie(value, int(m.ttl.Seconds())))
	return s, nil
}

// Read はリクエストのCookieからセッションを読み取る。
// Cookieがない、または解析・署名検証に失敗した場合はnilを返す。
// 失効済みの場合はCookieを削除してnilを返す。
func (m *Manager) Read(w http.ResponseWriter, r *http.Request) *model.Session {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return nil
	}

	var cl claims
	if _, err := m.parser.ParseWithClaims(c.Value, &cl, m.key); err != nil {
		if !errors.Is(err, jwt.ErrTokenMalformed) {
			slog.Debug("session cookie rejected", slog.String("error", err.Error()))
		}
		return nil
	}

	s := &model.Session{User: cl.User, Token: cl.Token, ExpiresAt: cl.ExpiresAt}
	if s.Expired(m.now()) {
		m.Destroy(w)
		return nil
	}
	return s
}

// Destroy はセッションCookieを削除する。何度呼んでも失敗しない。
func (m *Manager) Destroy(w http.ResponseWriter) {
	http.SetCookie(w, m.cookie("", -1))
}

func (m *Manager) key(t *jwt.Token) (any, error) {
	return m.secret, nil
}

func (m *Manager) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		Domain:   m.domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
