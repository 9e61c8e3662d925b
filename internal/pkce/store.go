package pkce

import (
	"net/http"
	"time"
)

const (
	verifierCookiePrefix = "pkce_"

	// DefaultVerifierTTL は検証子Cookieの有効期間。1回のOAuth往復を想定する。
	DefaultVerifierTTL = 10 * time.Minute

	maxStateLength = 128
)

// CookieStore はstateごとの検証子をブラウザのCookieに保存する。
// 値は暗号化しない。HttpOnlyかつSameSite=Laxで、認可サーバーからの
// トップレベルのリダイレクトでのみ送られる。
type CookieStore struct {
	Secure bool
	Path   string
	TTL    time.Duration
}

// NewCookieStore はCookieStoreを生成する。
func NewCookieStore(secure bool) *CookieStore {
	return &CookieStore{Secure: secure, Path: "/", TTL: DefaultVerifierTTL}
}

// Store はstateに対応する検証子を保存する。
func (s *CookieStore) Store(w http.ResponseWriter, state, verifier string) {
	if !validState(state) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     verifierCookiePrefix + state,
		Value:    verifier,
		Path:     s.path(),
		MaxAge:   int(s.ttl().Seconds()),
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Get はstateに対応する検証子を返す。存在しない場合はfalse。
func (s *CookieStore) Get(r *http.Request, state string) (string, bool) {
	if !validState(state) {
		return "", false
	}
	c, err := r.Cookie(verifierCookiePrefix + state)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// Clear はstateに対応する検証子を削除する。存在しなくても問題ない。
func (s *CookieStore) Clear(w http.ResponseWriter, state string) {
	if !validState(state) {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     verifierCookiePrefix + state,
		Value:    "",
		Path:     s.path(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *CookieStore) path() string {
	if s.Path == "" {
		return "/"
	}
	return s.Path
}

func (s *CookieStore) ttl() time.Duration {
	if s.TTL <= 0 {
		return DefaultVerifierTTL
	}
	return s.TTL
}

// validState はstateがCookie名の一部として使える文字だけで構成されるかを返す。
func validState(state string) bool {
	if state == "" || len(state) > maxStateLength {
		return false
	}
	for _, c := range state {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
