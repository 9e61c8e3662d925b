// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionReader はCookieからセッションを読み取る。
// session.Managerが満たす。
type SessionReader interface {
	Read(w http.ResponseWriter, r *http.Request) *model.Session
}

// RequireSession はセッションCookieを読み取り、有効なセッションを
// リクエストコンテキストに注入するミドルウェアを返す。
// セッションがない、または失効している場合は401 Unauthorizedを返す。
func RequireSession(reader SessionReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s := reader.Read(w, r)
			if s == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}
			noteUserID(r.Context(), s.User.ID)
			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
		})
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。
// RequireSessionを通過したリクエストでのみ有効。
func SessionFromContext(ctx context.Context) (*model.Session, bool) {
	s, ok := ctx.Value(sessionContextKey).(*model.Session)
	return s, ok && s != nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	s, ok := SessionFromContext(ctx)
	if !ok || s.User.ID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return s.User.ID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}
