package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/manas332/profile-official-sub000/internal/middleware"
	"github.com/manas332/profile-official-sub000/internal/model"
)

// Account はセッションのユーザーを返す。RequireSessionの内側で使う。
// GET /api/account
func Account(w http.ResponseWriter, r *http.Request) {
	s, ok := middleware.SessionFromContext(r.Context())
	if !ok {
		handleServiceError(w, model.NewUnauthorizedError())
		return
	}
	user := s.User
	writeJSON(w, http.StatusOK, userResponse{User: &user})
}

// Pinger はDB接続の死活確認を抽象化する。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// healthTimeout はヘルスチェック時のDB疎通確認のタイムアウト。
const healthTimeout = 2 * time.Second

// NewHealthHandler はDBへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func NewHealthHandler(db Pinger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			slog.Error("health check failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
