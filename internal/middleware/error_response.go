package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/manas332/profile-official-sub000/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// errorは機械判定用の安定したコードで、messageは利用者向けの文言。
type ErrorResponseBody struct {
	Error    string `json:"error"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action,omitempty"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Error:    apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}
