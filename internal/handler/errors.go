package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/manas332/profile-official-sub000/internal/middleware"
	"github.com/manas332/profile-official-sub000/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（バイト）。
const maxRequestBodySize = 1 << 20

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとしてdstに読み込む。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorのコードからHTTPステータスコードを決定する。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeInvalidRequest,
		model.ErrCodeInvalidEmail,
		model.ErrCodeInvalidOTPFormat,
		model.ErrCodeInvalidPurpose,
		model.ErrCodeWeakPassword,
		model.ErrCodeMissingField,
		model.ErrCodeAccountExists:
		return http.StatusBadRequest
	case model.ErrCodeAccountNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidCredentials,
		model.ErrCodeInvalidOTP,
		model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case model.ErrCodeCSRFFailed:
		return http.StatusForbidden
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
