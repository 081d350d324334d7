package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// maxRequestBodyBytes はJSONリクエストボディの上限サイズ。
const maxRequestBodyBytes = 1 << 20

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
// エラーカテゴリからステータスコードへの変換はこの関数でのみ行う。
// exposeInternalがfalseの場合、500の詳細はログのみに記録する。
func handleServiceError(w http.ResponseWriter, err error, exposeInternal bool) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		apiErr = model.NewInternalError("Request", err)
	}

	statusCode := mapCategoryToHTTPStatus(apiErr.Category)
	if statusCode != http.StatusInternalServerError {
		middleware.WriteErrorResponse(w, statusCode, apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("code", apiErr.Code),
		slog.String("error", err.Error()),
	)
	if !exposeInternal {
		middleware.WriteInternalServerError(w)
		return
	}
	middleware.WriteErrorResponse(w, statusCode, &model.APIError{
		Code:     apiErr.Code,
		Message:  err.Error(),
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// mapCategoryToHTTPStatus はエラーカテゴリをHTTPステータスコードに変換する。
func mapCategoryToHTTPStatus(category string) int {
	switch category {
	case model.CategoryValidation:
		return http.StatusBadRequest
	case model.CategoryAuthentication:
		return http.StatusUnauthorized
	case model.CategoryAuthorization:
		return http.StatusForbidden
	case model.CategoryNotFound:
		return http.StatusNotFound
	case model.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをvに読み込む。
// 形式不正の場合は検証エラーを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &model.APIError{
			Code:     model.ErrCodeValidation,
			Message:  "Invalid request body.",
			Category: model.CategoryValidation,
			Action:   "Send a valid JSON body.",
			Cause:    err,
		}
	}
	return nil
}

// writeUnauthenticated はセッションの本人情報がない場合の401レスポンスを書き込む。
func writeUnauthenticated(w http.ResponseWriter) {
	middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthenticatedError())
}
