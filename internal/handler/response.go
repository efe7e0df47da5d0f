// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/accounts/internal/middleware"
	"github.com/hitoshi/accounts/internal/model"
)

// ApiResponse は成功レスポンスの統一フォーマット。
// successはstatusCodeが400未満かどうかで決まる。
type ApiResponse struct {
	StatusCode int    `json:"statusCode"`
	Data       any    `json:"data"`
	Message    string `json:"message"`
	Success    bool   `json:"success"`
}

// NewApiResponse はApiResponseを生成する。
func NewApiResponse(statusCode int, data any, message string) ApiResponse {
	return ApiResponse{
		StatusCode: statusCode,
		Data:       data,
		Message:    message,
		Success:    statusCode < http.StatusBadRequest,
	}
}

// writeJSONResponse はApiResponseをJSONで書き込む。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(NewApiResponse(statusCode, data, message)); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// handleServiceError はサービス層のエラーを統一エラーフォーマットに変換して書き込む。
// APIError以外のエラーは詳細を隠して500を返す。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode >= http.StatusInternalServerError {
			attrs := []any{slog.String("code", apiErr.Code)}
			if apiErr.Cause != nil {
				attrs = append(attrs, slog.String("error", apiErr.Cause.Error()))
			}
			slog.Error("request failed", attrs...)
		}
		middleware.WriteErrorResponse(w, apiErr)
		return
	}

	slog.Error("unexpected service error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
