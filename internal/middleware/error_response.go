package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/accounts/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// errorsは常に配列、dataは常にnullで返す。
type ErrorResponseBody struct {
	StatusCode int      `json:"statusCode"`
	Message    string   `json:"message"`
	Success    bool     `json:"success"`
	Errors     []string `json:"errors"`
	Data       any      `json:"data"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// ステータスコードはapiErr.StatusCodeを使用する。
func WriteErrorResponse(w http.ResponseWriter, apiErr *model.APIError) {
	errs := apiErr.Errors
	if errs == nil {
		errs = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.StatusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		StatusCode: apiErr.StatusCode,
		Message:    apiErr.Message,
		Success:    false,
		Errors:     errs,
		Data:       nil,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, model.NewInternalError(model.ErrCodeInternal, "Internal Server Error", nil))
}
