package middleware

import (
	"encoding/json"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/networkmap/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの統一フォーマット。
// RequestIDはchiのRequestIDミドルウェアを通過した場合のみ含まれる。
type ErrorResponseBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Action    string `json:"action"`
	RequestID string `json:"request_id,omitempty"`
}

// NewErrorResponseBody はAPIErrorとリクエストからレスポンスボディを組み立てる。
func NewErrorResponseBody(r *http.Request, apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:      apiErr.Code,
		Message:   apiErr.Message,
		Category:  apiErr.Category,
		Action:    apiErr.Action,
		RequestID: chimw.GetReqID(r.Context()),
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// バイナリを返すエンドポイントでもエラー時はJSONを返す。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Del("Cache-Control")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(NewErrorResponseBody(r, apiErr))
}

// NewInternalError は内部エラーのAPIErrorを返す。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func NewInternalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, http.StatusInternalServerError, NewInternalError())
}
