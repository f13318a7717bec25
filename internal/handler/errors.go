package handler

import (
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/networkmap/internal/middleware"
	"github.com/hitoshi/networkmap/internal/model"
)

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, r, statusCode, apiErr)
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// APIError以外は内容を隠して500を返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, r, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	slog.Error("internal server error",
		slog.String("request_id", chimw.GetReqID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	middleware.WriteInternalServerError(w, r)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeNodeInfoNotFound, model.ErrCodeParametersNotFound,
		model.ErrCodeNetworkMapUnavailable, model.ErrCodeCertificateNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidHash, model.ErrCodeMalformedNodeInfo,
		model.ErrCodeInvalidNodeConfig, model.ErrCodeInvalidCSR:
		return http.StatusBadRequest
	case model.ErrCodeInvalidSignature:
		return http.StatusForbidden
	case model.ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case model.ErrCodeServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
