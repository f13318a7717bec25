package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Pinger は依存先の疎通確認を行う。*sql.DBが満たす。
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler は死活監視用のHTTPハンドラー。
type HealthHandler struct {
	pinger Pinger
	logger *slog.Logger
}

// NewHealthHandler はHealthHandlerを生成する。
// pingerがnilの場合（インメモリ構成）は常に正常を返す。
func NewHealthHandler(pinger Pinger, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{pinger: pinger, logger: logger}
}

type healthResponse struct {
	Status string `json:"status"`
}

// Ping は疎通確認に応答する。
// GET /ping
func (h *HealthHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeText(w, http.StatusOK, "OK")
}

// Health はデータベースの疎通を確認して状態を返す。
// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	resp := healthResponse{Status: "ok"}

	if h.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := h.pinger.PingContext(ctx); err != nil {
			h.logger.Warn("health check failed", slog.String("error", err.Error()))
			status = http.StatusServiceUnavailable
			resp.Status = "unavailable"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
