package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/networkmap/internal/model"
	"github.com/hitoshi/networkmap/internal/notaries"
)

// DoormanServiceInterface はドアマンハンドラーが必要とするサービスインターフェース。
type DoormanServiceInterface interface {
	// Submit はDER形式のPKCS#10要求を受け付け、要求IDを返す。
	Submit(ctx context.Context, csrDER []byte) (string, error)
	// Retrieve は署名済み証明書チェーンのzipを返す。署名待ちの場合はnilを返す。
	Retrieve(ctx context.Context, id string) ([]byte, error)
	// DevKeyStores は開発用ノードのキーストア一式をzipで返す。
	DevKeyStores(name model.X500Name) ([]byte, error)
}

// DoormanHandler はドアマンと開発用証明書発行のHTTPハンドラー。
type DoormanHandler struct {
	service DoormanServiceInterface
}

// NewDoormanHandler はDoormanHandlerを生成する。
func NewDoormanHandler(service DoormanServiceInterface) *DoormanHandler {
	return &DoormanHandler{service: service}
}

// SubmitRequest は証明書署名要求を受け付ける。
// POST /certificate
func (h *DoormanHandler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	id, err := h.service.Submit(r.Context(), body)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeText(w, http.StatusOK, id)
}

// RetrieveCertificates は署名済み証明書チェーンを返す。
// GET /certificate/{id}
func (h *DoormanHandler) RetrieveCertificates(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.Retrieve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	// 署名待ち
	if data == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// BuildDevCerts はnode.confのmyLegalNameから開発用キーストアを発行する。
// POST /build-dev-certs
func (h *DoormanHandler) BuildDevCerts(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	cfg, err := notaries.ParseNodeConfig(body)
	if err != nil {
		writeAPIErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidNodeConfigError(err.Error()))
		return
	}
	name, err := cfg.LegalName()
	if err != nil {
		writeAPIErrorResponse(w, r, http.StatusBadRequest, model.NewInvalidNodeConfigError(err.Error()))
		return
	}

	data, err := h.service.DevKeyStores(name)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `inline; filename="certificates.zip"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
