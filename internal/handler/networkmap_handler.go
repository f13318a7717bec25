package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/networkmap/internal/model"
)

// maxRequestBodySize は公開・CSR・node.confリクエストボディの上限。
const maxRequestBodySize = 10 << 20

// NetworkMapServiceInterface はネットワークマップハンドラーが必要とするサービスインターフェース。
type NetworkMapServiceInterface interface {
	// Publish は署名付きノード情報を検証して保存する。
	Publish(ctx context.Context, body []byte) error
	// NodeInfo は指定ハッシュのシリアライズ済みノード情報を返す。
	NodeInfo(ctx context.Context, hash string) ([]byte, error)
	// NetworkMap は署名済みネットワークマップを返す。
	NetworkMap() ([]byte, error)
	// NetworkParameters は指定ハッシュの署名済みネットワークパラメータを返す。
	NetworkParameters(hash string) ([]byte, error)
	Stats(ctx context.Context) (*model.MapStats, error)
	ResetNodes(ctx context.Context) (int, error)
	TrustStore() []byte
}

// CacheWindow はCache-Controlのmax-ageを選ぶ範囲（秒）。
// レスポンスごとにMin以上Max未満の値を選ぶ。
type CacheWindow struct {
	Min int
	Max int
}

// maxAge はキャッシュ期間を選ぶ。
func (c CacheWindow) maxAge() int {
	if c.Max <= c.Min {
		return c.Min
	}
	return c.Min + rand.IntN(c.Max-c.Min)
}

// NetworkMapHandler はネットワークマップのHTTPハンドラー。
type NetworkMapHandler struct {
	service NetworkMapServiceInterface
	cache   CacheWindow
}

// NewNetworkMapHandler はNetworkMapHandlerを生成する。
func NewNetworkMapHandler(service NetworkMapServiceInterface, cache CacheWindow) *NetworkMapHandler {
	return &NetworkMapHandler{
		service: service,
		cache:   cache,
	}
}

// Publish はノード情報の公開を処理する。
// POST /network-map/publish
func (h *NetworkMapHandler) Publish(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.service.Publish(r.Context(), body); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeText(w, http.StatusOK, "OK")
}

// NetworkMap は署名済みネットワークマップを返す。
// GET /network-map
func (h *NetworkMapHandler) NetworkMap(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.NetworkMap()
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setCacheControl(w)
	writeOctetStream(w, data)
}

// NodeInfo はノード情報を返す。
// GET /network-map/node-info/{hash}
func (h *NetworkMapHandler) NodeInfo(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.NodeInfo(r.Context(), chi.URLParam(r, "hash"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeOctetStream(w, data)
}

// NetworkParameters はネットワークパラメータを返す。
// GET /network-map/network-parameters/{hash}
func (h *NetworkMapHandler) NetworkParameters(w http.ResponseWriter, r *http.Request) {
	data, err := h.service.NetworkParameters(chi.URLParam(r, "hash"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	h.setCacheControl(w)
	writeOctetStream(w, data)
}

// MapStats はノードとノータリーの名前一覧をJSONで返す。
// GET /network-map/map-stats
func (h *NetworkMapHandler) MapStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(stats)
}

// ResetPersistedNodes は保存済みノード情報をすべて削除する。
// GET /network-map/reset-persisted-nodes
func (h *NetworkMapHandler) ResetPersistedNodes(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.ResetNodes(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeText(w, http.StatusAccepted, fmt.Sprintf("Deleted : %d rows.", n))
}

// TrustStore はルートCAのPEMを返す。
// GET /truststore
func (h *NetworkMapHandler) TrustStore(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-pem-file")
	w.Header().Set("Content-Disposition", `attachment; filename="network-root-truststore.pem"`)
	w.WriteHeader(http.StatusOK)
	w.Write(h.service.TrustStore())
}

func (h *NetworkMapHandler) setCacheControl(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", h.cache.maxAge()))
}

// readBody はリクエストボディを上限付きで読み込む。
func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, model.NewPayloadTooLargeError(tooLarge.Limit)
		}
		return nil, fmt.Errorf("リクエストボディの読み込みに失敗: %w", err)
	}
	return body, nil
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, text)
}

func writeOctetStream(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
