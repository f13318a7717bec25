package handler

import (
	"net/http"

	"github.com/hitoshi/networkmap/internal/bootstrapping"
)

// BootstrapHandler はノードのインストールスクリプトを配布する。
type BootstrapHandler struct {
	baseURL string
}

// NewBootstrapHandler はBootstrapHandlerを生成する。
// baseURLはスクリプト内のドアマンとネットワークマップの接続先になる。
func NewBootstrapHandler(baseURL string) *BootstrapHandler {
	return &BootstrapHandler{baseURL: baseURL}
}

// Ubuntu はUbuntu向けインストールスクリプトを返す。
// GET /bootstrap/ubuntu
func (h *BootstrapHandler) Ubuntu(w http.ResponseWriter, r *http.Request) {
	script, err := bootstrapping.UbuntuScript(h.baseURL)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/x-shellscript; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="install.sh"`)
	w.WriteHeader(http.StatusOK)
	w.Write(script)
}
