// Package bootstrapping はノードのインストールスクリプトを生成する。
package bootstrapping

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var ubuntuTemplate = template.Must(template.ParseFS(templateFS, "templates/ubuntu.sh.tmpl"))

// DefaultNodeJarURL はインストールするノード本体の配布URL。
const DefaultNodeJarURL = "https://ci-artifactory.corda.r3cev.com/artifactory/corda-releases/net/corda/corda/4.0/corda-4.0.jar"

// ScriptParams はインストールスクリプトに埋め込む値。
type ScriptParams struct {
	BaseURL    string // ドアマンとネットワークマップの公開URL
	NodeJarURL string
	Locality   string
	Country    string
}

// UbuntuScript はUbuntuでノードを登録・起動するシェルスクリプトを返す。
// ノードの組織名はインストール時にランダムに生成される。
func UbuntuScript(baseURL string) ([]byte, error) {
	return RenderUbuntu(ScriptParams{
		BaseURL:    baseURL,
		NodeJarURL: DefaultNodeJarURL,
		Locality:   "Zurich",
		Country:    "CH",
	})
}

// RenderUbuntu はparamsでUbuntu用スクリプトを描画する。
func RenderUbuntu(params ScriptParams) ([]byte, error) {
	params.BaseURL = strings.TrimRight(params.BaseURL, "/")
	if params.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	var buf bytes.Buffer
	if err := ubuntuTemplate.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("failed to render install script: %w", err)
	}
	return buf.Bytes(), nil
}
