package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NameSanitizerService はノードが自己申告した名前を統計APIで返す前に無害化する。
type NameSanitizerService interface {
	// Sanitize はHTMLタグを除去したプレーンテキストを返す。
	// 前後の空白は取り除く。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// NameSanitizer はbluemondayのStrictPolicyによるNameSanitizerServiceの実装。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はHTMLタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す。
// 応答はJSONでエンコードされるため<や>はそこでエスケープされる。
func (s *NameSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
