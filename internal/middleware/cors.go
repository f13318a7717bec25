package middleware

import (
	"net/http"
	"slices"
	"strings"
)

// NewCORSMiddleware はmap-statsなど読み取り専用の公開エンドポイント向けCORSミドルウェアを返す。
// allowedOriginsはカンマ区切りのオリジン一覧で、"*"はすべてのオリジンを許可する。
// 一覧にないOriginのリクエストにはCORSヘッダーを付けない。一覧指定の場合は常にVary: Originを付ける。
// 認証情報を扱わないためAccess-Control-Allow-Credentialsは送らない。
func NewCORSMiddleware(allowedOrigins string) func(next http.Handler) http.Handler {
	origins := parseOrigins(allowedOrigins)
	wildcard := slices.Contains(origins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			origin := r.Header.Get("Origin")
			switch {
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			default:
				h.Add("Vary", "Origin")
				if origin != "" && slices.Contains(origins, origin) {
					h.Set("Access-Control-Allow-Origin", origin)
				}
			}
			if h.Get("Access-Control-Allow-Origin") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", "86400")
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func parseOrigins(raw string) []string {
	var origins []string
	for o := range strings.SplitSeq(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, strings.TrimSuffix(o, "/"))
		}
	}
	return origins
}
