package middleware

import "net/http"

// DefaultContentSecurityPolicy はJSONレスポンス向けのCSP。
// HTMLを返すハンドラーは自身のnonce付きポリシーで上書きする。
const DefaultContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

var securityHeaders = [...][2]string{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"Referrer-Policy", "no-referrer"},
	{"Cache-Control", "no-store"},
	{"Content-Security-Policy", DefaultContentSecurityPolicy},
}

// NewSecurityHeadersMiddleware は全レスポンスにセキュリティヘッダーを付与するミドルウェアを返す。
// トークンを含むレスポンスがあるため、キャッシュは常に禁止する。
func NewSecurityHeadersMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range securityHeaders {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}
