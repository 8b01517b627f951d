package middleware

import "net/http"

// NewCORSMiddleware は単一オリジン向けのCORSミドルウェアを返す。
// セッションCookieを伴うリクエストを許可するため、オリジンは設定値を
// そのまま返しワイルドカード(*)は使わない。レスポンスがオリジンに
// 依存することをキャッシュに伝えるためVaryヘッダを付与する。
// OPTIONSプリフライトはハンドラに渡さず204で応答する。
func NewCORSMiddleware(allowedOrigin string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", allowedOrigin)
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Content-Type")
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Max-Age", "86400")
			h.Add("Vary", "Origin")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
