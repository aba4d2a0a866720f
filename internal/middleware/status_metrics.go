package middleware

import "net/http"

// StatusCounter はレスポンスのステータスコードを記録する。
type StatusCounter interface {
	RecordHTTPStatus(statusCode int)
}

// NewStatusMetricsMiddleware はレスポンスのステータスコードをcounterに記録するミドルウェアを返す。
func NewStatusMetricsMiddleware(counter StatusCounter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			next.ServeHTTP(rec, r)
			counter.RecordHTTPStatus(rec.statusCode)
		})
	}
}
