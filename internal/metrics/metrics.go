// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証試行の種別。
const (
	MethodLogin    = "login"
	MethodRegister = "register"
	MethodOAuth    = "oauth"
)

// 認証試行・コード交換の結果。
const (
	OutcomeSuccess            = "success"
	OutcomeValidation         = "validation"
	OutcomeCaptchaFailed      = "captcha_failed"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeConflict           = "conflict"
	OutcomeRejected           = "rejected"
	OutcomeError              = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(method, outcome string)
	RecordOAuthExchange(provider, outcome string, duration time.Duration)
	RecordHTTPStatus(statusCode int)
	RecordStatesPurged(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts  *prometheus.CounterVec
	oauthExchange *prometheus.CounterVec
	oauthLatency  *prometheus.HistogramVec
	httpStatus    *prometheus.CounterVec
	statesPurged  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_auth_attempts_total",
			Help: "認証試行の合計数（種別・結果別）",
		}, []string{"method", "outcome"}),
		oauthExchange: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_oauth_exchange_total",
			Help: "OAuth認可コード交換の合計数（プロバイダー・結果別）",
		}, []string{"provider", "outcome"}),
		oauthLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_oauth_exchange_latency_seconds",
			Help:    "OAuth認可コード交換のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		statesPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "authgate_oauth_states_purged_total",
			Help: "削除された期限切れOAuth stateの合計数",
		}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.oauthExchange,
		c.oauthLatency,
		c.httpStatus,
		c.statesPurged,
	)

	return c
}

// RecordAuthAttempt は認証試行の結果を記録する。
func (c *Collector) RecordAuthAttempt(method, outcome string) {
	c.authAttempts.WithLabelValues(method, outcome).Inc()
}

// RecordOAuthExchange はコード交換の結果とレイテンシを記録する。
func (c *Collector) RecordOAuthExchange(provider, outcome string, duration time.Duration) {
	c.oauthExchange.WithLabelValues(provider, outcome).Inc()
	c.oauthLatency.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordStatesPurged は削除した期限切れstateの件数を記録する。
func (c *Collector) RecordStatesPurged(count int64) {
	c.statesPurged.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
