// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// トークンサービス、認証ミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	RecordTokenIssued(kind string)
	RecordValidationFailure(reason string)
	RecordTokensRevoked(count int64)
	RecordTokensExpired(count int64)
	RecordSilentRefresh(success bool)
	RecordGateDenied(status string)
	RecordOAuthRefresh(provider string, success bool, duration time.Duration)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tokensIssued      *prometheus.CounterVec
	validationFail    *prometheus.CounterVec
	tokensRevoked     prometheus.Counter
	tokensExpired     prometheus.Counter
	silentRefresh     *prometheus.CounterVec
	gateDenied        *prometheus.CounterVec
	oauthRefresh      *prometheus.CounterVec
	oauthRefreshLaten prometheus.Histogram
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tokensIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_tokens_issued_total",
			Help: "種別ごとのトークン発行数",
		}, []string{"kind"}),
		validationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_token_validation_failures_total",
			Help: "理由ごとのトークン検証失敗数",
		}, []string{"reason"}),
		tokensRevoked: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_tokens_revoked_total",
			Help: "失効させたトークンの合計数",
		}),
		tokensExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadflow_tokens_expired_total",
			Help: "期限切れフラグを立てたトークンの合計数",
		}),
		silentRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_silent_refresh_total",
			Help: "リクエスト内でのアクセストークン再発行数",
		}, []string{"result"}),
		gateDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_subscription_gate_denied_total",
			Help: "契約状態ごとの402応答数",
		}, []string{"status"}),
		oauthRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_oauth_refresh_total",
			Help: "プロバイダーごとのOAuthトークン更新数",
		}, []string{"provider", "result"}),
		oauthRefreshLaten: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadflow_oauth_refresh_latency_seconds",
			Help:    "OAuthトークン更新のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadflow_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.tokensIssued,
		c.validationFail,
		c.tokensRevoked,
		c.tokensExpired,
		c.silentRefresh,
		c.gateDenied,
		c.oauthRefresh,
		c.oauthRefreshLaten,
		c.httpStatus,
	)

	return c
}

// RecordTokenIssued はトークン発行を記録する。
func (c *Collector) RecordTokenIssued(kind string) {
	c.tokensIssued.WithLabelValues(kind).Inc()
}

// RecordValidationFailure はトークン検証失敗を記録する。
// reasonは invalid / expired / revoked のいずれか。
func (c *Collector) RecordValidationFailure(reason string) {
	c.validationFail.WithLabelValues(reason).Inc()
}

// RecordTokensRevoked は失効させたトークン数を記録する。
func (c *Collector) RecordTokensRevoked(count int64) {
	c.tokensRevoked.Add(float64(count))
}

// RecordTokensExpired は期限切れフラグを立てたトークン数を記録する。
func (c *Collector) RecordTokensExpired(count int64) {
	c.tokensExpired.Add(float64(count))
}

// RecordSilentRefresh はサイレントリフレッシュの結果を記録する。
func (c *Collector) RecordSilentRefresh(success bool) {
	c.silentRefresh.WithLabelValues(resultLabel(success)).Inc()
}

// RecordGateDenied は契約ゲートによる拒否を記録する。
func (c *Collector) RecordGateDenied(status string) {
	c.gateDenied.WithLabelValues(status).Inc()
}

// RecordOAuthRefresh はOAuthトークン更新の結果とレイテンシを記録する。
func (c *Collector) RecordOAuthRefresh(provider string, success bool, duration time.Duration) {
	c.oauthRefresh.WithLabelValues(provider, resultLabel(success)).Inc()
	c.oauthRefreshLaten.Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

func resultLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// NopCollector は何も記録しないMetricsCollector。
// テストやメトリクス不要のコマンドで使用する。
type NopCollector struct{}

func (NopCollector) RecordTokenIssued(string) {}
func (NopCollector) RecordValidationFailure(string) {}
func (NopCollector) RecordTokensRevoked(int64) {}
func (NopCollector) RecordTokensExpired(int64) {}
func (NopCollector) RecordSilentRefresh(bool) {}
func (NopCollector) RecordGateDenied(string) {}
func (NopCollector) RecordOAuthRefresh(string, bool, time.Duration) {}
func (NopCollector) RecordHTTPStatus(int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
