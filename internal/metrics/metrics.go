// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 上流の識別子
const (
	UpstreamBackend = "backend"
	UpstreamAuth    = "auth"
)

// MetricsCollector はメトリクス収集のインターフェース。
// プロキシやサービストークン取得から利用する。
type MetricsCollector interface {
	RecordProxyResponse(upstream string, statusCode int, duration time.Duration)
	RecordProxyError(upstream string)
	RecordTokenFailure(source string)
	RecordRateLimited()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	proxyResponses *prometheus.CounterVec
	proxyErrors    *prometheus.CounterVec
	proxyLatency   *prometheus.HistogramVec
	tokenFailures  *prometheus.CounterVec
	rateLimited    prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		proxyResponses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsai_bff_proxy_responses_total",
			Help: "上流別・ステータスコード別のプロキシ応答数",
		}, []string{"upstream", "status_code"}),
		proxyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsai_bff_proxy_errors_total",
			Help: "上流に到達できなかったプロキシリクエスト数",
		}, []string{"upstream"}),
		proxyLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nsai_bff_proxy_latency_seconds",
			Help:    "上流応答ヘッダー受信までのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),
		tokenFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nsai_bff_service_token_failures_total",
			Help: "サービストークン取得失敗数",
		}, []string{"source"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "nsai_bff_rate_limited_total",
			Help: "レート制限で拒否したリクエスト数",
		}),
	}

	reg.MustRegister(
		c.proxyResponses,
		c.proxyErrors,
		c.proxyLatency,
		c.tokenFailures,
		c.rateLimited,
	)

	return c
}

// RecordProxyResponse は上流からの応答を記録する。
func (c *Collector) RecordProxyResponse(upstream string, statusCode int, duration time.Duration) {
	c.proxyResponses.WithLabelValues(upstream, strconv.Itoa(statusCode)).Inc()
	c.proxyLatency.WithLabelValues(upstream).Observe(duration.Seconds())
}

// RecordProxyError は上流への転送失敗を記録する。
func (c *Collector) RecordProxyError(upstream string) {
	c.proxyErrors.WithLabelValues(upstream).Inc()
}

// RecordTokenFailure はサービストークン取得失敗を記録する。
func (c *Collector) RecordTokenFailure(source string) {
	c.tokenFailures.WithLabelValues(source).Inc()
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordProxyResponse(string, int, time.Duration) {}
func (Nop) RecordProxyError(string)                        {}
func (Nop) RecordTokenFailure(string)                      {}
func (Nop) RecordRateLimited()                             {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
