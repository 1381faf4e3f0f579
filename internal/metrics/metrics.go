// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector はPrometheusメトリクスを収集する実装。
// HTTPミドルウェア、platform.Observer、session.AuthObserver、各ワーカーの記録先を兼ねる。
type Collector struct {
	reg prometheus.Registerer

	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
	platformRequests *prometheus.CounterVec
	platformLatency  *prometheus.HistogramVec
	authEvents       *prometheus.CounterVec
	tokenRefresh     *prometheus.CounterVec
	clientsEvicted   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "packmart_http_requests_total",
			Help: "HTTPリクエストの合計数（ルート・ステータスコード別）",
		}, []string{"method", "route", "status_code"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "packmart_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		platformRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "packmart_platform_requests_total",
			Help: "プラットフォーム呼び出しの合計数（操作・ステータスコード別）",
		}, []string{"op", "status_code"}),
		platformLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "packmart_platform_request_duration_seconds",
			Help:    "プラットフォーム呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "packmart_auth_operations_total",
			Help: "認証操作の合計数（操作・結果別）",
		}, []string{"op", "outcome"}),
		tokenRefresh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "packmart_token_refresh_total",
			Help: "バックグラウンドでのトークン更新の合計数（結果別）",
		}, []string{"outcome"}),
		clientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "packmart_clients_evicted_total",
			Help: "アイドルにより破棄されたクライアントの合計数",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpLatency,
		c.platformRequests,
		c.platformLatency,
		c.authEvents,
		c.tokenRefresh,
		c.clientsEvicted,
	)

	return c
}

// RecordHTTPRequest はHTTPリクエストを記録する。routeはルートパターンを渡す。
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	c.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePlatformRequest はプラットフォーム呼び出しを記録する。
// 通信エラーでレスポンスがない場合、statusCodeは0になる。
func (c *Collector) ObservePlatformRequest(op string, statusCode int, duration time.Duration) {
	c.platformRequests.WithLabelValues(op, strconv.Itoa(statusCode)).Inc()
	c.platformLatency.WithLabelValues(op).Observe(duration.Seconds())
}

// ObserveAuth は認証操作の結果を記録する。
func (c *Collector) ObserveAuth(op, outcome string) {
	c.authEvents.WithLabelValues(op, outcome).Inc()
}

// RecordTokenRefresh はバックグラウンドのトークン更新結果を記録する。
func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefresh.WithLabelValues(outcome).Inc()
}

// RecordClientsEvicted は破棄されたクライアント数を記録する。
func (c *Collector) RecordClientsEvicted(count int) {
	c.clientsEvicted.Add(float64(count))
}

// RegisterGauge は現在値を関数で返すゲージを登録する。
// 保持しているクライアント数や開いている会話ビュー数に使う。
func (c *Collector) RegisterGauge(name, help string, value func() int) {
	c.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: name,
		Help: help,
	}, func() float64 {
		return float64(value())
	}))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
