// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 公開結果のラベル値。
const (
	PublishAccepted         = "accepted"
	PublishMalformed        = "malformed"
	PublishInvalidSignature = "invalid_signature"
	PublishError            = "error"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層とHTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordPublish(result string)
	RecordRebuild(duration time.Duration, nodeCount int)
	RecordHTTPStatus(statusCode int)
	RecordCertificateRequest()
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	publish        *prometheus.CounterVec
	rebuild        prometheus.Counter
	rebuildLatency prometheus.Histogram
	nodes          prometheus.Gauge
	httpStatus     *prometheus.CounterVec
	certRequests   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		publish: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "networkmap_publish_total",
			Help: "結果別のノード情報公開リクエスト数",
		}, []string{"result"}),
		rebuild: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "networkmap_rebuild_total",
			Help: "ネットワークマップ再構築の合計数",
		}),
		rebuildLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "networkmap_rebuild_latency_seconds",
			Help:    "ネットワークマップ再構築のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		nodes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "networkmap_nodes",
			Help: "現在のネットワークマップに含まれるノード数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "networkmap_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		certRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "networkmap_certificate_requests_total",
			Help: "ドアマンが受け付けた証明書署名要求の合計数",
		}),
	}

	reg.MustRegister(
		c.publish,
		c.rebuild,
		c.rebuildLatency,
		c.nodes,
		c.httpStatus,
		c.certRequests,
	)

	return c
}

// RecordPublish はノード情報公開の結果を記録する。
func (c *Collector) RecordPublish(result string) {
	c.publish.WithLabelValues(result).Inc()
}

// RecordRebuild はネットワークマップ再構築の所要時間とノード数を記録する。
func (c *Collector) RecordRebuild(duration time.Duration, nodeCount int) {
	c.rebuild.Inc()
	c.rebuildLatency.Observe(duration.Seconds())
	c.nodes.Set(float64(nodeCount))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCertificateRequest は証明書署名要求の受け付けを記録する。
func (c *Collector) RecordCertificateRequest() {
	c.certRequests.Inc()
}

// Nop は何も記録しないMetricsCollector。
type Nop struct{}

func (Nop) RecordPublish(string)             {}
func (Nop) RecordRebuild(time.Duration, int) {}
func (Nop) RecordHTTPStatus(int)             {}
func (Nop) RecordCertificateRequest()        {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
