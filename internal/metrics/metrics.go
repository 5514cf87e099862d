// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 結果ラベルの値。
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// 保存先ラベルの値。
const (
	TargetRemote = "remote"
	TargetLocal  = "local"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 生成メディエーター、セッションコントローラー、HTTPミドルウェアから利用する。
type MetricsCollector interface {
	RecordGenerationSuccess()
	RecordGenerationFailure(reason string)
	RecordGenerationLatency(duration time.Duration)
	RecordHistorySave(target, outcome string)
	RecordHistoryDelete(target, outcome string)
	RecordIntegrationToggle(connected bool, outcome string)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	generationSuccess prometheus.Counter
	generationFail    *prometheus.CounterVec
	generationLatency prometheus.Histogram
	historySaves      *prometheus.CounterVec
	historyDeletes    *prometheus.CounterVec
	integrationToggle *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
}

// コンパイル時にインターフェース準拠を検証する。
var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		generationSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "captionly_generation_success_total",
			Help: "キャプション生成成功の合計数",
		}),
		generationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionly_generation_fail_total",
			Help: "キャプション生成失敗の合計数",
		}, []string{"reason"}),
		generationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "captionly_generation_latency_seconds",
			Help:    "生成AI呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		historySaves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionly_history_saves_total",
			Help: "履歴保存の合計数",
		}, []string{"target", "outcome"}),
		historyDeletes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionly_history_deletes_total",
			Help: "履歴削除の合計数",
		}, []string{"target", "outcome"}),
		integrationToggle: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionly_integration_toggles_total",
			Help: "連携アカウント切り替えの合計数",
		}, []string{"action", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "captionly_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.generationSuccess,
		c.generationFail,
		c.generationLatency,
		c.historySaves,
		c.historyDeletes,
		c.integrationToggle,
		c.httpStatus,
	)

	return c
}

// RecordGenerationSuccess は生成成功を記録する。
func (c *Collector) RecordGenerationSuccess() {
	c.generationSuccess.Inc()
}

// RecordGenerationFailure は生成失敗を理由別に記録する。
func (c *Collector) RecordGenerationFailure(reason string) {
	c.generationFail.WithLabelValues(reason).Inc()
}

// RecordGenerationLatency は生成AI呼び出しのレイテンシを記録する。
func (c *Collector) RecordGenerationLatency(duration time.Duration) {
	c.generationLatency.Observe(duration.Seconds())
}

// RecordHistorySave は履歴保存を記録する。
func (c *Collector) RecordHistorySave(target, outcome string) {
	c.historySaves.WithLabelValues(target, outcome).Inc()
}

// RecordHistoryDelete は履歴削除を記録する。
func (c *Collector) RecordHistoryDelete(target, outcome string) {
	c.historyDeletes.WithLabelValues(target, outcome).Inc()
}

// RecordIntegrationToggle は連携の接続・解除を記録する。
func (c *Collector) RecordIntegrationToggle(connected bool, outcome string) {
	action := "disconnect"
	if connected {
		action = "connect"
	}
	c.integrationToggle.WithLabelValues(action, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
