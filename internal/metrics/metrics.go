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
// サービス層やワーカーから利用する。
type MetricsCollector interface {
	RecordWriteSuccess(aggregate string)
	RecordWriteConflict(aggregate string)
	RecordLockTimeout(aggregate string)
	RecordWriteLatency(aggregate string, duration time.Duration)
	RecordDecision(decision string)
	RecordInvitationSent()
	RecordInvitationSkipped()
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	writeSuccess      *prometheus.CounterVec
	writeConflict     *prometheus.CounterVec
	lockTimeout       *prometheus.CounterVec
	writeLatency      *prometheus.HistogramVec
	decisions         *prometheus.CounterVec
	invitationSent    prometheus.Counter
	invitationSkipped prometheus.Counter
	httpStatus        *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		writeSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireman_write_success_total",
			Help: "集約書き込み成功の合計数",
		}, []string{"aggregate"}),
		writeConflict: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireman_write_conflict_total",
			Help: "楽観ロックのバージョン競合の合計数",
		}, []string{"aggregate"}),
		lockTimeout: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireman_lock_timeout_total",
			Help: "行ロック待ちタイムアウトの合計数",
		}, []string{"aggregate"}),
		writeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hireman_write_latency_seconds",
			Help:    "集約書き込みのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"aggregate"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireman_decisions_total",
			Help: "ラウンド判定の種別ごとの合計数",
		}, []string{"decision"}),
		invitationSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hireman_invitation_sent_total",
			Help: "送付した面接招待の合計数",
		}),
		invitationSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hireman_invitation_skipped_total",
			Help: "内容未変更または送付失敗によりスキップした招待の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hireman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.writeSuccess,
		c.writeConflict,
		c.lockTimeout,
		c.writeLatency,
		c.decisions,
		c.invitationSent,
		c.invitationSkipped,
		c.httpStatus,
	)

	return c
}

// RecordWriteSuccess は集約書き込み成功を記録する。
func (c *Collector) RecordWriteSuccess(aggregate string) {
	c.writeSuccess.WithLabelValues(aggregate).Inc()
}

// RecordWriteConflict はバージョン競合を記録する。
func (c *Collector) RecordWriteConflict(aggregate string) {
	c.writeConflict.WithLabelValues(aggregate).Inc()
}

// RecordLockTimeout は行ロック待ちタイムアウトを記録する。
func (c *Collector) RecordLockTimeout(aggregate string) {
	c.lockTimeout.WithLabelValues(aggregate).Inc()
}

// RecordWriteLatency は集約書き込みのレイテンシを記録する。
func (c *Collector) RecordWriteLatency(aggregate string, duration time.Duration) {
	c.writeLatency.WithLabelValues(aggregate).Observe(duration.Seconds())
}

// RecordDecision はラウンド判定を種別ごとに記録する。
func (c *Collector) RecordDecision(decision string) {
	c.decisions.WithLabelValues(decision).Inc()
}

// RecordInvitationSent は招待送付を記録する。
func (c *Collector) RecordInvitationSent() {
	c.invitationSent.Inc()
}

// RecordInvitationSkipped は招待スキップを記録する。
func (c *Collector) RecordInvitationSkipped() {
	c.invitationSkipped.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
