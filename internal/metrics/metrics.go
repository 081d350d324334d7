// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// セッション発行元ラベル
const (
	SourceIDToken   = "id_token"
	SourceBootstrap = "bootstrap"
)

// セッション検証結果ラベル
const (
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

// AuthRecorder はセッション管理から利用するメトリクス記録インターフェース。
type AuthRecorder interface {
	RecordSessionIssued(source string)
	RecordSessionVerification(result string)
	RecordSessionRevocation()
}

// HTTPRecorder はHTTPミドルウェアから利用するメトリクス記録インターフェース。
type HTTPRecorder interface {
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(duration time.Duration)
}

// CleanupRecorder はクリーンアップジョブから利用するメトリクス記録インターフェース。
type CleanupRecorder interface {
	RecordPurged(kind string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	sessionsIssued *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	revocations    prometheus.Counter
	httpStatus     *prometheus.CounterVec
	requestLatency prometheus.Histogram
	purged         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_sessions_issued_total",
			Help: "発行元別のセッション発行数",
		}, []string{"source"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_session_verifications_total",
			Help: "結果別のセッション検証数",
		}, []string{"result"}),
		revocations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "taskman_session_revocations_total",
			Help: "サブジェクト単位のセッション失効の合計数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskman_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "taskman_cleanup_purged_total",
			Help: "クリーンアップで削除されたレコード数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.sessionsIssued,
		c.verifications,
		c.revocations,
		c.httpStatus,
		c.requestLatency,
		c.purged,
	)

	return c
}

// RecordSessionIssued はセッション発行を記録する。
func (c *Collector) RecordSessionIssued(source string) {
	c.sessionsIssued.WithLabelValues(source).Inc()
}

// RecordSessionVerification はセッション検証結果を記録する。
func (c *Collector) RecordSessionVerification(result string) {
	c.verifications.WithLabelValues(result).Inc()
}

// RecordSessionRevocation はセッション失効を記録する。
func (c *Collector) RecordSessionRevocation() {
	c.revocations.Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(duration time.Duration) {
	c.requestLatency.Observe(duration.Seconds())
}

// RecordPurged はクリーンアップで削除した件数を記録する。
func (c *Collector) RecordPurged(kind string, count int64) {
	c.purged.WithLabelValues(kind).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var (
	_ AuthRecorder    = (*Collector)(nil)
	_ HTTPRecorder    = (*Collector)(nil)
	_ CleanupRecorder = (*Collector)(nil)
)
