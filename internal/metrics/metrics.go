// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 認証・プロフィール操作の結果ラベル
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// MetricsCollector はメトリクス収集のインターフェース。
// サービス層、HTTPミドルウェア、ワーカーから利用する。
type MetricsCollector interface {
	// RecordAuth は認証操作（signup, signin, refresh, signout, verify）の結果を記録する。
	RecordAuth(action, outcome string)
	// RecordProfileOperation はプロフィール操作（get, ensure, update）の結果を記録する。
	RecordProfileOperation(op, outcome string)
	RecordHTTPStatus(statusCode int)
	RecordRequestLatency(method, route string, duration time.Duration)
	// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
	RecordCleanupDeleted(target string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authTotal      *prometheus.CounterVec
	profileOps     *prometheus.CounterVec
	httpStatus     *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	cleanupDeleted *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealdash_auth_total",
			Help: "認証操作の合計数（操作・結果別）",
		}, []string{"action", "outcome"}),
		profileOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealdash_profile_operations_total",
			Help: "プロフィール操作の合計数（操作・結果別）",
		}, []string{"op", "outcome"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealdash_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mealdash_http_request_duration_seconds",
			Help:    "HTTPリクエストの処理時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mealdash_cleanup_deleted_total",
			Help: "クリーンアップで削除された行数",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.authTotal,
		c.profileOps,
		c.httpStatus,
		c.requestLatency,
		c.cleanupDeleted,
	)

	return c
}

// RecordAuth は認証操作の結果を記録する。
func (c *Collector) RecordAuth(action, outcome string) {
	c.authTotal.WithLabelValues(action, outcome).Inc()
}

// RecordProfileOperation はプロフィール操作の結果を記録する。
func (c *Collector) RecordProfileOperation(op, outcome string) {
	c.profileOps.WithLabelValues(op, outcome).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordRequestLatency はルートパターン単位でリクエスト処理時間を記録する。
func (c *Collector) RecordRequestLatency(method, route string, duration time.Duration) {
	c.requestLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanupDeleted(target string, count int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(count))
}

// NopCollector は何も記録しないMetricsCollector。
// メトリクスが不要なテストやsmokeコマンドで使用する。
type NopCollector struct{}

func (NopCollector) RecordAuth(string, string)                           {}
func (NopCollector) RecordProfileOperation(string, string)               {}
func (NopCollector) RecordHTTPStatus(int)                                {}
func (NopCollector) RecordRequestLatency(string, string, time.Duration) {}
func (NopCollector) RecordCleanupDeleted(string, int64)                  {}

// Outcome はエラーの有無を結果ラベルに変換する。
func Outcome(err error) string {
	if err != nil {
		return OutcomeFailure
	}
	return OutcomeSuccess
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface checks
var (
	_ MetricsCollector = (*Collector)(nil)
	_ MetricsCollector = NopCollector{}
)
