// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder はメトリクス記録のインターフェース。
// サービス層とミドルウェアから利用する。
type Recorder interface {
	RecordRegistration(result string)
	RecordLogin(result string)
	RecordTokenIssueFailure(code string)
	RecordUploadLatency(duration time.Duration, success bool)
	RecordHTTPStatus(statusCode int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	registrations      *prometheus.CounterVec
	logins             *prometheus.CounterVec
	tokenIssueFailures *prometheus.CounterVec
	uploadLatency      *prometheus.HistogramVec
	httpStatus         *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_registrations_total",
			Help: "結果別のユーザー登録リクエスト数",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_logins_total",
			Help: "結果別のログインリクエスト数",
		}, []string{"result"}),
		tokenIssueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_token_issue_failures_total",
			Help: "内部エラーコード別のトークン発行失敗数",
		}, []string{"code"}),
		uploadLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "accounts_avatar_upload_latency_seconds",
			Help:    "アバターアップロードのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "accounts_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
	}

	reg.MustRegister(
		c.registrations,
		c.logins,
		c.tokenIssueFailures,
		c.uploadLatency,
		c.httpStatus,
	)

	return c
}

// RecordRegistration は登録結果を記録する。
func (c *Collector) RecordRegistration(result string) {
	c.registrations.WithLabelValues(result).Inc()
}

// RecordLogin はログイン結果を記録する。
func (c *Collector) RecordLogin(result string) {
	c.logins.WithLabelValues(result).Inc()
}

// RecordTokenIssueFailure はトークン発行失敗を内部エラーコード付きで記録する。
func (c *Collector) RecordTokenIssueFailure(code string) {
	c.tokenIssueFailures.WithLabelValues(code).Inc()
}

// RecordUploadLatency はアップロードのレイテンシを記録する。
func (c *Collector) RecordUploadLatency(duration time.Duration, success bool) {
	c.uploadLatency.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// Nop は何も記録しないRecorder。
type Nop struct{}

func (Nop) RecordRegistration(string)               {}
func (Nop) RecordLogin(string)                      {}
func (Nop) RecordTokenIssueFailure(string)          {}
func (Nop) RecordUploadLatency(time.Duration, bool) {}
func (Nop) RecordHTTPStatus(int)                    {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

var (
	_ Recorder = (*Collector)(nil)
	_ Recorder = Nop{}
)
