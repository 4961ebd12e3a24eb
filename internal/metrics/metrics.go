// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// Discordクライアント、トークン管理、ワークフロー、ワーカーから利用する。
type MetricsCollector interface {
	RecordDiscordCall(operation, outcome string, duration time.Duration)
	RecordTokenRefresh(outcome string)
	RecordUsernameChange(outcome string)
	RecordTokensCleaned(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	discordCalls    *prometheus.CounterVec
	discordLatency  *prometheus.HistogramVec
	tokenRefreshes  *prometheus.CounterVec
	usernameChanges *prometheus.CounterVec
	tokensCleaned   prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		discordCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icantchat_discord_calls_total",
			Help: "Discord API呼び出しの合計数（操作・結果別）",
		}, []string{"operation", "outcome"}),
		discordLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "icantchat_discord_call_latency_seconds",
			Help:    "Discord API呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		tokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icantchat_token_refresh_total",
			Help: "トークンリフレッシュの合計数（結果別）",
		}, []string{"outcome"}),
		usernameChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "icantchat_username_change_total",
			Help: "ニックネーム変更の合計数（結果別）",
		}, []string{"outcome"}),
		tokensCleaned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "icantchat_tokens_cleaned_total",
			Help: "クリーンアップで削除されたトークンの合計数",
		}),
	}

	reg.MustRegister(
		c.discordCalls,
		c.discordLatency,
		c.tokenRefreshes,
		c.usernameChanges,
		c.tokensCleaned,
	)

	return c
}

// RecordDiscordCall はDiscord API呼び出しの結果とレイテンシを記録する。
func (c *Collector) RecordDiscordCall(operation, outcome string, duration time.Duration) {
	c.discordCalls.WithLabelValues(operation, outcome).Inc()
	c.discordLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTokenRefresh はトークンリフレッシュの結果を記録する。
func (c *Collector) RecordTokenRefresh(outcome string) {
	c.tokenRefreshes.WithLabelValues(outcome).Inc()
}

// RecordUsernameChange はニックネーム変更の結果を記録する。
func (c *Collector) RecordUsernameChange(outcome string) {
	c.usernameChanges.WithLabelValues(outcome).Inc()
}

// RecordTokensCleaned はクリーンアップで削除したトークン数を記録する。
func (c *Collector) RecordTokensCleaned(count int64) {
	c.tokensCleaned.Add(float64(count))
}

// NewRegistry はGoランタイムとプロセスのメトリクスを登録済みのレジストリを返す。
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
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

var _ MetricsCollector = (*Collector)(nil)
