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
// リフレッシュワーカーやクリーンアップジョブから利用する。
type MetricsCollector interface {
	// RecordRefresh はリフレッシュ結果を記録する。resultは "success"、"io"、"parse"、"store" のいずれか。
	RecordRefresh(result string)
	RecordHTTPStatus(statusCode int)
	RecordFetchLatency(duration time.Duration)
	RecordEpisodes(inserted, markedNew int)
	RecordEpisodeSkipped(reason string)
	RecordEpisodesDeleted(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	refreshes        *prometheus.CounterVec
	httpStatus       *prometheus.CounterVec
	fetchLatency     prometheus.Histogram
	episodesInserted prometheus.Counter
	episodesNew      prometheus.Counter
	episodesSkipped  *prometheus.CounterVec
	episodesDeleted  prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcatch_refresh_total",
			Help: "購読リフレッシュの結果別の合計数",
		}, []string{"result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcatch_http_status_total",
			Help: "フィード取得のHTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "podcatch_fetch_latency_seconds",
			Help:    "フィード取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		episodesInserted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcatch_episodes_inserted_total",
			Help: "保存されたエピソードの合計数",
		}),
		episodesNew: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcatch_episodes_marked_new_total",
			Help: "NEWとして保存されたエピソードの合計数",
		}),
		episodesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "podcatch_episodes_skipped_total",
			Help: "スキップされたフィード項目の理由別の合計数",
		}, []string{"reason"}),
		episodesDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "podcatch_episodes_deleted_total",
			Help: "クリーンアップで削除されたエピソードの合計数",
		}),
	}

	reg.MustRegister(
		c.refreshes,
		c.httpStatus,
		c.fetchLatency,
		c.episodesInserted,
		c.episodesNew,
		c.episodesSkipped,
		c.episodesDeleted,
	)

	return c
}

// RecordRefresh はリフレッシュ結果を記録する。
func (c *Collector) RecordRefresh(result string) {
	c.refreshes.WithLabelValues(result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordFetchLatency はフェッチのレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordEpisodes は保存されたエピソード数とそのうちNEWの数を記録する。
func (c *Collector) RecordEpisodes(inserted, markedNew int) {
	c.episodesInserted.Add(float64(inserted))
	c.episodesNew.Add(float64(markedNew))
}

// RecordEpisodeSkipped はスキップされた項目を理由別に記録する。
func (c *Collector) RecordEpisodeSkipped(reason string) {
	c.episodesSkipped.WithLabelValues(reason).Inc()
}

// RecordEpisodesDeleted はクリーンアップで削除されたエピソード数を記録する。
func (c *Collector) RecordEpisodesDeleted(count int64) {
	c.episodesDeleted.Add(float64(count))
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
