package refresh

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/hitoshi/podcatch/internal/metrics"
)

// Tally は複数の同期結果を集計する。並行して呼び出してよい。
type Tally struct {
	mu          sync.Mutex
	total       int
	succeeded   int
	newEpisodes int
	inserted    int
	failed      map[Kind][]string
}

// NewTally は空のTallyを生成する。
func NewTally() *Tally {
	return &Tally{failed: make(map[Kind][]string)}
}

// Report は同期結果を集計に加える。
func (t *Tally) Report(out Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.total++
	t.inserted += out.Stats.Inserted
	if out.OK() {
		t.succeeded++
		t.newEpisodes += out.NewEpisodes
		return
	}
	t.failed[out.Err.Kind] = append(t.failed[out.Err.Kind], out.FeedURL)
}

// Summary は集計結果。
type Summary struct {
	Total       int
	Succeeded   int
	NewEpisodes int
	Inserted    int
	// Failed は失敗した購読のフィードURLを種別ごとにURL順で保持する。
	Failed map[Kind][]string
}

// FailedCount は失敗した同期の数を返す。
func (s Summary) FailedCount() int {
	n := 0
	for _, urls := range s.Failed {
		n += len(urls)
	}
	return n
}

// Summary は現在の集計結果のコピーを返す。
func (t *Tally) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed := make(map[Kind][]string, len(t.failed))
	for k, urls := range t.failed {
		sorted := append([]string(nil), urls...)
		sort.Strings(sorted)
		failed[k] = sorted
	}
	return Summary{
		Total:       t.total,
		Succeeded:   t.succeeded,
		NewEpisodes: t.newEpisodes,
		Inserted:    t.inserted,
		Failed:      failed,
	}
}

// Log は集計結果をログに出力する。失敗した購読は種別ごとにWARNで出力する。
func (s Summary) Log(logger *slog.Logger) {
	logger.Info("同期サイクルの集計",
		slog.Int("total", s.Total),
		slog.Int("succeeded", s.Succeeded),
		slog.Int("failed", s.FailedCount()),
		slog.Int("new_episodes", s.NewEpisodes),
		slog.Int("inserted", s.Inserted),
	)
	for _, kind := range []Kind{KindIO, KindParse, KindStore} {
		urls := s.Failed[kind]
		if len(urls) == 0 {
			continue
		}
		logger.Warn("同期に失敗した購読",
			slog.String("kind", kind.String()),
			slog.Any("feed_urls", urls),
		)
	}
}

// MetricsReporter は同期結果をPrometheusメトリクスに記録するReporter。
type MetricsReporter struct {
	collector metrics.MetricsCollector
}

// NewMetricsReporter はMetricsReporterを生成する。
func NewMetricsReporter(collector metrics.MetricsCollector) *MetricsReporter {
	return &MetricsReporter{collector: collector}
}

// Report は同期結果をメトリクスに記録する。
func (r *MetricsReporter) Report(out Outcome) {
	r.collector.RecordRefresh(out.Result())
	if out.HTTPStatus > 0 {
		r.collector.RecordHTTPStatus(out.HTTPStatus)
	}
	if out.FetchDuration > 0 {
		r.collector.RecordFetchLatency(out.FetchDuration)
	}
	r.collector.RecordEpisodes(out.Stats.Inserted, out.NewEpisodes)
	for reason, n := range out.Stats.Skipped {
		if reason == "" {
			continue
		}
		for i := 0; i < n; i++ {
			r.collector.RecordEpisodeSkipped(string(reason))
		}
	}
	if out.Deleted > 0 {
		r.collector.RecordEpisodesDeleted(out.Deleted)
	}
}

// MultiReporter は複数のReporterに同じ結果を通知する。
type MultiReporter []Reporter

// Report はすべてのReporterに通知する。
func (m MultiReporter) Report(out Outcome) {
	for _, r := range m {
		r.Report(out)
	}
}
