package refresh

import (
	"time"

	"github.com/hitoshi/podcatch/internal/episode"
)

// Stats は1回の同期での項目処理の内訳。
type Stats struct {
	Items    int // パースされた項目数
	Inserted int
	Existing int
	Skipped  map[episode.SkipReason]int
	Failed   int // ストア障害以外のエラーで処理できなかった項目
}

// Outcome は同期1回の結果。Errがnilなら成功。
type Outcome struct {
	SubscriptionID int64
	FeedURL        string
	SyncID         string
	Title          string
	NewEpisodes    int
	Deleted        int64 // 同期後のクリーンアップで削除されたエピソード数
	Stats          Stats
	HTTPStatus     int
	FetchDuration  time.Duration
	Duration       time.Duration
	Err            *SyncError
}

// OK は同期が成功したかどうかを返す。
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Result はメトリクスやログ用の結果ラベルを返す。
func (o Outcome) Result() string {
	if o.Err == nil {
		return "success"
	}
	return o.Err.Kind.Label()
}

// Reporter は同期結果の通知先。
type Reporter interface {
	Report(out Outcome)
}

// ReporterFunc は関数をReporterとして使うためのアダプター。
type ReporterFunc func(out Outcome)

// Report はfを呼び出す。
func (f ReporterFunc) Report(out Outcome) {
	f(out)
}
