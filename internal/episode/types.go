package episode

import "github.com/hitoshi/podcatch/internal/model"

// ParsedItem は抽出対象のフィード項目。
type ParsedItem = model.ParsedItem

// SkipReason は項目がエピソードとして保存されなかった理由。
type SkipReason string

const (
	// SkipNone はスキップされていないことを表す。
	SkipNone SkipReason = ""
	// SkipNoAudio は音声ソースが見つからなかったことを表す。
	SkipNoAudio SkipReason = "no_audio"
	// SkipMalformedURL は音声URLが不正だったことを表す。
	SkipMalformedURL SkipReason = "malformed_url"
)

// Status は項目1件の処理結果の種別。
type Status int

const (
	// StatusSkipped はエピソードとして扱われなかった。
	StatusSkipped Status = iota
	// StatusExisting は既存のエピソードで、最終確認時刻のみ更新した。
	StatusExisting
	// StatusInserted は新しいエピソードとして保存した。
	StatusInserted
)

// Result は項目1件の処理結果。
type Result struct {
	Status  Status
	Skip    SkipReason
	Episode *model.Episode // StatusInserted の場合のみ設定される
}

// MarkedNew はNEWとして保存されたかどうかを返す。
func (r Result) MarkedNew() bool {
	return r.Status == StatusInserted && r.Episode != nil && r.Episode.State == model.EpisodeNew
}
