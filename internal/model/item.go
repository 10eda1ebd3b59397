package model

import "time"

// Episode は音声を持つフィード項目を表す。
// IDは音声URLから ident.FromURL で導出され、重複排除の唯一のキーとなる。
type Episode struct {
	ID               int64
	SubscriptionID   int64
	Title            string
	AudioURL         string
	SizeBytes        int64 // 0は不明
	Description      string
	ShortDescription string
	Link             string
	PublishedAt      time.Time // 補正済み
	State            EpisodeState
	LastSeenAt       time.Time
	CreatedAt        time.Time
}

// EpisodeState はエピソードの状態を表す。
type EpisodeState int

const (
	// EpisodeNew はユーザーに新着として提示する状態。
	EpisodeNew EpisodeState = iota
	// EpisodeGone は保存済みだが新着扱いしない状態。クリーンアップ対象になる。
	EpisodeGone
)

// String は状態名を返す。
func (s EpisodeState) String() string {
	if s == EpisodeNew {
		return "new"
	}
	return "gone"
}

// Enclosure はフィード項目の添付メディアを表す。
type Enclosure struct {
	URL    string
	Type   string
	Length int64 // 0は不明
}

// ParsedItem はフィードパーサーから取得した未保存の項目データを表す。
// 公開日時はパーサーが解釈できなかった場合nil。
type ParsedItem struct {
	Title       string
	Link        string
	Description string
	ImageURL    string
	PublishedAt *time.Time
	Enclosures  []Enclosure
}
