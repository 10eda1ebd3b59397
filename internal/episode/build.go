package episode

import (
	"strings"
	"time"

	"github.com/hitoshi/podcatch/internal/ident"
	"github.com/hitoshi/podcatch/internal/model"
	"github.com/hitoshi/podcatch/internal/richtext"
)

// DefaultNoTitle はタイトルのない項目に付けるタイトル。
const DefaultNoTitle = "Untitled episode"

// Options はエピソード生成時の設定。
type Options struct {
	NoTitle                string // タイトル未設定時の代替タイトル
	ShortDescriptionLength int    // 短い説明文の最大文字数
}

func (o Options) noTitle() string {
	if o.NoTitle == "" {
		return DefaultNoTitle
	}
	return o.NoTitle
}

// Build は項目と解決済みの音声ソースからエピソードを生成する。
// 状態はEpisodeGoneで生成され、NEW判定は呼び出し側が行う。
func Build(item ParsedItem, audio Audio, subscriptionID int64, now time.Time, opts Options) *model.Episode {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = opts.noTitle()
	}

	ep := &model.Episode{
		ID:             ident.FromURL(audio.URL),
		SubscriptionID: subscriptionID,
		Title:          title,
		AudioURL:       audio.URL,
		SizeBytes:      audio.Size,
		Link:           item.Link,
		PublishedAt:    CorrectDate(item.PublishedAt, now),
		State:          model.EpisodeGone,
		LastSeenAt:     now,
		CreatedAt:      now,
	}

	if item.Description != "" {
		ep.Description = richtext.Simplify(item.Description)
		ep.ShortDescription = richtext.ShortDescription(ep.Description, opts.ShortDescriptionLength)
	}

	return ep
}
