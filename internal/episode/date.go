package episode

import "time"

// PodcastEpoch より前の公開日時は信用しない。2000年1月0日（1999年12月31日）。
var PodcastEpoch = time.Date(2000, time.January, 0, 0, 0, 0, 0, time.UTC)

// CorrectDate は公開日時を補正する。
// 未設定、nowより未来、PodcastEpochより前のいずれかの場合はnowを返す。
func CorrectDate(published *time.Time, now time.Time) time.Time {
	if published == nil || published.After(now) || published.Before(PodcastEpoch) {
		return now
	}
	return *published
}
