// Package episode はフィード項目からエピソードを抽出する。
//
// 音声URLの解決、公開日時の補正、NEW判定（リフレッシュウィンドウ）などの判断は
// ストアに依存しない純粋関数として提供し、永続化はExtractorが担当する。
package episode

import "strings"

// audioExtensions はポッドキャストで使われる音声ファイルの拡張子。
var audioExtensions = []string{".mp3", ".ogg", ".flac", ".aac", ".wav", ".m4a", ".oga"}

// Audio は項目から解決された音声ソース。
type Audio struct {
	URL      string
	Size     int64 // 宣言サイズ。0は不明
	FromLink bool  // 添付ではなく項目のリンクから解決した場合true
}

// IsAudioType はMIMEタイプが audio/* かどうかを返す。
func IsAudioType(mimeType string) bool {
	t := strings.ToLower(strings.TrimSpace(mimeType))
	return strings.HasPrefix(t, "audio/") && !strings.ContainsAny(t, "\r\n")
}

// PointsToAudio はURLが音声ファイルの拡張子で終わるかどうかを返す。
func PointsToAudio(link string) bool {
	lower := strings.ToLower(link)
	for _, ext := range audioExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ResolveAudio は項目の音声ソースを解決する。
//
// 添付を先頭から順に走査し、MIMEタイプが audio/* のもの、またはタイプが未設定で
// URLが音声拡張子で終わるものを候補とする。複数該当する場合は最後の候補を採用する。
// 候補がない場合は項目のリンクが音声拡張子で終わればそれを使う。
// いずれもなければfalseを返す。
func ResolveAudio(item ParsedItem) (Audio, bool) {
	var found Audio
	ok := false

	for _, enc := range item.Enclosures {
		link := strings.TrimSpace(enc.URL)
		if link == "" {
			continue
		}
		typ := strings.TrimSpace(enc.Type)
		if (typ != "" && IsAudioType(typ)) || (typ == "" && PointsToAudio(link)) {
			found = Audio{URL: link, Size: enc.Length}
			ok = true
		}
	}
	if ok {
		return found, true
	}

	if link := strings.TrimSpace(item.Link); link != "" && PointsToAudio(link) {
		return Audio{URL: link, FromLink: true}, true
	}

	return Audio{}, false
}
