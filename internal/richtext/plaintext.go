package richtext

import (
	"strings"

	"golang.org/x/net/html"
)

// DefaultShortLength は短い説明文の既定の最大文字数。
const DefaultShortLength = 200

// PlainText はHTMLからタグを取り除いたテキストを返す。
// br と段落・ブロック要素の区切りは改行に、文字参照はデコード済みの文字になる。
func PlainText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			// io.EOF または不正な入力: ここまでの結果を返す
			return strings.TrimSpace(b.String())
		case html.TextToken:
			if !skip {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			tt := z.Token()
			switch tt.Data {
			case "script", "style":
				skip = tt.Type == html.StartTagToken
			case "br":
				b.WriteByte('\n')
			case "p", "div", "blockquote", "h1", "h2", "h3", "h4", "h5", "h6":
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte('\n')
				}
			}
		}
	}
}

// ShortDescription はHTMLをプレーンテキスト化し、最大maxLen文字（rune単位）に切り詰める。
// 単語境界は考慮しない。maxLenが0以下の場合はDefaultShortLengthを使用する。
func ShortDescription(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultShortLength
	}
	plain := []rune(PlainText(s))
	if len(plain) > maxLen {
		plain = plain[:maxLen]
	}
	return string(plain)
}
