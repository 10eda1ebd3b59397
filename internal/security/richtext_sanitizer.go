// Package security はアプリケーションのセキュリティ機能を提供する。
//
// RichTextSanitizer はフィード由来のHTML記述から、表示側のリッチテキストが
// 扱えるタグ以外を取り除く。bluemondayの許可リストベースのポリシーを使用する。
package security

import (
	"github.com/microcosm-cc/bluemonday"
)

// RichTextSanitizer はHTMLのサニタイズ機能のインターフェースを定義する。
type RichTextSanitizer interface {
	// Sanitize は許可タグのみを残したHTMLを返す。
	// 許可されないタグは除去されるが、その中のテキストは残る（script, styleは内容ごと除去）。
	// テキスト中の特殊文字はエスケープされた状態で返る。
	Sanitize(rawHTML string) string
}

// richTextTags は表示側のリッチテキストが解釈できる書式タグ。
var richTextTags = []string{
	"p", "br", "blockquote",
	"b", "strong", "i", "em", "cite", "dfn", "u",
	"big", "small", "sup", "sub", "tt",
	"h1", "h2", "h3", "h4", "h5", "h6",
}

// richTextSanitizer はRichTextSanitizerの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type richTextSanitizer struct {
	policy *bluemonday.Policy
}

// NewRichTextSanitizer はRichTextSanitizerの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: richTextTags
//   - aタグ: href属性のみ（http, https, mailto, telスキーム）
//   - その他の属性（style, class, on*イベント等）はすべて除去
func NewRichTextSanitizer() *richTextSanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements(richTextTags...)

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto", "tel")
	p.RequireParseableURLs(true)
	p.AllowRelativeURLs(false)

	return &richTextSanitizer{
		policy: p,
	}
}

// Sanitize はHTMLをサニタイズして許可タグのみを含むHTMLを返す。
func (s *richTextSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}
