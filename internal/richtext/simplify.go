// Package richtext はフィードのHTML記述を、表示側が扱えるフラットなリッチテキストへ簡略化する。
//
// 変換は名前付きステージの順序付きリストとして定義される。
// 後段のステージは前段の結果を前提にしているため、順序を入れ替えてはならない。
package richtext

import (
	"html"
	"regexp"
	"strings"

	"github.com/hitoshi/podcatch/internal/security"
)

// LineBreak は簡略化後のテキストで使用する正規の改行マーカー。
const LineBreak = "<br/>"

// Stage は簡略化パイプラインの1段を表す。
type Stage struct {
	Name  string
	Apply func(string) string
}

const brTag = `</?br[^>]*>`

var (
	listItemPattern  = regexp.MustCompile(`(?i)<li(?:\s[^>]*)?>`)
	lineBreakPattern = regexp.MustCompile(`(?i)</?img(?:\s[^>]*)?>|</li(?:\s[^>]*)?>|\r?\n`)
	paragraphPattern = regexp.MustCompile(`</?p(?:\s[^>]*)?>`)
	trimStartPattern = regexp.MustCompile(`^(?:\s|` + brTag + `)+`)
	trimEndPattern   = regexp.MustCompile(`(?:\s|` + brTag + `)+$`)
	brRepeatPattern  = regexp.MustCompile(`(?:\s*` + brTag + `\s*)+`)
	entityPattern    = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)
)

var sanitizer = security.NewRichTextSanitizer()

// Stages は簡略化パイプラインを適用順に並べたもの。
var Stages = []Stage{
	{Name: "list-bullets", Apply: replaceListItems},
	{Name: "line-breaks", Apply: replaceLineBreaks},
	{Name: "sanitize", Apply: sanitizer.Sanitize},
	{Name: "paragraphs", Apply: replaceParagraphs},
	{Name: "unescape", Apply: unescapeText},
	{Name: "trim", Apply: trim},
	{Name: "collapse-breaks", Apply: collapseBreaks},
	{Name: "link-email", Apply: linkEmails},
	{Name: "link-web-url-no-proto", Apply: linkBareDomains},
	{Name: "link-web-url", Apply: linkWebURLs},
	{Name: "link-phone", Apply: linkPhones},
}

// Simplify はHTMLをStagesの順に変換して返す。
// 不正なHTMLでもpanicせず、解釈できない断片はテキストとして残る。
func Simplify(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return Apply(s, Stages)
}

// Apply は任意のステージ列を順に適用する。
// 途中のステージがpanicした場合は、その直前までの結果を返す。
func Apply(s string, stages []Stage) (out string) {
	out = s
	defer func() { _ = recover() }()
	for _, st := range stages {
		out = st.Apply(out)
	}
	return out
}

// replaceListItems はリスト項目の開始タグを箇条書き記号に置き換える。
// サニタイズ時にliタグが除去されても項目の区切りが残るようにする。
func replaceListItems(s string) string {
	return listItemPattern.ReplaceAllLiteralString(s, "•")
}

// replaceLineBreaks は改行文字・画像・リスト項目の終了タグを改行マーカーに揃える。
func replaceLineBreaks(s string) string {
	return lineBreakPattern.ReplaceAllLiteralString(s, LineBreak)
}

// replaceParagraphs はサニタイズ後に残った段落タグを改行マーカーに置き換える。
func replaceParagraphs(s string) string {
	return paragraphPattern.ReplaceAllLiteralString(s, LineBreak)
}

// unescapeText はサニタイザーがエスケープした文字参照を文字に戻す。
// 「<」と「>」になる参照はそのまま残し、テキスト中の山括弧がタグとして解釈されないようにする。
func unescapeText(s string) string {
	return entityPattern.ReplaceAllStringFunc(s, func(ref string) string {
		decoded := html.UnescapeString(ref)
		if strings.ContainsAny(decoded, "<>") {
			return ref
		}
		return decoded
	})
}

// trim は先頭と末尾の空白・改行マーカーを取り除く。
func trim(s string) string {
	s = trimEndPattern.ReplaceAllLiteralString(s, "")
	return trimStartPattern.ReplaceAllLiteralString(s, "")
}

// collapseBreaks は連続する改行マーカー（間の空白を含む）を1つにまとめる。
func collapseBreaks(s string) string {
	return brRepeatPattern.ReplaceAllLiteralString(s, LineBreak)
}
