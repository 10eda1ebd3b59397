// Package feed はフィード文書の解析を提供する。
// gofeedでRSS/Atom/JSON Feedを解析し、同期処理が使う model.ParsedFeed に変換する。
package feed

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/podcatch/internal/model"
)

// DefaultMaxItems は1つのフィードから読み取る項目数の既定上限。
const DefaultMaxItems = 1000

// ErrMalformed はフィードとして解析できない入力を表す。
var ErrMalformed = errors.New("malformed feed")

// Parser はフィード文書の解析インターフェース。
type Parser interface {
	// Parse はrを解析し、先頭からmaxItems件までの項目を返す。
	// 構造や形式の誤りは ErrMalformed をラップしたエラーとして返す。
	Parse(r io.Reader, maxItems int) (*model.ParsedFeed, error)
}

// GofeedParser はgofeedを使用したParserの実装。
type GofeedParser struct{}

// NewParser はGofeedParserを生成する。
func NewParser() *GofeedParser {
	return &GofeedParser{}
}

// Parse はParserを実装する。maxItemsが0以下の場合はDefaultMaxItemsを使用する。
// gofeedは文書全体を解析するため、maxItemsは変換とエピソード処理の件数を制限する。
// 解析時のメモリは呼び出し側が読み取りサイズで制限する。
func (p *GofeedParser) Parse(r io.Reader, maxItems int) (*model.ParsedFeed, error) {
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}

	parsed, err := gofeed.NewParser().Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	items := parsed.Items
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	out := &model.ParsedFeed{
		Title:       strings.TrimSpace(parsed.Title),
		Link:        parsed.Link,
		Description: parsed.Description,
		ImageURL:    feedImage(parsed),
		Items:       convertGofeedItems(items),
	}
	return out, nil
}

// feedImage はチャンネル画像、なければiTunes画像のURLを返す。
func feedImage(f *gofeed.Feed) string {
	if f.Image != nil && f.Image.URL != "" {
		return f.Image.URL
	}
	if f.ITunesExt != nil {
		return f.ITunesExt.Image
	}
	return ""
}

// convertGofeedItems はgofeedの項目をmodel.ParsedItemに変換する。
func convertGofeedItems(items []*gofeed.Item) []model.ParsedItem {
	parsedItems := make([]model.ParsedItem, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		parsed := model.ParsedItem{
			Title:       item.Title,
			Link:        item.Link,
			Description: item.Description,
		}

		// 説明がない場合は本文を使用
		if parsed.Description == "" {
			parsed.Description = item.Content
		}

		// 公開日時
		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			parsed.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			parsed.PublishedAt = &t
		}

		// アートワーク
		if item.Image != nil && item.Image.URL != "" {
			parsed.ImageURL = item.Image.URL
		} else if item.ITunesExt != nil {
			parsed.ImageURL = item.ITunesExt.Image
		}

		for _, enc := range item.Enclosures {
			if enc == nil {
				continue
			}
			parsed.Enclosures = append(parsed.Enclosures, model.Enclosure{
				URL:    enc.URL,
				Type:   enc.Type,
				Length: parseLength(enc.Length),
			})
		}

		parsedItems = append(parsedItems, parsed)
	}

	return parsedItems
}

// parseLength は添付の長さ属性を解釈する。解釈できない値や負数は0（不明）とする。
func parseLength(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
