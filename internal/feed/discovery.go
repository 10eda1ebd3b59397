package feed

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/podcatch/internal/model"
)

// FeedType はフィードの種類を表す。
type FeedType string

const (
	FeedTypeRSS  FeedType = "rss"
	FeedTypeAtom FeedType = "atom"
	FeedTypeJSON FeedType = "json"
)

// linkTypes は<link rel="alternate">のtype属性とフィード種別の対応。
var linkTypes = map[string]FeedType{
	"application/rss+xml":   FeedTypeRSS,
	"application/atom+xml":  FeedTypeAtom,
	"application/feed+json": FeedTypeJSON,
}

// xmlContentTypes はボディを見てフィードか判定するContent-Type。
var xmlContentTypes = []string{
	"text/xml",
	"application/xml",
}

// Candidate はHTMLから検出されたフィード候補を表す。
type Candidate struct {
	URL   string
	Type  FeedType
	Title string
}

// HTTPGuard はSSRF対策付きのHTTPクライアントを提供する。
type HTTPGuard interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// DiscoveryOptions はDiscovererの設定。
type DiscoveryOptions struct {
	Timeout     time.Duration
	MaxBodySize int64
	UserAgent   string
}

// Discoverer は入力URLがフィードでなければ、HTMLページからフィードURLを探す。
type Discoverer struct {
	guard HTTPGuard
	opts  DiscoveryOptions
}

// NewDiscoverer はDiscovererを生成する。
func NewDiscoverer(guard HTTPGuard, opts DiscoveryOptions) *Discoverer {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 5 << 20
	}
	return &Discoverer{guard: guard, opts: opts}
}

// Discover はフィードURLを返す。
// 入力URLがフィードそのものならそのまま返し、HTMLならheadのalternateリンクから最適な候補を返す。
// 取得に失敗した場合はFETCH_FAILED、フィードが見つからない場合はFEED_NOT_DETECTEDのAPIErrorを返す。
func (d *Discoverer) Discover(ctx context.Context, rawURL string) (string, error) {
	if err := d.guard.ValidateURL(rawURL); err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	if d.opts.UserAgent != "" {
		req.Header.Set("User-Agent", d.opts.UserAgent)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/feed+json, application/xml, text/xml, text/html;q=0.9, */*;q=0.8")

	resp, err := d.guard.NewSafeClient(d.opts.Timeout, d.opts.MaxBodySize).Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.opts.MaxBodySize))
	if err != nil {
		return "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	// リダイレクト後のURLを基準に相対リンクを解決する
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	contentType := resp.Header.Get("Content-Type")
	if IsDirectFeed(contentType, body) {
		return rawURL, nil
	}
	if !strings.Contains(mediaTypeOf(contentType), "html") {
		return "", model.NewFeedNotDetectedError(rawURL)
	}

	best := SelectBest(ParseFeedLinks(body, finalURL), finalURL)
	if best == nil {
		return "", model.NewFeedNotDetectedError(rawURL)
	}
	return best.URL, nil
}

func mediaTypeOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	return strings.ToLower(mediaType)
}

// IsDirectFeed はContent-Typeとボディからレスポンスがフィード文書かどうかを判定する。
func IsDirectFeed(contentType string, body []byte) bool {
	mediaType := mediaTypeOf(contentType)
	if _, ok := linkTypes[mediaType]; ok {
		return true
	}

	isXML := false
	for _, ct := range xmlContentTypes {
		if mediaType == ct {
			isXML = true
			break
		}
	}
	if !isXML || len(body) == 0 {
		return false
	}
	return looksLikeXMLFeed(body)
}

// looksLikeXMLFeed はXMLボディの先頭4KBにRSS/RDF/Atomのルート要素があるかを見る。
func looksLikeXMLFeed(body []byte) bool {
	if len(body) > 4096 {
		body = body[:4096]
	}
	prefix := strings.ToLower(string(body))

	if strings.Contains(prefix, "<rss") || strings.Contains(prefix, "<rdf:rdf") {
		return true
	}
	return strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom")
}

// ParseFeedLinks はHTMLのheadからrel="alternate"のフィードリンクを抽出する。
// 相対URLはbaseURLを基準に解決する。
func ParseFeedLinks(htmlBody []byte, baseURL string) []Candidate {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}

	var candidates []Candidate
	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	for {
		switch z.Next() {
		case html.ErrorToken:
			return candidates

		case html.EndTagToken:
			if tn, _ := z.TagName(); string(tn) == "head" {
				return candidates
			}

		case html.StartTagToken, html.SelfClosingTagToken:
			tn, hasAttr := z.TagName()
			if string(tn) == "body" {
				return candidates
			}
			if string(tn) != "link" || !hasAttr {
				continue
			}

			var rel, typ, href, title string
			for more := true; more; {
				var key, val []byte
				key, val, more = z.TagAttr()
				switch strings.ToLower(string(key)) {
				case "rel":
					rel = strings.ToLower(string(val))
				case "type":
					typ = strings.ToLower(strings.TrimSpace(string(val)))
				case "href":
					href = strings.TrimSpace(string(val))
				case "title":
					title = string(val)
				}
			}

			feedType, ok := linkTypes[typ]
			if !ok || href == "" || !hasToken(rel, "alternate") {
				continue
			}
			ref, err := url.Parse(href)
			if err != nil {
				continue
			}
			candidates = append(candidates, Candidate{
				URL:   base.ResolveReference(ref).String(),
				Type:  feedType,
				Title: title,
			})
		}
	}
}

// hasToken は空白区切りのrel属性にtokenが含まれるかを返す。
func hasToken(rel, token string) bool {
	for _, f := range strings.Fields(rel) {
		if f == token {
			return true
		}
	}
	return false
}

// SelectBest は候補から購読するフィードを選ぶ。
// 同一ホスト(+100)、RSS(+10)、コメントフィードでない(+1)の順に優先し、同点なら先頭を選ぶ。
// ポッドキャストの配信はRSSのenclosureが前提のためAtomよりRSSを優先する。
func SelectBest(candidates []Candidate, pageURL string) *Candidate {
	if len(candidates) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	bestIdx, bestScore := 0, -1
	for i, c := range candidates {
		score := 0
		if hostOf(c.URL) == pageHost {
			score += 100
		}
		if c.Type == FeedTypeRSS {
			score += 10
		}
		if !isCommentFeed(c) {
			score++
		}
		if score > bestScore {
			bestIdx, bestScore = i, score
		}
	}
	return &candidates[bestIdx]
}

func isCommentFeed(c Candidate) bool {
	return strings.Contains(strings.ToLower(c.Title), "comment") ||
		strings.Contains(strings.ToLower(c.URL), "/comments/")
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
