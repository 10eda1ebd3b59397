package episode

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// MinPlausibleSize 未満の宣言サイズはプレースホルダーとみなし、実サイズを問い合わせる。
const MinPlausibleSize = 10 * 1024

// ErrMalformedURL は音声URLとして解釈できないURLを表す。
var ErrMalformedURL = errors.New("malformed audio URL")

// SizeProber は音声ファイルのサイズを問い合わせるインターフェース。
type SizeProber interface {
	// ProbeSize は音声ファイルのバイト数を返す。サーバーが長さを返さない場合は-1。
	// URLが不正な場合は ErrMalformedURL をラップしたエラーを返す。
	ProbeSize(ctx context.Context, rawURL string) (int64, error)
}

// HTTPProber はHEADリクエスト（未対応の場合GET）のContent-Lengthでサイズを調べる。
type HTTPProber struct {
	client    *http.Client
	userAgent string
}

// NewHTTPProber はHTTPProberを生成する。clientにはタイムアウト付きのSSRF防止クライアントを渡す。
func NewHTTPProber(client *http.Client, userAgent string) *HTTPProber {
	return &HTTPProber{client: client, userAgent: userAgent}
}

// CheckAudioURL は音声URLがhttp/httpsの絶対URLかどうかを検証する。
func CheckAudioURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if (scheme != "http" && scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrMalformedURL, rawURL)
	}
	return nil
}

// ProbeSize はSizeProberを実装する。
func (p *HTTPProber) ProbeSize(ctx context.Context, rawURL string) (int64, error) {
	if err := CheckAudioURL(rawURL); err != nil {
		return -1, err
	}

	size, status, err := p.contentLength(ctx, http.MethodHead, rawURL)
	if err == nil && (status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented) {
		size, status, err = p.contentLength(ctx, http.MethodGet, rawURL)
	}
	if err != nil {
		return -1, err
	}
	if status < 200 || status > 299 {
		return -1, fmt.Errorf("サイズ確認で予期しないHTTPステータス: %d", status)
	}
	return size, nil
}

// contentLength はリクエストを送り、ボディを読まずにContent-Lengthを返す。
func (p *HTTPProber) contentLength(ctx context.Context, method, rawURL string) (int64, int, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return -1, 0, fmt.Errorf("%w: %v", ErrMalformedURL, err)
	}
	if p.userAgent != "" {
		req.Header.Set("User-Agent", p.userAgent)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return -1, 0, fmt.Errorf("サイズ確認リクエストに失敗: %w", err)
	}
	resp.Body.Close()

	return resp.ContentLength, resp.StatusCode, nil
}
