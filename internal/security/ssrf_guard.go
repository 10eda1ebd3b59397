// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// maxRedirects はフィードや音声URLのリダイレクトを追跡する上限。
// ポッドキャストのホスティングはトラッキング用の多段リダイレクトを挟むことが多い。
const maxRedirects = 10

var (
	// ErrBlockedURL は外向き通信が許可されないURLを表す。
	ErrBlockedURL = errors.New("blocked url")
	// ErrResponseTooLarge はレスポンスボディが上限を超えたことを表す。
	ErrResponseTooLarge = errors.New("response body too large")
)

// SSRFGuardService はSSRF防止機能のインターフェースを定義する。
// フィード取得、フィード自動検出、音声ファイルのサイズ確認、画像ダウンロードで使用される。
type SSRFGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// maxResponseSizeが正の場合、ボディの読み取りはその長さで打ち切られる。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない静的な検証を行う。
	ValidateURL(rawURL string) error
}

var allowedSchemes = []string{"http", "https"}

// blockedPrefixes は静的検証で拒否するアドレス範囲。
// 解決後のアドレスはsafeurlのDialerが検証する。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// blockedHostSuffixes はネットワーク内部を指すホスト名。
var blockedHostSuffixes = []string{"localhost", ".localhost", ".local", ".internal"}

// ssrfGuard はSSRFGuardServiceの実装。
type ssrfGuard struct {
	allowPrivate bool
}

// NewSSRFGuard は公開ネットワークのみに通信を制限するガードを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{}
}

// NewTrustedNetworkGuard はプライベートネットワークへの通信を許可するガードを生成する。
// スキームとホストの静的検証のみを行う。ALLOW_PRIVATE_NETWORKS=true の場合にのみ使用する。
func NewTrustedNetworkGuard() *ssrfGuard {
	return &ssrfGuard{allowPrivate: true}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// 信頼済みネットワークモードでは標準のTransportを使う。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	var client *http.Client
	if g.allowPrivate {
		client = &http.Client{
			Timeout:   timeout,
			Transport: http.DefaultTransport.(*http.Transport).Clone(),
		}
	} else {
		config := safeurl.GetConfigBuilder().
			SetTimeout(timeout).
			SetAllowedSchemes(allowedSchemes...).
			SetAllowedPorts(80, 443).
			Build()
		client = safeurl.Client(config).Client
	}

	client.CheckRedirect = g.checkRedirect
	if maxResponseSize > 0 {
		client.Transport = &limitedTransport{base: client.Transport, max: maxResponseSize}
	}
	return client
}

// checkRedirect はリダイレクト先にも静的検証を適用する。
func (g *ssrfGuard) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return g.ValidateURL(req.URL.String())
}

// ValidateURL はURLの安全性を事前に検証する。
// 購読登録時、自動検出で見つけたフィードURL、音声URLのサイズ確認前に使用する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty URL", ErrBlockedURL)
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("%w: disallowed scheme %q", ErrBlockedURL, parsed.Scheme)
	}

	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("%w: empty host in %s", ErrBlockedURL, rawURL)
	}
	if g.allowPrivate {
		return nil
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if isBlockedAddr(addr) {
			return fmt.Errorf("%w: address %s", ErrBlockedURL, addr)
		}
		return nil
	}
	if isBlockedHostname(host) {
		return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
	}
	return nil
}

func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedAddr はIPv4射影アドレスを展開してから範囲を照合する。
func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, suffix := range blockedHostSuffixes {
		if lower == strings.TrimPrefix(suffix, ".") || strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

// limitedTransport はレスポンスボディをmaxバイトで打ち切る。
type limitedTransport struct {
	base http.RoundTripper
	max  int64
}

func (t *limitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	resp, err := base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.ContentLength > t.max {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: Content-Length %d exceeds %d", ErrResponseTooLarge, resp.ContentLength, t.max)
	}
	resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: t.max}
	return resp, nil
}

// limitedBody は上限を超えて読もうとした時点でErrResponseTooLargeを返す。
type limitedBody struct {
	io.ReadCloser
	remaining int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// 上限ちょうどで終わるボディはEOFとして扱う
		var one [1]byte
		if n, err := b.ReadCloser.Read(one[:]); n == 0 {
			return 0, err
		}
		return 0, ErrResponseTooLarge
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.ReadCloser.Read(p)
	b.remaining -= int64(n)
	return n, err
}
