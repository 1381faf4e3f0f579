// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// maxRedirects は画像取り込みで追従するリダイレクトの上限。
const maxRedirects = 3

// ErrResponseTooLarge はContent-Lengthが上限を超えるレスポンスを表す。
var ErrResponseTooLarge = errors.New("response exceeds size limit")

// SSRFGuardService はサプライヤーが入力した外部URLを取得する際の防御を提供する。
type SSRFGuardService interface {
	// NewSafeClient は接続先IPの検証付きHTTPクライアントを生成する。
	// 検証はDNS解決後のダイアル時に行われるため、DNS再バインディングも防げる。
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client

	// ValidateURL はDNS解決を伴わない事前検証を行う。
	ValidateURL(rawURL string) error
}

// blockedPrefixes は内部向けのアドレス範囲。
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIPを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("ff00::/8"),
}

// blockedHostSuffixes は名前解決で内部に向く可能性の高いホスト名の接尾辞。
var blockedHostSuffixes = []string{".localhost", ".local", ".internal"}

type ssrfGuard struct {
	ports []int
}

// NewSSRFGuard は80/443番ポートのみを許可するガードを生成する。
func NewSSRFGuard() *ssrfGuard {
	return &ssrfGuard{ports: []int{80, 443}}
}

// NewSafeClient はsafeurlでダイアル先を検証するクライアントを返す。
// リダイレクトは各ホップでValidateURLを通し、maxRedirects回まで追従する。
// Content-LengthがmaxResponseSizeを超えるレスポンスは本文を読む前に拒否する。
func (g *ssrfGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(g.ports...).
		Build()

	client := safeurl.Client(config).Client
	client.Transport = &limitTransport{next: client.Transport, max: maxResponseSize}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}
		return g.ValidateURL(req.URL.String())
	}
	return client
}

// ValidateURL はスキーム・ホスト・IPリテラルを静的に検証する。
func (g *ssrfGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return errors.New("empty URL")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("disallowed scheme: %q", u.Scheme)
	}
	if u.User != nil {
		return errors.New("credentials in URL are not allowed")
	}

	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return fmt.Errorf("empty host in URL: %s", rawURL)
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		if blockedAddr(addr) {
			return fmt.Errorf("blocked IP address: %s", addr)
		}
		return nil
	}

	if host == "localhost" {
		return fmt.Errorf("blocked host: %s", host)
	}
	for _, suffix := range blockedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return fmt.Errorf("blocked host: %s", host)
		}
	}
	return nil
}

func blockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// limitTransport はContent-Lengthが上限を超えるレスポンスを拒否する。
// Content-Lengthのないレスポンスは呼び出し側で読み取り量を制限すること。
type limitTransport struct {
	next http.RoundTripper
	max  int64
}

func (t *limitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	next := t.next
	if next == nil {
		next = http.DefaultTransport
	}
	resp, err := next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.max > 0 && resp.ContentLength > t.max {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, resp.ContentLength)
	}
	return resp, nil
}
