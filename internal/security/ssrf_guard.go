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

// ErrDisallowedURL は外部リソースとして許可されないURLを表す。
var ErrDisallowedURL = errors.New("disallowed url")

// nonPublicPrefixes はIPリテラルとして受け付けないアドレス範囲。
// ホスト名の場合は接続時にsafeurlが解決後のIPを検証する。
var nonPublicPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"), // CGNAT
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"), // メタデータIPを含む
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::/128"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// NewOutboundClient はIdPのトークン・userinfoエンドポイントやreCAPTCHAへの
// 外向きリクエスト用HTTPクライアントを生成する。
// https:443以外、およびプライベート・ループバック・リンクローカル宛ての接続は
// safeurlがDialerレベルで拒否する。
func NewOutboundClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client
}

// ValidatePublicHTTPSURL はIdPから受け取ったアバターURL等が
// 公開ホストを指すhttps URLであることを検証する。DNS解決は行わない。
func ValidatePublicHTTPSURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("%w: empty", ErrDisallowedURL)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDisallowedURL, err)
	}

	switch {
	case !strings.EqualFold(u.Scheme, "https"):
		return fmt.Errorf("%w: scheme %q", ErrDisallowedURL, u.Scheme)
	case u.User != nil:
		return fmt.Errorf("%w: userinfo present", ErrDisallowedURL)
	case u.Hostname() == "":
		return fmt.Errorf("%w: no host", ErrDisallowedURL)
	}

	host := u.Hostname()
	if addr, err := netip.ParseAddr(host); err == nil {
		if !isPublicAddr(addr) {
			return fmt.Errorf("%w: non-public address %s", ErrDisallowedURL, addr)
		}
		return nil
	}

	if isLocalHostname(host) {
		return fmt.Errorf("%w: local host %s", ErrDisallowedURL, host)
	}
	return nil
}

// isPublicAddr はIPv4射影アドレスも含めて公開アドレスかどうかを返す。
func isPublicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range nonPublicPrefixes {
		if p.Contains(addr) {
			return false
		}
	}
	return true
}

func isLocalHostname(host string) bool {
	h := strings.ToLower(strings.TrimSuffix(host, "."))
	return h == "localhost" || strings.HasSuffix(h, ".localhost")
}
