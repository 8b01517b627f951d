// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/doyensec/safeurl"
)

// LinkGuardService は外部URLの安全性検証を提供する。
// 面接枠に登録されるケース資料・フィット質問の参照URLの事前検証と、
// 招待送付ゲートウェイ向けHTTPクライアントの生成に使う。
type LinkGuardService interface {
	// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
	// プライベートIP・ループバック・リンクローカル・メタデータIPへの
	// リクエストはDialerレベルでブロックされる。
	NewSafeClient(timeout time.Duration) *http.Client

	// ValidateURL は参照URLの安全性を登録前に静的検証する。
	// 危険なスキーム・ホスト・IPアドレスの場合はエラーを返す。
	ValidateURL(rawURL string) error
}

// allowedSchemes は参照URLで許可されるスキーム。
var allowedSchemes = []string{"http", "https"}

// blockedNetworks はValidateURLが拒否するネットワーク範囲。
// RFC 1918のプライベート帯、ループバック、リンクローカル
// （クラウドメタデータIP 169.254.169.254を含む）、カレントネットワーク、
// およびそれらのIPv6相当をカバーする。
var blockedNetworks = mustParseNetworks(
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"127.0.0.0/8",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"::1/128",
	"fe80::/10",
	"fc00::/7",
)

// mustParseNetworks はCIDR表記の一覧をパースする。定数リスト専用。
func mustParseNetworks(cidrs ...string) []net.IPNet {
	networks := make([]net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR %q: %v", cidr, err))
		}
		networks = append(networks, *network)
	}
	return networks
}

// linkGuard はLinkGuardServiceの実装。
type linkGuard struct{}

// NewLinkGuard はLinkGuardServiceの新しいインスタンスを生成する。
func NewLinkGuard() *linkGuard {
	return &linkGuard{}
}

// NewSafeClient はSSRF防止機能付きのHTTPクライアントを生成する。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// 検証後にDNSレコードを差し替えるDNS再バインディング攻撃も防止される。
// 接続先はhttp/httpsの標準ポートに限定する。
func (g *linkGuard) NewSafeClient(timeout time.Duration) *http.Client {
	config := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes(allowedSchemes...).
		SetAllowedPorts(80, 443).
		Build()

	return safeurl.Client(config).Client
}

// ValidateURL は参照URLの安全性を静的に検証する。
// DNS解決は行わないため、名前解決を要する攻撃はNewSafeClientの
// Dialer検証側で防ぐ。ここでは登録時の早期拒否だけを担う。
func (g *linkGuard) ValidateURL(rawURL string) error {
	if rawURL == "" {
		return fmt.Errorf("empty URL")
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if !isAllowedScheme(parsed.Scheme) {
		return fmt.Errorf("disallowed scheme: %s (allowed: %v)", parsed.Scheme, allowedSchemes)
	}

	host := parsed.Hostname()
	switch {
	case host == "":
		return fmt.Errorf("empty host in URL: %s", rawURL)
	case strings.EqualFold(host, "localhost"):
		return fmt.Errorf("blocked host: %s", host)
	}

	if ip := net.ParseIP(host); ip != nil && isBlockedIP(ip) {
		return fmt.Errorf("blocked IP address: %s", ip.String())
	}

	return nil
}

// isAllowedScheme はスキームが許可リストに含まれるかを返す。
func isAllowedScheme(scheme string) bool {
	for _, allowed := range allowedSchemes {
		if strings.EqualFold(scheme, allowed) {
			return true
		}
	}
	return false
}

// isBlockedIP はIPアドレスが拒否対象のネットワーク範囲に含まれるかを返す。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}
