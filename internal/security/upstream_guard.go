// Package security はBFFと端末クライアントのセキュリティ機能を提供する。
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

// blockedNetworks は上流として許可しないネットワーク範囲。
// パッケージ初期化時に1回だけパースする。
var blockedNetworks []net.IPNet

func init() {
	cidrs := []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"127.0.0.0/8",
		// メタデータIP (169.254.169.254) を含む
		"169.254.0.0/16",
		"0.0.0.0/8",
		"::1/128",
		"fe80::/10",
		"fc00::/7",
	}
	for _, cidr := range cidrs {
		_, network, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("invalid CIDR in blockedNetworks: %s: %v", cidr, err))
		}
		blockedNetworks = append(blockedNetworks, *network)
	}
}

// blockedHostnames はブロック対象のホスト名。
var blockedHostnames = []string{
	"localhost",
	"metadata.google.internal",
}

// UpstreamGuard は認証プロキシの転送先（AUTH_DOMAIN）を検証する。
// 設定ミスや環境変数の改ざんでBFFが内部ネットワークへの踏み台になることを防ぐ。
type UpstreamGuard struct {
	timeout time.Duration
}

// NewUpstreamGuard はUpstreamGuardを生成する。
func NewUpstreamGuard(timeout time.Duration) *UpstreamGuard {
	return &UpstreamGuard{timeout: timeout}
}

// ValidateHost は転送先ホストの安全性を静的に検証する。
// DNS解決後のIP検証はTransportのDialer側で行う。
func (g *UpstreamGuard) ValidateHost(host string) error {
	if host == "" {
		return fmt.Errorf("empty upstream host")
	}

	// スキームやパスが含まれていないこと
	parsed, err := url.Parse("https://" + host)
	if err != nil {
		return fmt.Errorf("invalid upstream host %q: %w", host, err)
	}
	if parsed.Host != host || parsed.Path != "" {
		return fmt.Errorf("invalid upstream host %q", host)
	}

	hostname := parsed.Hostname()
	if port := parsed.Port(); port != "" && port != "443" {
		return fmt.Errorf("disallowed upstream port: %s", port)
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if isBlockedIP(ip) {
			return fmt.Errorf("blocked IP address: %s", ip.String())
		}
		return nil
	}

	if isBlockedHostname(hostname) {
		return fmt.Errorf("blocked host: %s", hostname)
	}

	return nil
}

// Transport はsafeurlによるIP検証付きのRoundTripperを返す。
// safeurlはnet.DialerのControlフックでDNS解決後のIPアドレスを検証するため、
// DNS再バインディングにも対応する。
func (g *UpstreamGuard) Transport() http.RoundTripper {
	config := safeurl.GetConfigBuilder().
		SetTimeout(g.timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()

	return safeurl.Client(config).Client.Transport
}

// isBlockedIP はIPアドレスがブロック対象のネットワーク範囲に含まれるかを検証する。
func isBlockedIP(ip net.IP) bool {
	for _, network := range blockedNetworks {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// isBlockedHostname はホスト名がブロック対象かを検証する。
func isBlockedHostname(host string) bool {
	lower := strings.TrimSuffix(strings.ToLower(host), ".")
	for _, blocked := range blockedHostnames {
		if lower == blocked || strings.HasSuffix(lower, "."+blocked) {
			return true
		}
	}
	return false
}
