package webhook

import (
	"net"
	"strings"
)

// TrustConfig controls when forwarding headers from proxies and tunnels are
// honored during request-URL reconstruction, and carries the global developer
// escape hatches.
type TrustConfig struct {
	// AllowedHosts lists external hostnames that may appear in forwarding
	// headers. A forwarded host outside this list is ignored unless
	// TrustForwarding is set.
	AllowedHosts []string

	// TrustForwarding honors forwarding headers from any host. Only safe
	// behind a proxy you control; combine with TrustedProxies.
	TrustForwarding bool

	// TrustedProxies restricts which remote peers may supply forwarding
	// headers. Empty means any peer (the proxy check is skipped).
	TrustedProxies []string

	// AllowTunnelLoopback accepts a failed signature when the request came
	// from a loopback address through a known public-tunnel hostname.
	// Free-tier tunnel agents rewrite the Host header after the carrier
	// signs the original URL, which makes every signature check fail; this
	// carve-out trades that check away for loopback traffic only and is
	// always logged as a warning.
	AllowTunnelLoopback bool

	// SkipVerification disables all signature checks. Development only;
	// every skipped check is logged so it can never be mistaken for a
	// cryptographic pass.
	SkipVerification bool
}

// Public tunnel hostname suffixes recognized by the loopback carve-out.
var tunnelSuffixes = []string{".ngrok-free.app", ".ngrok.io", ".ngrok.app", ".ts.net"}

// RequestURL reconstructs the externally visible URL of req, the URL the
// carrier signed. Forwarding headers are honored only when the forwarded host
// is allowed by cfg and the remote peer passes the trusted-proxy check.
func RequestURL(req *Request, cfg TrustConfig) string {
	scheme := "http"
	if req.TLS {
		scheme = "https"
	}
	host := req.Host

	if fh := forwardedHost(req); fh != "" && cfg.hostTrusted(fh) && cfg.proxyTrusted(req.RemoteAddr) {
		host = fh
		if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		} else {
			// Public tunnels terminate TLS at the edge.
			scheme = "https"
		}
	}

	u := scheme + "://" + host + req.Path
	if req.RawQuery != "" {
		u += "?" + req.RawQuery
	}
	return u
}

func forwardedHost(req *Request) string {
	for _, h := range []string{"X-Original-Host", "X-Forwarded-Host", "Ngrok-Forwarded-Host"} {
		if v := req.Header.Get(h); v != "" {
			// X-Forwarded-Host may carry a chain; the first entry is
			// the client-facing host.
			if i := strings.IndexByte(v, ','); i >= 0 {
				v = strings.TrimSpace(v[:i])
			}
			return v
		}
	}
	return ""
}

func (cfg TrustConfig) hostTrusted(host string) bool {
	if cfg.TrustForwarding {
		return true
	}
	for _, allowed := range cfg.AllowedHosts {
		if strings.EqualFold(host, allowed) {
			return true
		}
	}
	return false
}

func (cfg TrustConfig) proxyTrusted(remoteAddr string) bool {
	if len(cfg.TrustedProxies) == 0 {
		return true
	}
	ip := remoteIP(remoteAddr)
	for _, trusted := range cfg.TrustedProxies {
		if ip == trusted {
			return true
		}
	}
	return false
}

func remoteIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

func isLoopback(remoteAddr string) bool {
	ip := net.ParseIP(remoteIP(remoteAddr))
	return ip != nil && ip.IsLoopback()
}

func isTunnelHost(host string) bool {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, suffix := range tunnelSuffixes {
		if strings.HasSuffix(strings.ToLower(host), suffix) {
			return true
		}
	}
	return false
}
