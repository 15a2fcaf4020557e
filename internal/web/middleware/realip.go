package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
)

// ProxySet is a parsed list of trusted proxy networks.
type ProxySet []netip.Prefix

// ParseProxies parses CIDRs or bare addresses. A bare address trusts that
// single host. Entries that parse as neither are returned as errors.
func ParseProxies(entries []string) (ProxySet, []error) {
	var (
		set  ProxySet
		errs []error
	)
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if p, err := netip.ParsePrefix(e); err == nil {
			set = append(set, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			errs = append(errs, fmt.Errorf("trusted proxy %q is not a CIDR or address", e))
			continue
		}
		addr = addr.Unmap()
		set = append(set, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return set, errs
}

// Contains reports whether addr belongs to a trusted network.
func (s ProxySet) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range s {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientAddr resolves the client behind a chain of trusted proxies. The
// connection peer is used unless it is trusted; then X-Forwarded-For is
// walked from the right, skipping trusted hops, and X-Real-IP is the
// fallback. Addresses an untrusted peer claims are never used.
func (s ProxySet) clientAddr(r *http.Request) (netip.Addr, bool) {
	peer, ok := parseAddr(r.RemoteAddr)
	if !ok || !s.Contains(peer) {
		return peer, ok
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, ok := parseAddr(hops[i])
			if !ok {
				break
			}
			if !s.Contains(hop) {
				return hop, true
			}
		}
	}
	if xr, ok := parseAddr(r.Header.Get("X-Real-IP")); ok {
		return xr, true
	}
	return peer, true
}

// TrustedRealIP rewrites RemoteAddr to the client address resolved through
// the trusted proxies, so the rate limiter and request logs see the real
// client. Invalid entries are logged and skipped.
func TrustedRealIP(trusted []string) func(http.Handler) http.Handler {
	proxies, errs := ParseProxies(trusted)
	for _, err := range errs {
		slog.Warn("realip: skipping entry", "error", err)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(proxies) > 0 {
				if addr, ok := proxies.clientAddr(r); ok {
					r.RemoteAddr = addr.String()
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// parseAddr reads an address from "host:port", "[v6]:port" or a bare
// address.
func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// ClientIP returns the request's client address without its port.
func ClientIP(r *http.Request) string {
	if addr, ok := parseAddr(r.RemoteAddr); ok {
		return addr.String()
	}
	return r.RemoteAddr
}
