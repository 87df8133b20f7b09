package auth

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// HeaderForwardedFor carries the client chain appended by each proxy hop.
const HeaderForwardedFor = "x-forwarded-for"

// Proxies is the set of networks whose forwarded-for headers are believed.
// The zero value trusts nobody, so the origin is always the direct peer.
type Proxies struct {
	nets []netip.Prefix
}

// ParseProxies reads a comma-separated list of CIDRs or bare addresses.
func ParseProxies(list string) (Proxies, error) {
	var p Proxies
	for _, raw := range strings.Split(list, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return Proxies{}, fmt.Errorf("trusted proxy %q: %w", raw, err)
			}
			p.nets = append(p.nets, netip.PrefixFrom(addr.Unmap(), addr.Unmap().BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return Proxies{}, fmt.Errorf("trusted proxy %q: %w", raw, err)
		}
		p.nets = append(p.nets, prefix.Masked())
	}
	return p, nil
}

func (p Proxies) trusted(host string) bool {
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, n := range p.nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

// Origin resolves the client address recorded with an NDA acceptance.
// peer is the transport-level remote address; forwarded is the raw
// x-forwarded-for value. The forwarded chain is walked right to left only
// while each hop is a trusted proxy, so a client cannot inject an address.
func (p Proxies) Origin(peer, forwarded string) string {
	origin := hostOf(peer)
	if !p.trusted(origin) || forwarded == "" {
		return origin
	}
	hops := strings.Split(forwarded, ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := hostOf(hops[i])
		if hop == "" {
			break
		}
		origin = hop
		if !p.trusted(hop) {
			break
		}
	}
	return origin
}

func hostOf(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
