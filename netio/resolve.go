package netio

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
)

// ResolveIPv4 maps a host name to the IPv4 address to dial. "localhost" is
// always loopback; otherwise the first IPv4 answer wins.
func ResolveIPv4(host string) (netip.Addr, error) {
	if strings.EqualFold(host, "localhost") {
		return netip.AddrFrom4([4]byte{127, 0, 0, 1}), nil
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		if !addr.Unmap().Is4() {
			return netip.Addr{}, sockErr("resolve "+host, fmt.Errorf("not an IPv4 address"))
		}
		return addr.Unmap(), nil
	}

	ips, err := net.LookupIP(host)
	if err != nil {
		return netip.Addr{}, sockErr("resolve "+host, err)
	}
	for _, ip := range ips {
		if v4 := ip.To4(); v4 != nil {
			return netip.AddrFrom4([4]byte(v4)), nil
		}
	}
	return netip.Addr{}, sockErr("resolve "+host, fmt.Errorf("no IPv4 address"))
}
