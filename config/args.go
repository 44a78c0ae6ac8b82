package config

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/samaelod/pcapreplay/types"
)

// Usage describes the positional replay arguments.
// The proxy port is given only for client-tor.
const Usage = "<client|client-vpn|client-tor|server|server-vpn|server-tor> [proxy-port] <server-host> <tcp-port> <client-ip> <net-addr> <mask> <timeout-sec> <pcap>..."

// ParseRole splits a role keyword into the replayed side and its mode.
func ParseRole(s string) (types.Role, types.Mode, error) {
	side, variant, _ := strings.Cut(strings.ToLower(s), "-")

	var role types.Role
	switch side {
	case "client":
		role = types.RoleClient
	case "server":
		role = types.RoleServer
	default:
		return 0, 0, fmt.Errorf("%w: unknown role %q", types.ErrConfig, s)
	}

	switch variant {
	case "":
		return role, types.ModePlain, nil
	case "vpn":
		return role, types.ModeVpnTunnel, nil
	case "tor":
		return role, types.ModeTor, nil
	}
	return 0, 0, fmt.Errorf("%w: unknown role %q", types.ErrConfig, s)
}

// TakesProxyPort reports whether the role keyword is followed by a proxy
// port. Only the client dials through the SOCKS5 proxy.
func TakesProxyPort(role types.Role, mode types.Mode) bool {
	return role == types.RoleClient && mode == types.ModeTor
}

// RoleKeyword is the inverse of ParseRole.
func RoleKeyword(role types.Role, mode types.Mode) string {
	switch mode {
	case types.ModeVpnTunnel:
		return role.String() + "-vpn"
	case types.ModeTor:
		return role.String() + "-tor"
	}
	return role.String()
}

func parsePort(name, s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil || p <= 0 || p > 65535 {
		return 0, fmt.Errorf("%w: %s %q is not a valid port", types.ErrConfig, name, s)
	}
	return p, nil
}

func parseIPv4(name, s string) (netip.Addr, error) {
	a, err := netip.ParseAddr(s)
	if err != nil || !a.Is4() {
		return netip.Addr{}, fmt.Errorf("%w: %s %q is not a dotted-quad IPv4 address", types.ErrConfig, name, s)
	}
	return a, nil
}

// ParseArgs turns the positional replay arguments into a configuration. The
// timeout is converted to a deadline relative to now.
func ParseArgs(args []string, now time.Time) (*types.ReplayConfig, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%w: usage: %s", types.ErrConfig, Usage)
	}

	role, mode, err := ParseRole(args[0])
	if err != nil {
		return nil, err
	}
	cfg := &types.ReplayConfig{Role: role, Mode: mode}
	rest := args[1:]

	if TakesProxyPort(role, mode) {
		if len(rest) == 0 {
			return nil, fmt.Errorf("%w: usage: %s", types.ErrConfig, Usage)
		}
		if cfg.ProxyPort, err = parsePort("proxy port", rest[0]); err != nil {
			return nil, err
		}
		rest = rest[1:]
	}

	if len(rest) < 7 {
		return nil, fmt.Errorf("%w: usage: %s", types.ErrConfig, Usage)
	}

	cfg.ServerHost = rest[0]
	if cfg.TCPPort, err = parsePort("server port", rest[1]); err != nil {
		return nil, err
	}
	if cfg.TCPPort == 65535 {
		return nil, fmt.Errorf("%w: server port leaves no room for the udp port", types.ErrConfig)
	}
	if cfg.CaptureClientIP, err = parseIPv4("client ip", rest[2]); err != nil {
		return nil, err
	}
	if cfg.LocalNet, err = parseIPv4("network address", rest[3]); err != nil {
		return nil, err
	}

	mask, err := strconv.Atoi(rest[4])
	if err != nil || mask < 0 || mask > 32 {
		return nil, fmt.Errorf("%w: mask %q must be a prefix length between 0 and 32", types.ErrConfig, rest[4])
	}
	cfg.MaskBits = mask

	timeout, err := strconv.Atoi(rest[5])
	if err != nil || timeout < 0 {
		return nil, fmt.Errorf("%w: timeout %q must be a number of seconds", types.ErrConfig, rest[5])
	}
	cfg.Deadline = now.Add(time.Duration(timeout) * time.Second)
	cfg.Captures = append([]string(nil), rest[6:]...)

	return cfg, nil
}

// FormatArgs renders cfg back into positional arguments, using timeout in
// place of the absolute deadline.
func FormatArgs(cfg *types.ReplayConfig, timeout time.Duration) []string {
	args := []string{RoleKeyword(cfg.Role, cfg.Mode)}
	if TakesProxyPort(cfg.Role, cfg.Mode) {
		args = append(args, strconv.Itoa(cfg.ProxyPort))
	}
	args = append(args,
		cfg.ServerHost,
		strconv.Itoa(cfg.TCPPort),
		cfg.CaptureClientIP.String(),
		cfg.LocalNet.String(),
		strconv.Itoa(cfg.MaskBits),
		strconv.Itoa(int(timeout/time.Second)),
	)
	return append(args, cfg.Captures...)
}
