package lua

import (
	"bytes"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/samaelod/pcapreplay/types"
)

const sampleProfile = `
local profile = {}

-- a hand written profile
profile.replay = {
	role = "client-tor",
	proxy_port = 9050,
	server_host = "203.0.113.9",
	tcp_port = 8443,
	client_ip = "10.0.0.5",
	net_addr = "10.0.0.0",
	mask = 24,
	timeout = 90,
	captures = { "one.pcap", "two.pcapng" },
}

profile.policy = {
	rotation = "rewind",
	skip_rule = "empty",
	restart = true,
	max_restarts = 4,
}

return profile
`

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestReadProfile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tor.lua", sampleProfile)

	p, err := ReadProfile(path)
	if err != nil {
		t.Fatalf("ReadProfile() error: %v", err)
	}

	want := Replay{
		Role: "client-tor", ProxyPort: 9050, ServerHost: "203.0.113.9", TCPPort: 8443,
		ClientIP: "10.0.0.5", NetAddr: "10.0.0.0", Mask: 24, Timeout: 90,
		Captures: []string{"one.pcap", "two.pcapng"},
	}
	if !reflect.DeepEqual(p.Replay, want) {
		t.Errorf("replay = %+v\nwant %+v", p.Replay, want)
	}

	now := time.Now()
	cfg, err := p.Config(now)
	if err != nil {
		t.Fatalf("Config() error: %v", err)
	}
	if cfg.Mode != types.ModeTor || cfg.ProxyPort != 9050 || cfg.UDPPort() != 8444 {
		t.Errorf("config = %+v", cfg)
	}
	if cfg.Rotation != types.RotateRewind || !cfg.Restart || cfg.MaxRestarts != 4 {
		t.Errorf("policy not applied: %+v", cfg)
	}
	if !cfg.Deadline.Equal(now.Add(90 * time.Second)) {
		t.Errorf("deadline = %v", cfg.Deadline)
	}
}

func TestReadProfileErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		body string
	}{
		{"syntax_error", "return {"},
		{"not_a_table", "return 42"},
		{"no_captures", `return { replay = { role = "client", server_host = "h", tcp_port = 1, client_ip = "1.1.1.1", net_addr = "1.1.1.0", mask = 24, timeout = 1 } }`},
		{"bad_role", `return { replay = { role = "relay", server_host = "h", tcp_port = 1, client_ip = "1.1.1.1", net_addr = "1.1.1.0", mask = 24, timeout = 1, captures = { "a" } } }`},
		{"bad_policy", `return { replay = { role = "client", server_host = "h", tcp_port = 1, client_ip = "1.1.1.1", net_addr = "1.1.1.0", mask = 24, timeout = 1, captures = { "a" } }, policy = { skip_rule = "never" } }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, tt.name+".lua", tt.body)
			if p, err := ReadProfile(path); err == nil {
				t.Errorf("ReadProfile() = %+v, want error", p)
			}
		})
	}
}

func TestWriteProfileReadsBack(t *testing.T) {
	cfg := &types.ReplayConfig{
		Role: types.RoleServer, Mode: types.ModeVpnTunnel, ServerHost: "0.0.0.0", TCPPort: 7000,
		Captures: []string{"a.pcap"}, MaskBits: 16,
		Rotation: types.RotateRoundRobin, SkipRule: types.SkipNoPush, TunnelUDP: true,
	}
	cfg.CaptureClientIP, cfg.LocalNet = mustAddr(t, "192.168.1.2"), mustAddr(t, "192.168.0.0")
	p := FromConfig(cfg, 45*time.Second)

	var buf bytes.Buffer
	if err := WriteProfile(&buf, p); err != nil {
		t.Fatal(err)
	}
	path := writeFile(t, t.TempDir(), "out.lua", buf.String())

	back, err := ReadProfile(path)
	if err != nil {
		t.Fatalf("ReadProfile() error: %v\n%s", err, buf.String())
	}
	if !reflect.DeepEqual(back, p) {
		t.Errorf("read back %+v\nwant %+v", back, p)
	}
}

func TestSaveToDir(t *testing.T) {
	dir := t.TempDir()
	recent := filepath.Join(dir, "recent")
	p := FromConfig(&types.ReplayConfig{
		Role: types.RoleClient, ServerHost: "h", TCPPort: 80, MaskBits: 24,
		CaptureClientIP: mustAddr(t, "1.1.1.1"), LocalNet: mustAddr(t, "1.1.1.0"),
		Captures: []string{"trace.pcap"},
	}, time.Minute)

	first, err := SaveToDir(recent, p, "captures/trace.pcap")
	if err != nil {
		t.Fatal(err)
	}
	second, err := SaveToDir(recent, p, "captures/trace.pcap")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(first) != "trace_1.lua" || filepath.Base(second) != "trace_2.lua" {
		t.Errorf("names = %s, %s", first, second)
	}
	if _, err := ReadProfile(first); err != nil {
		t.Errorf("generated profile does not load: %v", err)
	}

	// lua sources are copied byte for byte
	src := writeFile(t, dir, "tor.lua", sampleProfile)
	copied, err := SaveToDir(recent, nil, src)
	if err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(copied)
	if string(data) != sampleProfile {
		t.Error("lua profile was not copied verbatim")
	}
}

func TestSaveToDirUnwritable(t *testing.T) {
	file := writeFile(t, t.TempDir(), "blocker", "x")
	_, err := SaveToDir(filepath.Join(file, "recent"), nil, "a.pcap")
	if err == nil {
		t.Fatal("SaveToDir() under a regular file succeeded")
	}
	var pathErr *os.PathError
	if !errors.As(err, &pathErr) {
		t.Errorf("error %v does not carry the path", err)
	}
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	return netip.MustParseAddr(s)
}

func TestProfileArgsProxyPort(t *testing.T) {
	tests := []struct {
		role string
		want []string
	}{
		{"client-tor", []string{"client-tor", "9050", "127.0.0.1", "8000"}},
		{"server-tor", []string{"server-tor", "127.0.0.1", "8000"}},
		{"server", []string{"server", "127.0.0.1", "8000"}},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			p := &Profile{Replay: Replay{
				Role: tt.role, ProxyPort: 9050, ServerHost: "127.0.0.1", TCPPort: 8000,
				ClientIP: "10.0.0.5", NetAddr: "10.0.0.0", Mask: 24, Timeout: 60,
				Captures: []string{"a.pcap"},
			}}
			args := p.Args()
			if !reflect.DeepEqual(args[:len(tt.want)], tt.want) {
				t.Errorf("Args() = %v, want prefix %v", args, tt.want)
			}
			if _, err := p.Config(time.Now()); err != nil {
				t.Errorf("Config() error: %v", err)
			}
		})
	}
}
