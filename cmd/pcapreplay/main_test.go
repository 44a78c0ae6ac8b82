package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/lua"
	"github.com/samaelod/pcapreplay/pcaptest"
	"github.com/samaelod/pcapreplay/types"
)

const rewindProfile = `-- kept as written
return {
	replay = {
		role = "client",
		server_host = "192.0.2.10",
		tcp_port = 8000,
		client_ip = "10.0.0.5",
		net_addr = "10.0.0.0",
		mask = 24,
		timeout = 30,
		captures = { "session.pcap" },
	},
	policy = { rotation = "rewind" },
}
`

func changedSet(names ...string) func(string) bool {
	return func(name string) bool {
		for _, n := range names {
			if n == name {
				return true
			}
		}
		return false
	}
}

// execute runs the CLI with a settings file that does not exist, so every
// test starts from the built-in defaults.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.yaml")))
	err := root.Execute()
	return out.String(), err
}

func TestResolveReplayPositional(t *testing.T) {
	settings := config.Default()
	settings.Rotation = "rewind"

	f := &runFlags{policy: policyFlags{restart: true, maxRestarts: 2}}
	args := []string{"client", "192.0.2.10", "8000", "10.0.0.5", "10.0.0.0", "24", "60", "session.pcap"}
	now := time.Now()

	plan, err := resolveReplay(f, args, settings, changedSet("restart", "max-restarts"), now)
	if err != nil {
		t.Fatalf("resolveReplay() error: %v", err)
	}
	if plan.cfg.Rotation != types.RotateRewind {
		t.Errorf("settings rotation not applied: %v", plan.cfg.Rotation)
	}
	if !plan.cfg.Restart || plan.cfg.MaxRestarts != 2 || !plan.overridden {
		t.Errorf("flags not applied: %+v", plan)
	}
	if plan.source != "session.pcap" || plan.profile.Replay.Timeout != 60 {
		t.Errorf("source = %s, timeout = %d", plan.source, plan.profile.Replay.Timeout)
	}
}

func TestResolveReplayProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.lua")
	if err := os.WriteFile(path, []byte(rewindProfile), 0o600); err != nil {
		t.Fatal(err)
	}
	recent := filepath.Join(dir, "recent")

	plan, err := resolveReplay(&runFlags{profile: path}, nil, config.Default(), changedSet(), time.Now())
	if err != nil {
		t.Fatalf("resolveReplay() error: %v", err)
	}
	if plan.cfg.Rotation != types.RotateRewind || plan.overridden {
		t.Errorf("plan = %+v", plan)
	}

	saved, err := savePlan(recent, plan)
	if err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(saved); string(data) != rewindProfile {
		t.Errorf("unchanged profile was not copied verbatim:\n%s", data)
	}

	// an override makes the saved profile differ from its source
	f := &runFlags{profile: path, policy: policyFlags{tunnelUDP: true}}
	plan, err = resolveReplay(f, nil, config.Default(), changedSet("tunnel-udp"), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	saved, err = savePlan(recent, plan)
	if err != nil {
		t.Fatal(err)
	}
	p, err := lua.ReadProfile(saved)
	if err != nil {
		t.Fatalf("generated profile does not load: %v", err)
	}
	if !p.Policy.TunnelUDP || p.Policy.Rotation != "rewind" {
		t.Errorf("saved policy = %+v", p.Policy)
	}
}

func TestResolveReplayErrors(t *testing.T) {
	args := []string{"client", "h", "80", "10.0.0.5", "10.0.0.0", "24", "1", "a.pcap"}

	tests := []struct {
		name    string
		flags   *runFlags
		args    []string
		changed []string
	}{
		{"missing_profile", &runFlags{profile: "/nonexistent/p.lua"}, nil, nil},
		{"bad_args", &runFlags{}, []string{"client", "h"}, nil},
		{"negative_restarts", &runFlags{policy: policyFlags{maxRestarts: -1}}, args, []string{"max-restarts"}},
		{"bad_rotation", &runFlags{policy: policyFlags{rotation: "sideways"}}, args, []string{"rotation"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolveReplay(tt.flags, tt.args, config.Default(), changedSet(tt.changed...), time.Now())
			if !errors.Is(err, types.ErrConfig) {
				t.Errorf("resolveReplay() error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestRunRequiresArguments(t *testing.T) {
	if _, err := execute(t, "run"); !errors.Is(err, types.ErrConfig) {
		t.Errorf("run without arguments: %v", err)
	}
	if _, err := execute(t, "run", "--profile", "x.lua", "client"); !errors.Is(err, types.ErrConfig) {
		t.Errorf("run with both forms: %v", err)
	}
}

func TestProfileExportAndCheck(t *testing.T) {
	out, err := execute(t, "profile", "export",
		"client-tor", "9050", "203.0.113.9", "443", "10.0.0.5", "10.0.0.0", "24", "90", "a.pcap",
		"--rotation", "rewind")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	for _, want := range []string{`role = "client-tor"`, "proxy_port = 9050", "timeout = 90", `rotation = "rewind"`} {
		if !strings.Contains(out, want) {
			t.Errorf("exported profile missing %q:\n%s", want, out)
		}
	}

	dir := t.TempDir()
	good := filepath.Join(dir, "good.lua")
	bad := filepath.Join(dir, "bad.lua")
	if err := os.WriteFile(good, []byte(out), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("return {}"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err = execute(t, "profile", "check", good)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "run client-tor 9050 203.0.113.9 443 10.0.0.5 10.0.0.0 24 90 a.pcap") {
		t.Errorf("check output:\n%s", out)
	}

	out, err = execute(t, "profile", "check", good, bad)
	if err == nil || !strings.Contains(err.Error(), "1 of 2") {
		t.Errorf("check with an invalid profile: %v\n%s", err, out)
	}
}

func TestInspect(t *testing.T) {
	path := pcaptest.WritePcap(t, t.TempDir(), "session.pcap", []pcaptest.Packet{
		{Src: "10.0.0.5", Dst: "192.0.2.10", SrcPort: 40000, DstPort: 8000, PSH: true, Payload: []byte("hello")},
		{At: 1500 * time.Microsecond, Src: "192.0.2.10", Dst: "10.0.0.5", SrcPort: 8000, DstPort: 40000},
		{At: 2 * time.Millisecond, Src: "192.0.2.10", Dst: "10.0.0.5", SrcPort: 8000, DstPort: 40000, PSH: true, Payload: []byte("world!")},
	})

	out, err := execute(t, "inspect", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "frames:    3") || strings.Contains(out, "client:") {
		t.Errorf("summary output:\n%s", out)
	}

	out, err = execute(t, "inspect", path, "--client-ip", "10.0.0.5", "--net", "10.0.0.0", "--mask", "24")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"client:    1 packets, 5 bytes", "server:    1 packets, 6 bytes", "head start: 2ms", "ignored:   1"} {
		if !strings.Contains(out, want) {
			t.Errorf("tally output missing %q:\n%s", want, out)
		}
	}

	if _, err := execute(t, "inspect", path, "--client-ip", "::1"); !errors.Is(err, types.ErrConfig) {
		t.Errorf("ipv6 client: %v", err)
	}

	other := pcaptest.WritePcapNG(t, t.TempDir(), "other.pcapng", []pcaptest.Packet{
		{Src: "10.0.0.5", Dst: "192.0.2.10", SrcPort: 40000, DstPort: 8000, PSH: true, Payload: []byte("again")},
	})
	out, err = execute(t, "inspect", other, path, "--client-ip", "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if i, j := strings.Index(out, other), strings.Index(out, path); i < 0 || j < 0 || i > j {
		t.Errorf("reports out of argument order:\n%s", out)
	}
	if strings.Count(out, "client:    1 packets") != 2 {
		t.Errorf("each capture needs its own tally:\n%s", out)
	}

	// a greeting sent before the client spoke does not count as the reply
	greeting := pcaptest.WritePcap(t, t.TempDir(), "greeting.pcap", []pcaptest.Packet{
		{Src: "192.0.2.10", Dst: "10.0.0.5", SrcPort: 8000, DstPort: 40000, PSH: true, Payload: []byte("ready")},
		{At: time.Millisecond, Src: "10.0.0.5", Dst: "192.0.2.10", SrcPort: 40000, DstPort: 8000, PSH: true, Payload: []byte("hi")},
		{At: 5 * time.Millisecond, Src: "192.0.2.10", Dst: "10.0.0.5", SrcPort: 8000, DstPort: 40000, PSH: true, Payload: []byte("ok")},
	})
	out, err = execute(t, "inspect", greeting, "--client-ip", "10.0.0.5")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "head start: 4ms") {
		t.Errorf("head start not measured from the first client packet:\n%s", out)
	}

	if _, err := execute(t, "inspect", path, filepath.Join(t.TempDir(), "missing.pcap")); err == nil {
		t.Error("missing capture did not fail")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	for i := 0; i < 20; i++ {
		ln, err := net.Listen("tcp4", "127.0.0.1:0")
		if err != nil {
			t.Skipf("cannot listen: %v", err)
		}
		port := ln.Addr().(*net.TCPAddr).Port
		ln.Close()

		pc, err := net.ListenPacket("udp4", fmt.Sprintf("127.0.0.1:%d", port+1))
		if err != nil {
			continue
		}
		pc.Close()
		return port
	}
	t.Skip("no free tcp/udp port pair")
	return 0
}

func TestRunReplayStopsAtDeadline(t *testing.T) {
	capture := pcaptest.WritePcap(t, t.TempDir(), "session.pcap", []pcaptest.Packet{
		{Src: "10.0.0.5", Dst: "192.0.2.10", SrcPort: 40000, DstPort: 8000, Payload: []byte("hello")},
	})
	port := freePort(t)
	args := []string{"server", "127.0.0.1", fmt.Sprint(port), "10.0.0.5", "10.0.0.0", "24", "0", capture}
	cfg, err := config.ParseArgs(args, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	settings := config.Default()
	settings.PumpIntervalMs = 5
	logPath := filepath.Join(t.TempDir(), "run.log")

	var stdout, stderr bytes.Buffer
	if err := runReplay(context.Background(), cfg, settings, logPath, &stdout, &stderr); err != nil {
		t.Fatalf("runReplay() error: %v", err)
	}
	if !strings.Contains(stdout.String(), "server: sent 0 packets") {
		t.Errorf("summary = %q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "timeout reached") {
		t.Errorf("log mirror = %q", stderr.String())
	}
	if data, err := os.ReadFile(logPath); err != nil || !strings.Contains(string(data), "listening on") {
		t.Errorf("log file = %q, %v", data, err)
	}
}

func TestRunReplayCancelled(t *testing.T) {
	capture := pcaptest.WritePcap(t, t.TempDir(), "session.pcap", []pcaptest.Packet{
		{Src: "10.0.0.5", Dst: "192.0.2.10", SrcPort: 40000, DstPort: 8000, Payload: []byte("hello")},
	})
	port := freePort(t)
	args := []string{"server", "127.0.0.1", fmt.Sprint(port), "10.0.0.5", "10.0.0.0", "24", "600", capture}
	cfg, err := config.ParseArgs(args, time.Now())
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stdout, stderr bytes.Buffer
	if err := runReplay(ctx, cfg, config.Default(), "", &stdout, &stderr); err != nil {
		t.Fatalf("runReplay() error: %v", err)
	}
	if !strings.Contains(stderr.String(), "interrupted") {
		t.Errorf("log mirror = %q", stderr.String())
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil || !strings.Contains(out, "pcapreplay version dev") {
		t.Errorf("version = %q, %v", out, err)
	}
}
