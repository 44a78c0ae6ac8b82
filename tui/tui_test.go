package tui

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/pcaptest"
	"github.com/samaelod/pcapreplay/types"
)

const missingCaptureProfile = `
return {
	replay = {
		role = "server",
		server_host = "127.0.0.1",
		tcp_port = 7000,
		client_ip = "10.0.0.5",
		net_addr = "10.0.0.0",
		mask = 24,
		timeout = 30,
		captures = { "does-not-exist.pcap" },
	},
}
`

func testSettings(t *testing.T) *config.Settings {
	t.Helper()
	s := config.Default()
	s.LogsDir = t.TempDir()
	s.RecentDir = t.TempDir()
	return s
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	mm, ok := next.(Model)
	if !ok {
		t.Fatalf("Update returned %T", next)
	}
	return mm, cmd
}

func writeProfile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "server.lua")
	if err := os.WriteFile(path, []byte(missingCaptureProfile), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSourceSelect(t *testing.T) {
	m := New("test", testSettings(t), "", false)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})

	m, _ = update(t, m, key("right"))
	if m.menuCursor != 1 {
		t.Fatalf("menuCursor = %d, want 1", m.menuCursor)
	}
	m, _ = update(t, m, key("enter"))
	if m.screen != screenFilePicker || m.source != sourceRecent {
		t.Fatalf("screen = %v source = %v", m.screen, m.source)
	}
	if m.picker.Dir() != m.settings.RecentDir {
		t.Errorf("browser opened %s, want %s", m.picker.Dir(), m.settings.RecentDir)
	}

	m, _ = update(t, m, key("esc"))
	if m.screen != screenSourceSelect {
		t.Errorf("esc left screen %v", m.screen)
	}
}

func TestPicker(t *testing.T) {
	dir := t.TempDir()
	writeProfile(t, dir)
	pcaptest.WritePcap(t, dir, "trace.pcap", []pcaptest.Packet{
		{Src: "10.0.0.5", Dst: "10.0.1.1", SrcPort: 4000, DstPort: 80, Payload: []byte("hi")},
	})
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0o755); err != nil {
		t.Fatal(err)
	}

	p := NewPicker(dir, profileTypes)
	if !p.HasOpenable() {
		t.Error("HasOpenable() = false")
	}

	var names []string
	for _, it := range p.list.Items() {
		names = append(names, it.(entry).name)
	}
	want := []string{"..", "sub", "notes.txt", "server.lua", "trace.pcap"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("items = %v, want %v", names, want)
	}

	tests := []struct {
		index    int
		openable bool
		preview  string
	}{
		{1, false, "Directory: sub"},
		{2, false, "File type not supported."},
		{3, true, `role = "server"`},
		{4, false, "Frames:    1"},
	}
	for _, tt := range tests {
		t.Run(names[tt.index], func(t *testing.T) {
			p.list.Select(tt.index)
			p.refreshPreview()
			if _, ok := p.SelectedFile(); ok != tt.openable {
				t.Errorf("SelectedFile() openable = %v, want %v", ok, tt.openable)
			}
			if !strings.Contains(p.Preview(), tt.preview) {
				t.Errorf("preview %q does not contain %q", p.Preview(), tt.preview)
			}
		})
	}
}

func TestProfileLoadSavesCopy(t *testing.T) {
	settings := testSettings(t)
	src := writeProfile(t, t.TempDir())

	msg := loadProfileCmd(src, settings.RecentDir)()
	loaded, ok := msg.(profileLoadedMsg)
	if !ok {
		t.Fatalf("loadProfileCmd() = %#v", msg)
	}
	if filepath.Dir(loaded.path) != settings.RecentDir || filepath.Base(loaded.path) != "server_1.lua" {
		t.Errorf("copy saved as %s", loaded.path)
	}

	m := New("test", settings, "", false)
	m, cmd := update(t, m, loaded)
	if m.screen != screenMonitor || m.profile == nil || cmd != nil {
		t.Fatalf("screen = %v profile = %v cmd = %v", m.screen, m.profile, cmd)
	}
	if m.cfg == nil || m.cfg.Role != types.RoleServer || m.cfg.UDPPort() != 7001 {
		t.Errorf("cfg = %+v", m.cfg)
	}

	want := "pcapreplay run server 127.0.0.1 7000 10.0.0.5 10.0.0.0 24 30 does-not-exist.pcap"
	if got := commandLine(m.profile); got != want {
		t.Errorf("commandLine() = %q, want %q", got, want)
	}
}

func TestLoadProfileError(t *testing.T) {
	m := New("test", testSettings(t), filepath.Join(t.TempDir(), "absent.lua"), false)
	if m.screen != screenLoading {
		t.Fatalf("screen = %v, want loading", m.screen)
	}

	m, _ = update(t, m, m.Init()())
	if m.err == nil || m.screen != screenLoading {
		t.Fatalf("err = %v screen = %v", m.err, m.screen)
	}
	m, _ = update(t, m, key("esc"))
	if m.screen != screenSourceSelect || m.err != nil {
		t.Errorf("esc left screen %v err %v", m.screen, m.err)
	}
}

func TestAutoStartFailure(t *testing.T) {
	settings := testSettings(t)
	loaded := loadProfileCmd(writeProfile(t, t.TempDir()), "")().(profileLoadedMsg)

	m := New("test", settings, "", true)
	m, cmd := update(t, m, loaded)
	if cmd == nil || !m.starting || m.run != 1 || m.logger == nil {
		t.Fatalf("replay not started: starting=%v run=%d", m.starting, m.run)
	}

	// the engine is built by a command; run it directly
	out := newEngineCmd(m.run, *m.cfg, m.logger.Log)()
	failed, ok := out.(engineFailedMsg)
	if !ok || !errors.Is(failed.err, types.ErrConfig) {
		t.Fatalf("newEngineCmd() = %#v, want a config failure", out)
	}

	m, _ = update(t, m, failed)
	if m.starting || m.engine != nil || m.logger != nil {
		t.Errorf("failed run not released: %+v", m)
	}
	if !errors.Is(m.runErr, types.ErrConfig) {
		t.Errorf("runErr = %v", m.runErr)
	}
	if m.finished.IsZero() {
		t.Error("failed run has no end time")
	}

	// a retry gets a new run number and drops messages of the old one
	m, _ = update(t, m, key("r"))
	if m.run != 2 || !m.starting {
		t.Fatalf("restart: run=%d starting=%v", m.run, m.starting)
	}
	if _, cmd := update(t, m, tickMsg{run: 1}); cmd != nil {
		t.Error("stale tick scheduled another tick")
	}
	m, _ = update(t, m, engineFailedMsg{run: 1, err: errors.New("old")})
	if !m.starting {
		t.Error("stale failure ended the current run")
	}
	m, _ = update(t, m, key("q"))
	if m.logger != nil {
		t.Error("quit left the logger open")
	}
}

func TestMonitorKeys(t *testing.T) {
	settings := testSettings(t)
	loaded := loadProfileCmd(writeProfile(t, t.TempDir()), "")().(profileLoadedMsg)

	m := New("test", settings, "", false)
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	m, _ = update(t, m, loaded)

	before := m.logViewport.Height
	m, _ = update(t, m, key("tab"))
	if m.activeView != 1 || m.logViewport.Height <= before {
		t.Errorf("tab: activeView=%d viewport height %d -> %d", m.activeView, before, m.logViewport.Height)
	}
	if !strings.Contains(m.renderFooter(), "bottom") {
		t.Errorf("logs footer = %q", m.renderFooter())
	}

	m, _ = update(t, m, key("tab"))
	m, _ = update(t, m, key("esc"))
	if m.screen != screenSourceSelect {
		t.Errorf("esc with nothing running left screen %v", m.screen)
	}
}

func TestView(t *testing.T) {
	m := New("v1.2.3", testSettings(t), "", false)

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 10})
	if !strings.Contains(m.View(), "too small") {
		t.Error("small terminal not reported")
	}

	m, _ = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	if v := m.View(); !strings.Contains(v, "PCAPREPLAY v1.2.3") || !strings.Contains(v, "Recent Runs") {
		t.Errorf("source select view missing title or cards")
	}

	loaded := loadProfileCmd(writeProfile(t, t.TempDir()), "")().(profileLoadedMsg)
	m, _ = update(t, m, loaded)
	v := m.View()
	for _, want := range []string{"Replay", "Policy", "Progress", "Logs", "does-not-exist.pcap", "round-robin", "Press r"} {
		if !strings.Contains(v, want) {
			t.Errorf("monitor view missing %q", want)
		}
	}
}

func TestRenderScrollbar(t *testing.T) {
	vp := viewport.New(20, 3)
	vp.SetContent("one\ntwo")
	if got := renderScrollbar(vp, 3); got != "" {
		t.Errorf("scrollbar for fitting content = %q", got)
	}

	vp.SetContent(strings.Repeat("line\n", 30))
	got := renderScrollbar(vp, 3)
	if n := strings.Count(got, "\n"); n != 3 {
		t.Errorf("scrollbar has %d rows, want 3", n)
	}
	if !strings.Contains(got, "█") {
		t.Error("scrollbar has no thumb")
	}
}

func TestElapsed(t *testing.T) {
	now := time.Now()
	m := Model{started: now.Add(-10 * time.Second), finished: now}
	m.stats.Deadline = now.Add(10 * time.Second)

	elapsed, total := m.elapsed()
	if total != 20*time.Second || elapsed != 10*time.Second {
		t.Errorf("elapsed() = %v, %v", elapsed, total)
	}
	if f := m.fraction(); f != 0.5 {
		t.Errorf("fraction() = %v, want 0.5", f)
	}
}
