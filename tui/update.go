package tui

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pcapreplay/engine"
	"github.com/samaelod/pcapreplay/lua"
	"github.com/samaelod/pcapreplay/types"
)

type profileLoadedMsg struct {
	profile *lua.Profile
	path    string
}

type engineStartedMsg struct {
	run    int
	engine *engine.Engine
}

type engineFailedMsg struct {
	run int
	err error
}

type tickMsg struct{ run int }
type logMsg struct{ run int }
type errMsg struct{ err error }
type editorFinishedMsg struct{ err error }

func editorCommand(path string) *exec.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	return exec.Command(editor, path)
}

// commandLine is the run invocation equivalent to p.
func commandLine(p *lua.Profile) string {
	args := append([]string{"pcapreplay", "run"}, p.Args()...)
	if p.Policy.Rotation != "" {
		args = append(args, "--rotation", p.Policy.Rotation)
	}
	if p.Policy.SkipRule != "" {
		args = append(args, "--skip-rule", p.Policy.SkipRule)
	}
	if p.Policy.Restart {
		args = append(args, "--restart", fmt.Sprintf("--max-restarts=%d", p.Policy.MaxRestarts))
	}
	if p.Policy.TunnelUDP {
		args = append(args, "--tunnel-udp")
	}
	return strings.Join(args, " ")
}

func copyCommand(p *lua.Profile) string {
	if p == nil {
		return ""
	}
	if err := clipboard.WriteAll(commandLine(p)); err != nil {
		return fmt.Sprintf("Copy failed: %v", err)
	}
	return "Command copied to clipboard"
}

func openLogsInEditor(logContent string) tea.Cmd {
	f, err := os.CreateTemp("", "pcapreplay-logs-*.log")
	if err != nil {
		return func() tea.Msg { return errMsg{err} }
	}
	if _, err := f.WriteString(logContent); err != nil {
		f.Close()
		return func() tea.Msg { return errMsg{err} }
	}
	f.Close()
	tempPath := f.Name()

	return tea.ExecProcess(editorCommand(tempPath), func(err error) tea.Msg {
		os.Remove(tempPath)
		return nil
	})
}

// loadProfileCmd reads a profile. A non-empty saveDir keeps a copy there and
// the copy becomes the profile being monitored.
func loadProfileCmd(path, saveDir string) tea.Cmd {
	return func() tea.Msg {
		p, err := lua.ReadProfile(path)
		if err != nil {
			return errMsg{fmt.Errorf("%s: %w", path, err)}
		}

		finalPath := path
		if saveDir != "" {
			if finalPath, err = lua.SaveToDir(saveDir, p, path); err != nil {
				return errMsg{err}
			}
		}
		return profileLoadedMsg{profile: p, path: finalPath}
	}
}

// newEngineCmd builds the engine off the UI goroutine; a client connect
// blocks until the peer answers. The engine is handed over by message.
func newEngineCmd(run int, cfg types.ReplayConfig, logf types.LogFunc) tea.Cmd {
	return func() tea.Msg {
		e, err := engine.New(cfg, logf)
		if err != nil {
			return engineFailedMsg{run: run, err: err}
		}
		return engineStartedMsg{run: run, engine: e}
	}
}

func tick(run int, interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(time.Time) tea.Msg { return tickMsg{run: run} })
}

func waitForLog(run int, logger *engine.Logger) tea.Cmd {
	return func() tea.Msg {
		ch := logger.Chan()
		if ch == nil {
			return nil
		}
		if _, ok := <-ch; !ok {
			return nil
		}
		return logMsg{run: run}
	}
}

// startReplay stops any previous run and builds a fresh configuration so the
// deadline counts from now.
func (m *Model) startReplay() tea.Cmd {
	if m.profile == nil || m.starting {
		return nil
	}
	m.release()

	now := time.Now()
	cfg, err := m.profile.Config(now)
	if err != nil {
		m.runErr = err
		return nil
	}

	m.run++
	m.cfg = cfg
	m.runErr = nil
	m.starting = true
	m.started = now
	m.finished = time.Time{}
	m.stats = engine.Stats{Role: cfg.Role, Mode: cfg.Mode, Deadline: cfg.Deadline}
	m.logger = engine.NewLogger(m.settings.LogFile(now), m.settings.LogLines, m.settings.Level())
	m.logContent = ""
	m.logViewport.SetContent("")

	return tea.Batch(
		newEngineCmd(m.run, *cfg, m.logger.Log),
		waitForLog(m.run, m.logger),
	)
}

func (m *Model) resize() {
	l := m.layout()
	m.picker.Resize(l.listWidth-4, l.windowHeight-7)
	m.logViewport.Width = max(l.rightWidth-5, 0)
	m.logViewport.Height = max(l.logsHeight-4, 0)
	m.bar.Width = max(l.rightWidth-6, 10)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.release()
			return m, tea.Quit
		}

	case profileLoadedMsg:
		m.profile = msg.profile
		m.selectedFile = msg.path
		m.err = nil
		m.status = ""
		m.cfg, _ = msg.profile.Config(time.Now())
		m.screen = screenMonitor
		m.resize()
		if m.autoStart {
			m.autoStart = false
			return m, m.startReplay()
		}
		return m, nil

	case errMsg:
		m.err = msg.err
		if m.screen == screenMonitor {
			m.runErr = msg.err
		} else {
			m.screen = screenLoading
		}
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.runErr = msg.err
			return m, nil
		}
		return m, loadProfileCmd(m.selectedFile, "")

	case engineStartedMsg:
		if msg.run != m.run {
			msg.engine.Close()
			return m, nil
		}
		m.starting = false
		m.engine = msg.engine
		m.stats = m.engine.Stats()
		return m, tick(m.run, m.settings.PumpInterval())

	case engineFailedMsg:
		if msg.run != m.run {
			return m, nil
		}
		m.starting = false
		m.runErr = msg.err
		m.finished = time.Now()
		m.release()
		return m, nil

	case tickMsg:
		if msg.run != m.run || m.engine == nil {
			return m, nil
		}
		m.engine.Pump()
		m.stats = m.engine.Stats()
		if m.engine.IsDone() {
			m.release()
			return m, nil
		}
		return m, tick(m.run, m.settings.PumpInterval())

	case logMsg:
		if msg.run != m.run || m.logger == nil {
			return m, nil
		}
		m.logContent = m.logger.ReadAll()
		m.logViewport.SetContent(m.logContent)
		m.logViewport.GotoBottom()
		return m, waitForLog(m.run, m.logger)
	}

	switch m.screen {
	case screenSourceSelect:
		return m.updateSourceSelect(msg)
	case screenFilePicker:
		return m.updateFilePicker(msg)
	case screenLoading:
		if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
			m.err = nil
			m.screen = screenSourceSelect
		}
		return m, nil
	case screenMonitor:
		return m.updateMonitor(msg)
	}
	return m, nil
}

func (m Model) updateSourceSelect(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	switch key.String() {
	case "up", "k", "left", "h", "down", "j", "right", "l":
		m.menuCursor = 1 - m.menuCursor
	case "enter":
		if m.menuCursor == 0 {
			m.source = sourceProfile
			m.picker = NewPicker("", profileTypes)
		} else {
			m.source = sourceRecent
			m.picker = NewPicker(m.settings.RecentDir, profileTypes)
		}
		m.resize()
		m.screen = screenFilePicker
	}
	return m, nil
}

func (m Model) updateFilePicker(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "esc" && !m.picker.Filtering() {
		m.screen = screenSourceSelect
		return m, nil
	}

	var cmd tea.Cmd
	m.picker, cmd = m.picker.Update(msg)

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		path, ok := m.picker.SelectedFile()
		if !ok {
			return m, cmd
		}

		// profiles picked from the working tree are kept with the recent runs
		saveDir := ""
		if m.source == sourceProfile {
			saveDir = m.settings.RecentDir
		}
		m.screen = screenLoading
		m.selectedFile = path
		return m, loadProfileCmd(path, saveDir)
	}
	return m, cmd
}

func (m Model) updateMonitor(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "tab", "shift+tab":
			m.activeView = 1 - m.activeView
			m.resize()
			return m, nil

		case "r":
			return m, m.startReplay()

		case "s":
			if m.running() {
				m.release()
			}
			return m, nil

		case "e":
			if m.activeView == 1 {
				return m, openLogsInEditor(m.logContent)
			}
			if m.running() || m.starting {
				return m, nil
			}
			return m, tea.ExecProcess(editorCommand(m.selectedFile), func(err error) tea.Msg {
				return editorFinishedMsg{err}
			})

		case "y":
			m.status = copyCommand(m.profile)
			return m, nil

		case "u":
			if !m.running() && !m.starting {
				return m, loadProfileCmd(m.selectedFile, "")
			}
			return m, nil

		case "esc":
			if !m.running() && !m.starting {
				m.screen = screenSourceSelect
			}
			return m, nil

		case "g":
			if m.activeView == 1 {
				m.logViewport.GotoTop()
			}
			return m, nil

		case "G":
			if m.activeView == 1 {
				m.logViewport.GotoBottom()
			}
			return m, nil
		}
	}

	if m.activeView == 1 {
		var cmd tea.Cmd
		m.logViewport, cmd = m.logViewport.Update(msg)
		return m, cmd
	}
	return m, nil
}
