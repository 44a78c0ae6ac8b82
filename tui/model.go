package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/pcapreplay/config"
	"github.com/samaelod/pcapreplay/engine"
	"github.com/samaelod/pcapreplay/lua"
	"github.com/samaelod/pcapreplay/types"
)

type screen int

const (
	screenSourceSelect screen = iota
	screenFilePicker
	screenLoading
	screenMonitor
)

type sourceType int

const (
	sourceProfile sourceType = iota
	sourceRecent
)

type Model struct {
	screen screen
	source sourceType

	settings *config.Settings
	profile  *lua.Profile
	cfg      *types.ReplayConfig
	err      error
	status   string

	picker Picker

	width        int
	height       int
	selectedFile string

	menuCursor int // 0: profile, 1: recent
	activeView int // 0: progress, 1: logs
	autoStart  bool

	version string

	// one replay at a time; run tags ticks so stale ones are dropped
	engine   *engine.Engine
	logger   *engine.Logger
	run      int
	starting bool
	started  time.Time
	finished time.Time
	stats    engine.Stats
	runErr   error

	bar         progress.Model
	logViewport viewport.Model
	logContent  string
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 36
	minListWidth     = 24
	footerHeight     = 3
)

func (m Model) running() bool {
	return m.engine != nil && !m.engine.IsDone()
}

// release stops the current replay and flushes its log.
func (m *Model) release() {
	if m.engine != nil {
		m.finished = time.Now()
		m.engine.Close()
		m.stats = m.engine.Stats()
		if m.runErr == nil {
			m.runErr = m.engine.Err()
		}
		m.engine = nil
	}
	if m.logger != nil {
		m.logContent = m.logger.ReadAll()
		m.logger.Close()
		m.logger = nil
		m.logViewport.SetContent(m.logContent)
		m.logViewport.GotoBottom()
	}
}
