package tui

import (
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/pcapreplay/config"
)

// New builds the monitor. With a profile path it skips the picker and, when
// autoStart is set, begins the replay as soon as the profile is loaded.
func New(version string, settings *config.Settings, profilePath string, autoStart bool) Model {
	if settings == nil {
		settings = config.Default()
	}

	m := Model{
		screen:      screenSourceSelect,
		settings:    settings,
		picker:      NewPicker("", profileTypes),
		version:     version,
		autoStart:   autoStart,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage()),
		logViewport: viewport.New(10, 10),
	}
	if profilePath != "" {
		m.screen = screenLoading
		m.selectedFile = profilePath
	}
	return m
}

func (m Model) Init() tea.Cmd {
	if m.screen == screenLoading && m.selectedFile != "" {
		return loadProfileCmd(m.selectedFile, "")
	}
	return nil
}

func Run(version string, settings *config.Settings, profilePath string, autoStart bool) error {
	p := tea.NewProgram(New(version, settings, profilePath, autoStart), tea.WithAltScreen())
	final, err := p.Run()
	if fm, ok := final.(Model); ok {
		fm.release()
	}
	return err
}
