package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/pcapreplay/types"
)

var (
	colorPrimary   = lipgloss.Color("#7D56F4")
	colorSecondary = lipgloss.Color("#F4A956")
	colorText      = lipgloss.Color("#FAFAFA")
	colorSubtext   = lipgloss.Color("#777777")
	colorSuccess   = lipgloss.Color("#43BF6D")
	colorError     = lipgloss.Color("#FF5F5F")
)

func bordered(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Border(lipgloss.ThickBorder()).BorderForeground(c)
}

func fg(c lipgloss.Color) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(c)
}

var (
	styleWindow = bordered(colorPrimary).Align(lipgloss.Center)

	// panels carry their title on the first content line
	stylePanel = bordered(colorSubtext).Padding(0, 1)

	styleTitle    = fg(colorText).Background(colorPrimary).Bold(true).Padding(0, 1)
	styleAppTitle = fg(colorSecondary).Bold(true).Padding(0, 1).Align(lipgloss.Center)
	styleSelected = fg(colorSecondary).Bold(true)

	styleLabel     = fg(colorSubtext).Width(12)
	styleValue     = fg(colorText)
	styleSubtext   = fg(colorSubtext)
	styleErrorText = fg(colorError).Bold(true)

	styleMenuContainer    = lipgloss.NewStyle().Padding(1)
	styleMenuItem         = bordered(colorSubtext).Foreground(colorText).Padding(1, 4).Margin(0, 1).Width(24).Align(lipgloss.Center)
	styleMenuItemSelected = styleMenuItem.BorderForeground(colorSecondary).Bold(true)

	styleScreenTooSmall = fg(colorSecondary).Bold(true).Align(lipgloss.Center, lipgloss.Center)

	styleKey  = fg(colorSecondary).Bold(true)
	styleDesc = fg(colorSubtext)

	scrollbarTrack = fg(colorSubtext)
	scrollbarThumb = fg(colorPrimary)

	// browser entries
	styleDirEntry     = fg(colorText).Bold(true)
	styleProfileEntry = fg(colorPrimary)
	styleCaptureEntry = fg(colorText).Faint(true)
	styleOtherEntry   = fg(colorSubtext).Faint(true)
)

// stateColor picks the border of the progress panel.
func stateColor(s types.RoleState, failed bool) lipgloss.Color {
	switch {
	case failed:
		return colorError
	case s == types.StateDone:
		return colorSuccess
	case s == types.StateSending || s == types.StateConnected:
		return colorSecondary
	}
	return colorSubtext
}
