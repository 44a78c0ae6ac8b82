package tui

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/pcapreplay/types"
)

type layout struct {
	windowWidth    int
	windowHeight   int
	listWidth      int
	rightWidth     int
	progressHeight int
	logsHeight     int
}

// layout is shared by Update and View so the viewport matches its panel.
func (m Model) layout() layout {
	l := layout{windowWidth: m.width - 4, windowHeight: m.height - 4}

	l.listWidth = defaultListWidth
	if l.listWidth > l.windowWidth/3 {
		l.listWidth = l.windowWidth / 3
	}
	if l.listWidth < minListWidth {
		l.listWidth = minListWidth
	}
	l.rightWidth = max(l.windowWidth-l.listWidth, 0)

	avail := l.windowHeight - 1 - footerHeight
	if m.activeView == 1 {
		l.logsHeight = avail * 70 / 100
	} else {
		l.logsHeight = avail * 45 / 100
	}
	l.progressHeight = avail - l.logsHeight
	if l.progressHeight < 14 {
		l.progressHeight = 14
		l.logsHeight = max(avail-l.progressHeight, 0)
	}
	return l
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()
	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}

	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	thumbPos = min(max(thumbPos, 0), trackHeight-1)

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// clipLines keeps at most n lines, marking the cut.
func clipLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if n <= 0 {
		return ""
	}
	if len(lines) > n {
		lines = append(lines[:n-1], "...")
	}
	return strings.Join(lines, "\n")
}

func panel(title, body string, width, height int, border lipgloss.Color) string {
	content := styleTitle.MarginBottom(1).Render(title) + "\n" + clipLines(body, height-4)
	return stylePanel.
		BorderForeground(border).
		Width(max(width-2, 0)).
		Height(max(height-2, 0)).
		Render(content)
}

func rowRenderer(width int) func(label, value string) string {
	valueMax := max(width-14, 5)
	return func(label, value string) string {
		if len(value) > valueMax {
			value = value[:valueMax-1] + "…"
		}
		return lipgloss.JoinHorizontal(lipgloss.Left,
			styleLabel.Render(label),
			styleValue.Render(value),
		)
	}
}

func (m Model) View() string {
	l := m.layout()
	if l.windowWidth < minWindowWidth || l.windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	appTitle := styleAppTitle.Width(l.windowWidth).Render("PCAPREPLAY " + m.version)

	var content string
	switch m.screen {
	case screenSourceSelect:
		content = m.viewSourceSelect(l, appTitle)
	case screenFilePicker:
		content = m.viewFilePicker(l, appTitle)
	case screenLoading:
		status := "Loading " + filepath.Base(m.selectedFile) + "..."
		if m.err != nil {
			status = styleErrorText.Render("Error: "+m.err.Error()) + "\n\n" + styleDesc.Render("esc to go back")
		}
		content = lipgloss.Place(
			l.windowWidth, l.windowHeight,
			lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, appTitle, "\n", status),
		)
	case screenMonitor:
		content = m.viewMonitor(l, appTitle)
	}

	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) viewSourceSelect(l layout, appTitle string) string {
	cards := []string{"Lua Profile", "Recent Runs"}
	for i, c := range cards {
		if i == m.menuCursor {
			cards[i] = styleMenuItemSelected.Render(c)
		} else {
			cards[i] = styleMenuItem.Render(c)
		}
	}

	menu := lipgloss.JoinVertical(lipgloss.Center,
		styleTitle.Render("Select Profile"),
		"\n",
		lipgloss.JoinHorizontal(lipgloss.Center, cards...),
	)

	return lipgloss.JoinVertical(lipgloss.Top,
		appTitle,
		lipgloss.Place(
			l.windowWidth, l.windowHeight-1,
			lipgloss.Center, lipgloss.Center,
			styleMenuContainer.Render(menu),
		),
	)
}

func (m Model) viewFilePicker(l layout, appTitle string) string {
	listWidth := l.windowWidth / 3
	previewWidth := l.windowWidth - listWidth
	panelHeight := l.windowHeight - 1

	listColor := colorSecondary
	if m.picker.HasOpenable() {
		listColor = colorSuccess
	}

	previewColor := colorSecondary
	if path, ok := m.picker.Highlighted(); ok {
		previewColor = colorSuccess
	} else if path != "" {
		previewColor = colorError
	}

	title := "Select Profile"
	if m.source == sourceRecent {
		title = "Recent Runs"
	}

	listView := stylePanel.
		BorderForeground(listColor).
		Width(listWidth - 4).
		Height(panelHeight).
		Render(styleTitle.MarginBottom(1).Render(title) + "\n" + m.picker.View())

	previewView := panel("Preview", m.picker.Preview(), previewWidth, panelHeight+2, previewColor)

	return lipgloss.Place(
		l.windowWidth, l.windowHeight,
		lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Top,
			appTitle,
			lipgloss.JoinHorizontal(lipgloss.Top, listView, previewView),
		),
	)
}

func (m Model) viewMonitor(l layout, appTitle string) string {
	avail := l.windowHeight - 1 - footerHeight
	replayHeight := avail * 60 / 100
	policyHeight := avail - replayHeight

	left := lipgloss.JoinVertical(lipgloss.Top,
		panel("Replay", m.renderReplay(l.listWidth-4), l.listWidth, replayHeight, colorSubtext),
		panel("Policy", m.renderPolicy(l.listWidth-4), l.listWidth, policyHeight, colorSubtext),
	)

	progressBorder := stateColor(m.stats.State, m.runErr != nil)
	if m.activeView == 0 && progressBorder == colorSubtext {
		progressBorder = colorPrimary
	}
	progressView := panel("Progress", m.renderProgress(l.rightWidth-4), l.rightWidth, l.progressHeight, progressBorder)

	logsColor := colorSubtext
	if m.activeView == 1 {
		logsColor = colorSecondary
	}
	vpHeight := max(l.logsHeight-4, 1)
	scrollbar := scrollbarTrack.Width(1).Render(renderScrollbar(m.logViewport, vpHeight))
	logsBody := lipgloss.JoinHorizontal(lipgloss.Top, m.logViewport.View(), scrollbar)
	logsView := stylePanel.
		BorderForeground(logsColor).
		Width(max(l.rightWidth-2, 0)).
		Height(max(l.logsHeight-2, 0)).
		Render(styleTitle.MarginBottom(1).Render("Logs") + "\n" + logsBody)

	right := lipgloss.JoinVertical(lipgloss.Top, progressView, logsView)
	top := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	footer := stylePanel.
		Width(l.windowWidth - 2).
		Render(m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Top, appTitle, top, footer)
}

func (m Model) renderReplay(width int) string {
	if m.profile == nil {
		return styleSubtext.Render("No profile loaded")
	}
	row := rowRenderer(width)
	r := m.profile.Replay

	lines := []string{
		row("Profile:", filepath.Base(m.selectedFile)),
		row("Role:", r.Role),
		row("Server:", r.ServerHost),
		row("Ports:", fmt.Sprintf("tcp/%d udp/%d", r.TCPPort, r.TCPPort+1)),
	}
	if m.cfg != nil && m.cfg.Mode == types.ModeTor {
		lines = append(lines, row("Proxy:", fmt.Sprintf("127.0.0.1:%d", r.ProxyPort)))
	}
	lines = append(lines,
		row("Client IP:", r.ClientIP),
		row("Local net:", fmt.Sprintf("%s/%d", r.NetAddr, r.Mask)),
		row("Timeout:", (time.Duration(r.Timeout)*time.Second).String()),
		"",
		styleSelected.Render("Captures"),
	)

	current := m.stats.Capture
	for _, c := range r.Captures {
		marker := "  "
		if current != "" && c == current {
			marker = "> "
		}
		lines = append(lines, marker+filepath.Base(c))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderPolicy(width int) string {
	if m.profile == nil {
		return ""
	}
	row := rowRenderer(width)
	p := m.profile.Policy

	restarts := "off"
	if p.Restart {
		restarts = "unlimited"
		if p.MaxRestarts > 0 {
			restarts = fmt.Sprintf("up to %d", p.MaxRestarts)
		}
	}
	orDefault := func(s, def string) string {
		if s == "" {
			return def
		}
		return s
	}

	lines := []string{
		row("Rotation:", orDefault(p.Rotation, types.RotateRoundRobin.String())),
		row("Skip:", orDefault(p.SkipRule, types.SkipEmptyPayload.String())),
		row("Restart:", restarts),
		row("Tunnel UDP:", fmt.Sprint(p.TunnelUDP)),
	}
	if m.status != "" {
		lines = append(lines, "", styleSubtext.Render(m.status))
	}
	return strings.Join(lines, "\n")
}

func (m Model) renderProgress(width int) string {
	if m.run == 0 {
		return styleSubtext.Render("Press r to start the replay.")
	}
	row := rowRenderer(width)
	s := m.stats

	state := s.State.String()
	if m.starting {
		state = "starting"
	}

	lines := []string{
		row("State:", state),
		row("Capture:", filepath.Base(s.Capture)),
		row("Sent:", fmt.Sprintf("%d packets, %d bytes", s.PacketsSent, s.BytesSent)),
		row("Received:", fmt.Sprintf("%d bytes", s.BytesReceived)),
		row("Restarts:", fmt.Sprint(s.Restarts)),
	}
	if s.PendingLen > 0 {
		lines = append(lines, row("Next:", fmt.Sprintf("%d bytes captured at %s", s.PendingLen, s.Pending)))
	}

	elapsed, total := m.elapsed()
	lines = append(lines,
		row("Elapsed:", fmt.Sprintf("%s of %s", elapsed.Truncate(time.Second), total.Truncate(time.Second))),
		"",
		m.bar.ViewAs(m.fraction()),
	)
	if m.runErr != nil {
		lines = append(lines, "", styleErrorText.Render("Error: "+m.runErr.Error()))
	}
	return strings.Join(lines, "\n")
}

func (m Model) elapsed() (time.Duration, time.Duration) {
	if m.started.IsZero() {
		return 0, 0
	}
	total := max(m.stats.Deadline.Sub(m.started), 0)
	end := time.Now()
	if !m.finished.IsZero() {
		end = m.finished
	}
	return min(max(end.Sub(m.started), 0), total), total
}

// fraction is the share of the timeout already used.
func (m Model) fraction() float64 {
	elapsed, total := m.elapsed()
	if total <= 0 {
		if m.finished.IsZero() {
			return 0
		}
		return 1
	}
	return float64(elapsed) / float64(total)
}

func (m Model) renderFooter() string {
	sep := styleDesc.Render(" • ")
	hint := func(key, desc string) string {
		return styleKey.Render(key) + styleDesc.Render(" "+desc)
	}

	hints := []string{hint("<tab>", "switch focus")}
	if m.activeView == 0 {
		run := hint("r", "run")
		if m.run > 0 {
			run = hint("r", "restart")
		}
		hints = append(hints, run, hint("s", "stop"), hint("e", "edit"), hint("u", "reload"), hint("y", "copy command"), hint("esc", "back"))
	} else {
		hints = append(hints, hint("e", "editor"), hint("g", "top"), hint("G", "bottom"))
	}
	hints = append(hints, hint("q", "quit"))
	return strings.Join(hints, sep)
}
