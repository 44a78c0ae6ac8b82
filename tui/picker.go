package tui

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/samaelod/pcapreplay/pcapreader"
)

var (
	profileTypes = []string{".lua"}
	captureTypes = []string{".pcap", ".pcapng", ".cap"}
)

// Picker lists one directory at a time. Files with an openable extension can
// be chosen; captures are shown with a summary so profiles can be checked
// against them.
type Picker struct {
	list        list.Model
	dir         string
	highlighted string
	preview     string
	previewRows int
	openable    []string
}

type entry struct {
	name  string
	path  string
	isDir bool
	size  int64
}

func (e entry) Title() string {
	if e.isDir {
		return e.name + "/"
	}
	return e.name
}

func (e entry) Description() string {
	if e.isDir {
		return "Directory"
	}
	return fmt.Sprintf("%d bytes", e.size)
}

func (e entry) FilterValue() string { return e.name }

func hasExt(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// entryDelegate draws one line per entry, colored by kind.
type entryDelegate []string

func (entryDelegate) Height() int                         { return 1 }
func (entryDelegate) Spacing() int                        { return 0 }
func (entryDelegate) Update(tea.Msg, *list.Model) tea.Cmd { return nil }

func (openable entryDelegate) Render(w io.Writer, m list.Model, index int, it list.Item) {
	e, ok := it.(entry)
	if !ok {
		return
	}
	if index == m.Index() {
		fmt.Fprint(w, styleSelected.Render("> "+e.Title()))
		return
	}
	fmt.Fprint(w, entryStyle(e, openable).Render("  "+e.Title()))
}

func entryStyle(e entry, openable []string) lipgloss.Style {
	switch {
	case e.isDir:
		return styleDirEntry
	case hasExt(e.name, openable):
		return styleProfileEntry
	case hasExt(e.name, captureTypes):
		return styleCaptureEntry
	}
	return styleOtherEntry
}

// NewPicker opens dir, or the working directory when dir is empty.
func NewPicker(dir string, openable []string) Picker {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}

	l := list.New(nil, entryDelegate(openable), 0, 0)
	for _, hide := range []func(bool){l.SetShowTitle, l.SetShowHelp, l.SetShowStatusBar} {
		hide(false)
	}

	p := Picker{list: l, openable: openable}
	p.chdir(dir)
	return p
}

// listDir returns the visible entries of dir, directories first, with a ".."
// entry unless dir is the root.
func listDir(dir string) ([]list.Item, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var items []list.Item
	if parent := filepath.Dir(dir); parent != dir {
		items = append(items, entry{name: "..", path: parent, isDir: true})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name() < entries[j].Name()
	})

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		item := entry{name: e.Name(), path: filepath.Join(dir, e.Name()), isDir: e.IsDir()}
		if info, err := e.Info(); err == nil {
			item.size = info.Size()
		}
		items = append(items, item)
	}
	return items, nil
}

func (p *Picker) chdir(dir string) {
	items, err := listDir(dir)
	p.dir = dir
	p.list.SetItems(items)
	p.list.ResetSelected()
	if err != nil {
		p.highlighted = ""
		p.preview = "Cannot read directory: " + err.Error()
		return
	}
	p.refreshPreview()
}

// Dir is the directory being listed.
func (p *Picker) Dir() string { return p.dir }

// Preview is the text shown next to the list for the highlighted entry.
func (p *Picker) Preview() string { return p.preview }

// Filtering reports whether the list is taking filter input.
func (p *Picker) Filtering() bool { return p.list.SettingFilter() }

// HasOpenable reports whether the current directory holds a file that can be
// chosen.
func (p *Picker) HasOpenable() bool {
	for _, it := range p.list.Items() {
		if e, ok := it.(entry); ok && !e.isDir && hasExt(e.name, p.openable) {
			return true
		}
	}
	return false
}

// Highlighted is the file under the cursor and whether it can be chosen.
func (p *Picker) Highlighted() (string, bool) {
	return p.highlighted, p.highlighted != "" && hasExt(p.highlighted, p.openable)
}

// SelectedFile returns the highlighted file if it may be opened.
func (p *Picker) SelectedFile() (string, bool) {
	e, ok := p.list.SelectedItem().(entry)
	if !ok || e.isDir || !hasExt(e.name, p.openable) {
		return "", false
	}
	return e.path, true
}

func (p *Picker) refreshPreview() {
	e, ok := p.list.SelectedItem().(entry)
	p.highlighted = ""
	switch {
	case !ok:
		p.preview = ""
	case e.isDir:
		p.preview = "Directory: " + e.name
	default:
		p.highlighted = e.path
		p.preview = truncateLines(p.describe(e), p.previewRows)
	}
}

func (p *Picker) describe(e entry) string {
	switch {
	case hasExt(e.name, p.openable):
		data, err := os.ReadFile(e.path)
		if err != nil {
			return "Error reading file"
		}
		return string(data)
	case hasExt(e.name, captureTypes):
		return capturePreview(e.path)
	}
	return "File type not supported."
}

func truncateLines(s string, n int) string {
	if n <= 0 {
		n = 10
	}
	lines := strings.Split(s, "\n")
	if len(lines) <= n {
		return s
	}
	return strings.Join(lines[:n], "\n") + "\n... (truncated)"
}

func capturePreview(path string) string {
	s, err := pcapreader.Inspect(path)
	if err != nil {
		return "Capture file\n\n" + err.Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Capture file (%s)\n\n", s.Format)
	fmt.Fprintf(&b, "Link type: %s\n", s.LinkType)
	fmt.Fprintf(&b, "Frames:    %d\n", s.Frames)
	if s.Frames > 0 {
		fmt.Fprintf(&b, "First:     %s\n", s.First.Format("2006-01-02 15:04:05.000000"))
		fmt.Fprintf(&b, "Duration:  %s\n", s.Duration())
	}
	return b.String()
}

// Update moves the cursor, enters directories on enter and goes up on
// backspace or left.
func (p Picker) Update(msg tea.Msg) (Picker, tea.Cmd) {
	next, cmd := p.list.Update(msg)
	p.list = next
	p.refreshPreview()

	key, ok := msg.(tea.KeyMsg)
	if !ok || p.Filtering() {
		return p, cmd
	}
	switch key.String() {
	case "enter":
		if e, ok := p.list.SelectedItem().(entry); ok && e.isDir {
			p.chdir(e.path)
		}
	case "backspace", "left":
		if up := filepath.Dir(p.dir); up != p.dir {
			p.chdir(up)
		}
	}
	return p, cmd
}

// Resize fits the list to w x h; the preview is cut to the same height.
func (p *Picker) Resize(w, h int) {
	p.previewRows = h
	p.list.SetSize(w, h)
}

func (p Picker) View() string { return p.list.View() }
