package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/databus/internal/core/messaging"
)

// Source is the live snapshot the watch view renders. *accessor.Accessor
// satisfies it.
type Source interface {
	Channel() messaging.Channel
	Snapshot() messaging.Snapshot
	Updates() <-chan messaging.Snapshot
	Refresh(ctx context.Context) error
}

// header line, status bar with bottom padding, help line
const chromeHeight = 4

// WatchModel renders a channel's snapshot as it changes.
type WatchModel struct {
	src    Source
	origin string
	keys   keyMap

	help     help.Model
	spinner  spinner.Model
	viewport viewport.Model
	ready    bool

	hasData   bool
	snap      messaging.Snapshot
	updatedAt time.Time
	updates   int
	status    string
	closed    bool

	width  int
	height int
	now    func() time.Time
}

// NewWatch creates a watch view for src. origin describes where the
// snapshot comes from and is shown in the header.
func NewWatch(src Source, origin string) WatchModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = waitingStyle

	return WatchModel{
		src:     src,
		origin:  origin,
		keys:    defaultKeyMap(),
		help:    help.New(),
		spinner: s,
		snap:    messaging.EmptySnapshot(),
		now:     time.Now,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(
		waitForSnapshot(m.src.Updates()),
		m.spinner.Tick,
		scheduleClockTick(),
	)
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width

		h := max(msg.Height-chromeHeight, 1)
		if !m.ready {
			m.viewport = viewport.New(msg.Width, h)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = h
		}
		m.viewport.SetContent(renderItems(m.snap, msg.Width))
		return m, nil

	case snapshotMsg:
		m.snap = msg.snap
		m.hasData = true
		m.updatedAt = msg.at
		m.updates++
		m.status = ""
		if m.ready {
			m.viewport.SetContent(renderItems(m.snap, m.width))
		}
		return m, waitForSnapshot(m.src.Updates())

	case sourceClosedMsg:
		m.closed = true
		return m, tea.Quit

	case refreshDoneMsg:
		if msg.err != nil {
			m.status = "refresh failed: " + msg.err.Error()
		} else {
			m.status = "refresh requested"
		}
		return m, nil

	case clockTickMsg:
		return m, scheduleClockTick()

	case spinner.TickMsg:
		if m.hasData {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Refresh):
			m.status = "requesting refresh..."
			return m, requestRefresh(m.src)
		}
	}

	var cmd tea.Cmd
	if m.ready {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m WatchModel) View() string {
	var b strings.Builder

	header := titleStyle.Render(m.src.Channel().Base())
	if m.origin != "" {
		header += " " + tagStyle.Render(iconDot+" "+m.origin)
	}
	b.WriteString(header)
	b.WriteString("\n")

	b.WriteString(statusBarStyle.Render(m.statusLine()))
	b.WriteString("\n")

	if m.ready {
		b.WriteString(m.viewport.View())
	} else {
		b.WriteString(renderItems(m.snap, m.width))
	}
	b.WriteString("\n")

	b.WriteString(helpStyle.Render(m.help.View(m.keys)))
	return b.String()
}

func (m WatchModel) statusLine() string {
	if !m.hasData {
		return m.spinner.View() + " " + waitingStyle.Render("waiting for provider")
	}

	parts := []string{}
	if m.snap.Error != nil {
		parts = append(parts, errorStyle.Render("error: "+m.snap.Error.Message))
	} else {
		parts = append(parts, dataStyle.Render(fmt.Sprintf("%d item(s)", len(m.snap.Data))))
	}

	age := m.now().Sub(m.updatedAt).Truncate(time.Second)
	parts = append(parts, tagStyle.Render(fmt.Sprintf("updated %s ago", age)))
	parts = append(parts, tagStyle.Render(fmt.Sprintf("%d update(s)", m.updates)))

	if m.status != "" {
		parts = append(parts, waitingStyle.Render(m.status))
	}

	return strings.Join(parts, tagStyle.Render(" "+iconDot+" "))
}

// renderItems renders one compact JSON item per line, truncated to width.
func renderItems(snap messaging.Snapshot, width int) string {
	if len(snap.Data) == 0 {
		if snap.Error != nil {
			return ""
		}
		return helpStyle.Render("no items")
	}

	indexWidth := lipgloss.Width(itemIndexStyle.Render("0"))
	lines := make([]string, len(snap.Data))
	for i, it := range snap.Data {
		line := compactJSON(it.Raw)
		if width > 0 {
			line = truncate(line, width-indexWidth)
		}
		lines[i] = itemIndexStyle.Render(fmt.Sprint(i+1)) + itemStyle.Render(line)
	}
	return strings.Join(lines, "\n")
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func truncate(s string, n int) string {
	if n <= 1 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
