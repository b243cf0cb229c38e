package tui

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/databus/internal/core/messaging"
)

type fakeSource struct {
	ch        messaging.Channel
	updates   chan messaging.Snapshot
	refreshes int
	refreshFn func() error
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ch:      messaging.NewChannel("widgets", 2),
		updates: make(chan messaging.Snapshot, 1),
	}
}

func (f *fakeSource) Channel() messaging.Channel         { return f.ch }
func (f *fakeSource) Snapshot() messaging.Snapshot       { return messaging.EmptySnapshot() }
func (f *fakeSource) Updates() <-chan messaging.Snapshot { return f.updates }
func (f *fakeSource) Refresh(context.Context) error {
	f.refreshes++
	if f.refreshFn != nil {
		return f.refreshFn()
	}
	return nil
}

func items(raw ...string) []messaging.Item {
	out := make([]messaging.Item, len(raw))
	for i, r := range raw {
		out[i] = messaging.Item{Raw: json.RawMessage(r)}
	}
	return out
}

func update(t *testing.T, m WatchModel, msg tea.Msg) (WatchModel, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	wm, ok := next.(WatchModel)
	require.True(t, ok)
	return wm, cmd
}

func sized(t *testing.T, src Source) WatchModel {
	t.Helper()
	m := NewWatch(src, "ws://127.0.0.1:7420/bus")
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 80, Height: 20})
	return m
}

func TestWatch_Waiting(t *testing.T) {
	m := sized(t, newFakeSource())

	view := m.View()
	assert.Contains(t, view, "company/widgets/v2")
	assert.Contains(t, view, "ws://127.0.0.1:7420/bus")
	assert.Contains(t, view, "waiting for provider")
}

func TestWatch_Snapshot(t *testing.T) {
	src := newFakeSource()
	m := sized(t, src)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m.now = func() time.Time { return at.Add(3 * time.Second) }

	m, cmd := update(t, m, snapshotMsg{snap: messaging.Snapshot{Data: items(`{ "id": 1 }`, `{"id":2}`)}, at: at})
	require.NotNil(t, cmd, "should wait for the next snapshot")

	view := m.View()
	assert.NotContains(t, view, "waiting for provider")
	assert.Contains(t, view, "2 item(s)")
	assert.Contains(t, view, "updated 3s ago")
	assert.Contains(t, view, "1 update(s)")
	assert.Contains(t, view, `{"id":1}`)
	assert.Contains(t, view, `{"id":2}`)
}

func TestWatch_ErrorSnapshot(t *testing.T) {
	m := sized(t, newFakeSource())

	snap := messaging.Snapshot{Data: []messaging.Item{}, Error: messaging.NewFetchError(errors.New("network unreachable"))}
	m, _ = update(t, m, snapshotMsg{snap: snap, at: time.Now()})

	view := m.View()
	assert.Contains(t, view, "error: network unreachable")
	assert.NotContains(t, view, "no items")
}

func TestWatch_EmptySnapshot(t *testing.T) {
	m := sized(t, newFakeSource())

	m, _ = update(t, m, snapshotMsg{snap: messaging.EmptySnapshot(), at: time.Now()})

	assert.Contains(t, m.View(), "no items")
	assert.Contains(t, m.View(), "0 item(s)")
}

func TestWatch_WaitForSnapshotCmd(t *testing.T) {
	src := newFakeSource()
	m := NewWatch(src, "")

	src.updates <- messaging.Snapshot{Data: items(`1`)}
	msg := waitForSnapshot(m.src.Updates())()

	got, ok := msg.(snapshotMsg)
	require.True(t, ok)
	assert.Equal(t, items(`1`), got.snap.Data)

	close(src.updates)
	_, ok = waitForSnapshot(m.src.Updates())().(sourceClosedMsg)
	assert.True(t, ok)
}

func TestWatch_SourceClosedQuits(t *testing.T) {
	m := sized(t, newFakeSource())

	m, cmd := update(t, m, sourceClosedMsg{})
	require.NotNil(t, cmd)
	assert.True(t, m.closed)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestWatch_QuitKey(t *testing.T) {
	m := sized(t, newFakeSource())

	_, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	_, cmd = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestWatch_RefreshKey(t *testing.T) {
	src := newFakeSource()
	m := sized(t, src)

	m, cmd := update(t, m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	require.NotNil(t, cmd)
	assert.Contains(t, m.View(), "requesting refresh")

	msg := cmd()
	assert.Equal(t, 1, src.refreshes)

	m, _ = update(t, m, snapshotMsg{snap: messaging.EmptySnapshot(), at: time.Now()})
	m, _ = update(t, m, msg)
	assert.Contains(t, m.View(), "refresh requested")

	m, _ = update(t, m, refreshDoneMsg{err: errors.New("bus closed")})
	assert.Contains(t, m.View(), "refresh failed: bus closed")
}

func TestRenderItems_Truncates(t *testing.T) {
	long := `"` + strings.Repeat("x", 200) + `"`
	out := renderItems(messaging.Snapshot{Data: items(long)}, 40)

	assert.Contains(t, out, "…")
	assert.NotContains(t, out, strings.Repeat("x", 100))
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"héllo", 3, "hé…"},
		{"hello", 1, ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, truncate(tt.in, tt.n), "%q/%d", tt.in, tt.n)
	}
}
