package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/hay-kot/databus/internal/core/messaging"
)

const clockTickInterval = time.Second

// snapshotMsg carries a snapshot received from the source.
type snapshotMsg struct {
	snap messaging.Snapshot
	at   time.Time
}

// sourceClosedMsg is sent when the source's update channel closes.
type sourceClosedMsg struct{}

// refreshDoneMsg reports the result of publishing a refresh.
type refreshDoneMsg struct {
	err error
}

// clockTickMsg re-renders relative timestamps.
type clockTickMsg struct{}

// waitForSnapshot returns a command that blocks until the next snapshot.
func waitForSnapshot(updates <-chan messaging.Snapshot) tea.Cmd {
	return func() tea.Msg {
		snap, ok := <-updates
		if !ok {
			return sourceClosedMsg{}
		}
		return snapshotMsg{snap: snap, at: time.Now()}
	}
}

// requestRefresh returns a command that asks the provider to refetch.
func requestRefresh(src Source) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return refreshDoneMsg{err: src.Refresh(ctx)}
	}
}

// scheduleClockTick returns a command that schedules the next clock tick.
func scheduleClockTick() tea.Cmd {
	return tea.Tick(clockTickInterval, func(time.Time) tea.Msg {
		return clockTickMsg{}
	})
}
