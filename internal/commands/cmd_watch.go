package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/databus/internal/accessor"
	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/tui"
)

var errBridgeClosed = errors.New("bridge connection closed")

type WatchCmd struct {
	flags   *Flags
	channel channelFlags
	source  busSource
	json    bool
}

// NewWatchCmd creates a new watch command
func NewWatchCmd(flags *Flags) *WatchCmd {
	return &WatchCmd{flags: flags}
}

// Register adds the watch command to the application
func (cmd *WatchCmd) Register(app *cli.Command) *cli.Command {
	flags := append(cmd.channel.flags(), cmd.source.flags()...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "json",
		Usage:       "print one JSON line per snapshot instead of the live view",
		Destination: &cmd.json,
	})

	app.Commands = append(app.Commands, &cli.Command{
		Name:      "watch",
		Usage:     "Follow a channel's snapshot as it changes",
		UsageText: "databus watch --store name [--version n] [--url ws://... | --api-url http://...] [--json]",
		Description: `Opens a live view of the channel's snapshot. Press r to send a refresh,
q to quit.

When stdout is not a terminal, or with --json, each snapshot is printed as
a JSON line instead.`,
		Flags:  flags,
		Action: cmd.run,
	})
	return app
}

func (cmd *WatchCmd) run(ctx context.Context, c *cli.Command) error {
	ch, err := cmd.channel.channel(cmd.flags.Config.Namespace)
	if err != nil {
		return fmt.Errorf("invalid channel: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sess, err := cmd.source.open(ctx, ch, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer func() { _ = sess.close() }()

	go func() {
		select {
		case <-sess.done():
			cancel(errBridgeClosed)
		case <-ctx.Done():
		}
	}()

	a := accessor.New(ch, sess.bus, log.Logger)
	defer func() { _ = a.Close() }()

	if err := a.Activate(ctx); err != nil {
		return err
	}

	if cmd.json || !term.IsTerminal(int(os.Stdout.Fd())) {
		err = cmd.streamJSON(ctx, c, a)
	} else {
		err = cmd.runTUI(ctx, a)
	}

	if cause := context.Cause(ctx); errors.Is(cause, errBridgeClosed) {
		return cause
	}
	return err
}

func (cmd *WatchCmd) runTUI(ctx context.Context, a *accessor.Accessor) error {
	m := tui.NewWatch(a, cmd.source.origin())
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))

	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run watch: %w", err)
	}
	return nil
}

type watchLine struct {
	Time     time.Time          `json:"time"`
	Channel  string             `json:"channel"`
	Snapshot messaging.Snapshot `json:"snapshot"`
}

func (cmd *WatchCmd) streamJSON(ctx context.Context, c *cli.Command, a *accessor.Accessor) error {
	enc := json.NewEncoder(c.Root().Writer)
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-a.Updates():
			if !ok {
				return nil
			}
			line := watchLine{Time: time.Now().UTC(), Channel: a.Channel().Base(), Snapshot: snap}
			if err := enc.Encode(line); err != nil {
				return err
			}
		}
	}
}
