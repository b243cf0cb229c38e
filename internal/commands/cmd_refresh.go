package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/accessor"
	"github.com/hay-kot/databus/internal/printer"
)

type RefreshCmd struct {
	flags   *Flags
	channel channelFlags
	url     string
}

// NewRefreshCmd creates a new refresh command
func NewRefreshCmd(flags *Flags) *RefreshCmd {
	return &RefreshCmd{flags: flags}
}

// Register adds the refresh command to the application
func (cmd *RefreshCmd) Register(app *cli.Command) *cli.Command {
	flags := append(cmd.channel.flags(), bridgeURLFlag(&cmd.url))

	app.Commands = append(app.Commands, &cli.Command{
		Name:      "refresh",
		Usage:     "Ask a channel's provider to refetch",
		UsageText: "databus refresh --store name [--version n] [--url ws://...]",
		Description: `Sends a refresh envelope on the channel. Providers only refetch when their
config sets allow_refresh; otherwise the envelope is ignored.`,
		Flags:  flags,
		Action: cmd.run,
	})
	return app
}

func (cmd *RefreshCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	ch, err := cmd.channel.channel(cmd.flags.Config.Namespace)
	if err != nil {
		return fmt.Errorf("invalid channel: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	src := busSource{url: cmd.url}
	sess, err := src.open(ctx, ch, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer func() { _ = sess.close() }()

	a := accessor.New(ch, sess.bus, log.Logger)
	defer func() { _ = a.Close() }()

	if err := a.Refresh(ctx); err != nil {
		return err
	}
	sess.drain(ctx)

	p.Successf("Refresh sent on %s", ch.RefreshTag())
	return nil
}
