package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/accessor"
	"github.com/hay-kot/databus/internal/printer"
)

type GetCmd struct {
	flags   *Flags
	channel channelFlags
	source  busSource
	timeout time.Duration
	compact bool
}

// NewGetCmd creates a new get command
func NewGetCmd(flags *Flags) *GetCmd {
	return &GetCmd{flags: flags}
}

// Register adds the get command to the application
func (cmd *GetCmd) Register(app *cli.Command) *cli.Command {
	flags := append(cmd.channel.flags(), cmd.source.flags()...)
	flags = append(flags,
		&cli.DurationFlag{
			Name:        "timeout",
			Aliases:     []string{"t"},
			Usage:       "how long to wait for a snapshot",
			Value:       10 * time.Second,
			Destination: &cmd.timeout,
		},
		&cli.BoolFlag{
			Name:        "compact",
			Usage:       "print the snapshot on a single line",
			Destination: &cmd.compact,
		},
	)

	app.Commands = append(app.Commands, &cli.Command{
		Name:      "get",
		Usage:     "Print a channel's current snapshot",
		UsageText: "databus get --store name [--version n] [--url ws://... | --api-url http://...]",
		Description: `Activates an accessor on the channel, waits for the first snapshot and
prints it as JSON.

By default the accessor runs against a 'databus serve' bridge. With
--api-url a provider is started in-process instead, which is useful for
checking an endpoint without a server.

Exits 1 if the snapshot carries a fetch error.`,
		Flags:  flags,
		Action: cmd.run,
	})
	return app
}

func (cmd *GetCmd) run(ctx context.Context, c *cli.Command) error {
	ch, err := cmd.channel.channel(cmd.flags.Config.Namespace)
	if err != nil {
		return fmt.Errorf("invalid channel: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.timeout)
	defer cancel()

	sess, err := cmd.source.open(ctx, ch, cmd.flags.Config)
	if err != nil {
		return err
	}
	defer func() { _ = sess.close() }()

	// Start broadcasts an empty snapshot before the fetch lands.
	if sess.provider != nil {
		sess.provider.Wait()
	}

	a := accessor.New(ch, sess.bus, log.Logger)
	defer func() { _ = a.Close() }()

	if err := a.Activate(ctx); err != nil {
		return err
	}

	snap, err := a.Wait(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return printer.Hint(
				fmt.Errorf("no snapshot for %s within %s", ch.Base(), cmd.timeout),
				"check `databus serve` has a provider for this channel, or compare tags with `databus tags`",
			)
		}
		return err
	}

	enc := json.NewEncoder(c.Root().Writer)
	if !cmd.compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(snap); err != nil {
		return err
	}

	if snap.Error != nil {
		return cli.Exit("", 1)
	}
	return nil
}
