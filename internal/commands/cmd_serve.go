package commands

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/core/config"
	"github.com/hay-kot/databus/internal/hub"
	"github.com/hay-kot/databus/internal/printer"
)

type ServeCmd struct {
	flags  *Flags
	listen string
}

// NewServeCmd creates a new serve command
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run configured providers and expose the bus over websockets",
		UsageText: "databus serve [--listen addr]",
		Description: `Starts one provider per entry in the config's providers list, all on a
shared in-memory bus. Each provider fetches its api_url once at startup and
answers requests on its channel.

The bus is exposed at ws://<listen>/bus so other processes can run
accessors against it (see 'databus get' and 'databus watch'). Envelopes
matching journal.pattern are recorded to the data directory.

Stops on SIGINT or SIGTERM.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"l"},
				Usage:       "address to listen on (default: config listen)",
				Destination: &cmd.listen,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)
	cfg := cmd.flags.Config

	addr := cfg.Listen
	if cmd.listen != "" {
		addr = cmd.listen
	}

	if len(cfg.Providers) == 0 {
		p.Warnf("No providers configured; serving an empty bus")
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := hub.New(cfg, log.Logger)
	if err := svc.Start(ctx); err != nil {
		_ = svc.Close()
		return fmt.Errorf("start hub: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		_ = svc.Close()
		return fmt.Errorf("listen on %s: %w", addr, err)
	}

	for _, pc := range cfg.Providers {
		p.Infof("%s <- %s", pc.Channel(cfg.Namespace).Base(), pc.APIURL)
	}
	p.Successf("Serving bus on ws://%s%s", ln.Addr().String(), config.BridgePath)

	return svc.Serve(ctx, ln)
}
