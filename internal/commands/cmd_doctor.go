package commands

import (
	"context"
	"encoding/json"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/commands/doctor"
	"github.com/hay-kot/databus/internal/printer"
	"github.com/hay-kot/databus/internal/provider"
)

type DoctorCmd struct {
	flags   *Flags
	format  string
	fix     bool
	offline bool
	timeout time.Duration
}

func NewDoctorCmd(flags *Flags) *DoctorCmd {
	return &DoctorCmd{flags: flags}
}

func (cmd *DoctorCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "doctor",
		Usage:     "Run health checks on your databus setup",
		UsageText: "databus doctor [options]",
		Description: `Runs diagnostic checks on configuration, the journal directory, each
provider's api_url, and the bridge of a running 'databus serve'.

Use --fix to remove leftover journal files. Use --offline to skip network
checks.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
			&cli.BoolFlag{
				Name:        "fix",
				Usage:       "repair fixable problems",
				Destination: &cmd.fix,
			},
			&cli.BoolFlag{
				Name:        "offline",
				Usage:       "skip endpoint and bridge checks",
				Destination: &cmd.offline,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "timeout for each network check",
				Value:       5 * time.Second,
				Destination: &cmd.timeout,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *DoctorCmd) checks() []doctor.Check {
	cfg := cmd.flags.Config

	return []doctor.Check{
		doctor.NewConfigCheck(cfg, cmd.flags.ConfigPath),
		doctor.NewJournalCheck(cfg.JournalDir()),
		doctor.NewEndpointCheck(cfg, provider.NewHTTPFetcher(cmd.timeout), cmd.timeout),
		doctor.NewBridgeCheck(cfg.BridgeURL(), cmd.timeout),
	}
}

func (cmd *DoctorCmd) run(ctx context.Context, c *cli.Command) error {
	report := doctor.Run(ctx, cmd.checks(), doctor.Options{Fix: cmd.fix, Offline: cmd.offline})

	if cmd.format == "json" {
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		cmd.outputText(ctx, report)
	}

	if !report.Healthy {
		return cli.Exit("", 1)
	}
	return nil
}

var itemLevels = map[doctor.Status]printer.Level{
	doctor.StatusPass: printer.LevelOK,
	doctor.StatusWarn: printer.LevelWarn,
	doctor.StatusFail: printer.LevelFail,
	doctor.StatusSkip: printer.LevelSkip,
}

func (cmd *DoctorCmd) outputText(ctx context.Context, report doctor.Report) {
	p := printer.Ctx(ctx)

	for _, result := range report.Checks {
		p.Section(result.Name)
		for _, item := range result.Items {
			p.Item(itemLevels[item.Status], item.Label, item.Detail)
		}
		p.Printf("")
	}

	s := report.Summary
	p.Printf("Summary: %d passed, %d warnings, %d failed, %d skipped", s.Passed, s.Warned, s.Failed, s.Skipped)

	if s.Fixed > 0 {
		p.Successf("Fixed %d issue(s)", s.Fixed)
	}
	if s.Fixable > 0 {
		p.Infof("%d issue(s) can be fixed with 'databus doctor --fix'", s.Fixable)
	}
}
