package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/core/config"
	"github.com/hay-kot/databus/internal/printer"
)

type ConfigValidateCmd struct {
	flags  *Flags
	format string
}

// NewConfigValidateCmd creates a new config validate command.
func NewConfigValidateCmd(flags *Flags) *ConfigValidateCmd {
	return &ConfigValidateCmd{flags: flags}
}

// Register adds the config validate command to the application.
func (cmd *ConfigValidateCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "config",
		Usage: "Configuration management commands",
		Commands: []*cli.Command{
			{
				Name:      "validate",
				Usage:     "Validate configuration file",
				UsageText: "databus config validate [options]",
				Description: `Validates the configuration and lists every provider channel it would
serve, with the problems found for each. Settings that are not tied to a
provider (listen, allowed_origins, journal, ...) are listed after them.

Exits 1 when any error is found. Warnings do not affect the exit code.`,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:        "format",
						Usage:       "output format (text, json)",
						Value:       "text",
						Destination: &cmd.format,
					},
				},
				Action: cmd.run,
			},
		},
	})

	return app
}

func (cmd *ConfigValidateCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Config == nil {
		return fmt.Errorf("configuration not loaded")
	}

	report := cmd.flags.Config.Report(cmd.flags.ConfigPath)

	switch cmd.format {
	case "json":
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	case "text", "":
		printReport(printer.Ctx(ctx), report)
	default:
		return fmt.Errorf("unknown format %q", cmd.format)
	}

	if !report.Valid {
		return cli.Exit("", 1)
	}
	return nil
}

func printReport(p *printer.Printer, r config.Report) {
	switch {
	case r.FileFound:
		p.Infof("Config file: %s", r.ConfigFile)
	case r.ConfigFile != "":
		p.Infof("Config file: %s (not found, using defaults)", r.ConfigFile)
	default:
		p.Infof("No config file, using defaults")
	}
	p.Printf("")

	p.Section("Providers")
	if len(r.Providers) == 0 {
		p.Item(printer.LevelSkip, "none configured", "")
	}
	for _, pr := range r.Providers {
		level := printer.LevelOK
		switch {
		case pr.Failed():
			level = printer.LevelFail
		case len(pr.Issues) > 0:
			level = printer.LevelWarn
		}
		p.Item(level, pr.Channel, pr.APIURL)
		for _, is := range pr.Issues {
			p.Detail("%s %s: %s", issueMark(is), providerField(is.Field), is.Message)
		}
	}

	if len(r.Issues) > 0 {
		p.Printf("")
		p.Section("Settings")
		for _, is := range r.Issues {
			level := printer.LevelWarn
			if is.Severity == config.SeverityError {
				level = printer.LevelFail
			}
			p.Item(level, is.Field, is.Message)
		}
	}

	p.Printf("")
	if r.Valid {
		if r.Warnings > 0 {
			p.Successf("Configuration is valid (%d warning(s))", r.Warnings)
		} else {
			p.Successf("Configuration is valid")
		}
		return
	}
	p.Errorf("%d error(s), %d warning(s)", r.Errors, r.Warnings)
}

func issueMark(is config.Issue) string {
	if is.Severity == config.SeverityError {
		return printer.Cross
	}
	return printer.Dot
}

// providerField drops the "providers[i]." prefix already implied by the
// channel line above it.
func providerField(field string) string {
	if i := strings.Index(field, "]."); i >= 0 {
		return field[i+2:]
	}
	return field
}
