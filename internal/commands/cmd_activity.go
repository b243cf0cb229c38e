package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/printer"
	"github.com/hay-kot/databus/internal/store/jsonfile"
)

type ActivityCmd struct {
	flags *Flags

	last    int
	since   string
	channel string
	types   []string
	format  string
}

// NewActivityCmd creates a new activity command
func NewActivityCmd(flags *Flags) *ActivityCmd {
	return &ActivityCmd{flags: flags}
}

// Register adds the activity command to the application
func (cmd *ActivityCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "activity",
		Usage:     "Show provider lifecycle events",
		UsageText: "databus activity [--last N] [--since t] [--channel pattern] [--type event] [--format text|json]",
		Description: `Lists fetches, discarded stale results, answered requests and refreshes
recorded by providers, newest first.

--channel takes a channel base or a glob over it, for example
company/widgets/v1 or 'company/*/v2'.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "show at most N events (0 for all)",
				Value:       20,
				Destination: &cmd.last,
			},
			&cli.StringFlag{
				Name:        "since",
				Usage:       "only events after this time (RFC3339 or a duration like 1h)",
				Destination: &cmd.since,
			},
			&cli.StringFlag{
				Name:        "channel",
				Usage:       "only events for channels matching this pattern",
				Destination: &cmd.channel,
			},
			&cli.StringSliceFlag{
				Name:        "type",
				Usage:       "only events of this type (repeatable): " + activityTypeList(),
				Destination: &cmd.types,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ActivityCmd) run(ctx context.Context, c *cli.Command) error {
	since, err := parseSince(cmd.since, time.Now())
	if err != nil {
		return err
	}

	q := messaging.ActivityQuery{Channel: cmd.channel, Since: since, Limit: cmd.last}
	for _, t := range cmd.types {
		typ, err := parseActivityType(t)
		if err != nil {
			return err
		}
		q.Types = append(q.Types, typ)
	}

	events, err := jsonfile.NewActivityStore(cmd.flags.Config.ActivityDir()).Query(q)
	if err != nil {
		return fmt.Errorf("list activity: %w", err)
	}

	switch cmd.format {
	case "json":
		enc := json.NewEncoder(c.Root().Writer)
		for _, e := range events {
			if err := enc.Encode(e); err != nil {
				return err
			}
		}
		return nil
	case "text", "":
		if len(events) == 0 {
			printer.Ctx(ctx).Infof("No activity recorded")
			return nil
		}
		return printActivity(c.Root().Writer, events)
	default:
		return fmt.Errorf("unknown format %q", cmd.format)
	}
}

var activityTypes = []messaging.ActivityType{
	messaging.ActivityFetchStarted,
	messaging.ActivityFetchSucceeded,
	messaging.ActivityFetchFailed,
	messaging.ActivityFetchDiscarded,
	messaging.ActivityRequestAnswered,
	messaging.ActivityRefreshRequested,
}

func activityTypeList() string {
	names := make([]string, len(activityTypes))
	for i, t := range activityTypes {
		names[i] = string(t)
	}
	return strings.Join(names, ", ")
}

func parseActivityType(v string) (messaging.ActivityType, error) {
	typ := messaging.ActivityType(strings.TrimSpace(v))
	if !slices.Contains(activityTypes, typ) {
		return "", fmt.Errorf("unknown activity type %q (want one of %s)", v, activityTypeList())
	}
	return typ, nil
}

func printActivity(out io.Writer, events []messaging.Activity) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tCHANNEL\tEVENT\tGEN\tSTATUS")

	for _, e := range events {
		gen := ""
		if e.Generation > 0 {
			gen = fmt.Sprintf("%d", e.Generation)
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.Channel, e.Type, gen, activityStatus(e))
	}

	return w.Flush()
}

func activityStatus(e messaging.Activity) string {
	switch e.Type {
	case messaging.ActivityFetchFailed:
		return printer.Mark(printer.LevelFail, e.Error)
	case messaging.ActivityFetchDiscarded:
		return printer.Mark(printer.LevelWarn, "stale")
	case messaging.ActivityFetchSucceeded:
		return printer.Mark(printer.LevelOK, fmt.Sprintf("%d item(s)", e.Items))
	default:
		return ""
	}
}
