package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/printer"
	"github.com/hay-kot/databus/internal/store/jsonfile"
)

var stdinIsTerminal = func() bool { return term.IsTerminal(int(os.Stdin.Fd())) }

type JournalCmd struct {
	flags *Flags

	// read flags
	pattern string
	since   string
	last    int
	follow  bool

	// prune flags
	olderThan time.Duration
	yes       bool
}

// NewJournalCmd creates a new journal command.
func NewJournalCmd(flags *Flags) *JournalCmd {
	return &JournalCmd{flags: flags}
}

// Register adds the journal command to the application.
func (cmd *JournalCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "journal",
		Usage:     "Read envelopes recorded by 'databus serve'",
		UsageText: "databus journal [--pattern glob] [--since t] [--last N] [--follow]",
		Description: `Prints journaled envelopes as JSON lines, oldest first.

Envelopes are stored per tag under $XDG_DATA_HOME/databus/journal/.
Patterns use doublestar globs over tags:

  databus journal                                  # everything
  databus journal --pattern 'company/widgets/**'   # one store, all versions
  databus journal --pattern '*/*/v1/response'      # v1 responses
  databus journal --since 10m --last 5             # last 5 from the past 10 minutes
  databus journal --follow                         # poll for new records`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "pattern",
				Aliases:     []string{"p"},
				Usage:       "tag glob to read",
				Value:       "**",
				Destination: &cmd.pattern,
			},
			&cli.StringFlag{
				Name:        "since",
				Usage:       "only records after this time (RFC3339 or a duration like 15m)",
				Destination: &cmd.since,
			},
			&cli.IntFlag{
				Name:        "last",
				Aliases:     []string{"n"},
				Usage:       "return only the last N records",
				Destination: &cmd.last,
			},
			&cli.BoolFlag{
				Name:        "follow",
				Aliases:     []string{"f"},
				Usage:       "keep polling for new records",
				Destination: &cmd.follow,
			},
		},
		Action: cmd.runRead,
		Commands: []*cli.Command{
			cmd.listCmd(),
			cmd.pruneCmd(),
		},
	})

	return app
}

func (cmd *JournalCmd) listCmd() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Usage:     "List journaled tags with record counts",
		UsageText: "databus journal list",
		Action:    cmd.runList,
	}
}

func (cmd *JournalCmd) pruneCmd() *cli.Command {
	return &cli.Command{
		Name:      "prune",
		Usage:     "Remove old journal records",
		UsageText: "databus journal prune --older-than 24h [--yes]",
		Description: `Removes records older than --older-than. Tags left without records are
deleted. Asks for confirmation on a terminal unless --yes is given.`,
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:        "older-than",
				Usage:       "remove records older than this duration",
				Required:    true,
				Destination: &cmd.olderThan,
			},
			&cli.BoolFlag{
				Name:        "yes",
				Aliases:     []string{"y"},
				Usage:       "do not ask for confirmation",
				Destination: &cmd.yes,
			},
		},
		Action: cmd.runPrune,
	}
}

func (cmd *JournalCmd) store() *jsonfile.Journal {
	return jsonfile.NewJournal(cmd.flags.Config.JournalDir())
}

func (cmd *JournalCmd) runRead(ctx context.Context, c *cli.Command) error {
	if c.NArg() > 0 {
		return fmt.Errorf("unknown journal command %q", c.Args().First())
	}

	since, err := parseSince(cmd.since, time.Now())
	if err != nil {
		return err
	}

	store := cmd.store()
	records, err := store.Read(ctx, cmd.pattern, since)
	if err != nil && !errors.Is(err, messaging.ErrNoRecords) {
		return fmt.Errorf("read journal: %w", err)
	}

	if cmd.last > 0 && len(records) > cmd.last {
		records = records[len(records)-cmd.last:]
	}

	if err := printRecords(c.Root().Writer, records); err != nil {
		return err
	}

	if !cmd.follow {
		return nil
	}

	if len(records) > 0 {
		since = records[len(records)-1].CreatedAt
	} else if since.IsZero() {
		since = time.Now()
	}
	return cmd.followRecords(ctx, c.Root().Writer, store, since)
}

func (cmd *JournalCmd) followRecords(ctx context.Context, w io.Writer, store *jsonfile.Journal, since time.Time) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			records, err := store.Read(ctx, cmd.pattern, since)
			if err != nil && !errors.Is(err, messaging.ErrNoRecords) {
				return fmt.Errorf("read journal: %w", err)
			}
			if len(records) == 0 {
				continue
			}
			if err := printRecords(w, records); err != nil {
				return err
			}
			since = records[len(records)-1].CreatedAt
		}
	}
}

func (cmd *JournalCmd) runList(ctx context.Context, c *cli.Command) error {
	store := cmd.store()

	tags, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("list journal: %w", err)
	}

	type tagInfo struct {
		Tag         messaging.Tag `json:"tag"`
		RecordCount int           `json:"record_count"`
	}

	enc := json.NewEncoder(c.Root().Writer)
	for _, t := range tags {
		records, err := store.Read(ctx, string(t), time.Time{})
		count := 0
		if err == nil {
			count = len(records)
		}
		if err := enc.Encode(tagInfo{Tag: t, RecordCount: count}); err != nil {
			return err
		}
	}
	return nil
}

func (cmd *JournalCmd) runPrune(ctx context.Context, _ *cli.Command) error {
	p := printer.Ctx(ctx)

	if cmd.olderThan <= 0 {
		return fmt.Errorf("--older-than must be positive")
	}

	if !cmd.yes {
		if !stdinIsTerminal() {
			return fmt.Errorf("refusing to prune without confirmation; pass --yes")
		}

		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Remove journal records older than %s?", cmd.olderThan)).
			Affirmative("Prune").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		if !confirmed {
			p.Infof("Cancelled")
			return nil
		}
	}

	count, err := cmd.store().Prune(ctx, cmd.olderThan)
	if err != nil {
		return fmt.Errorf("prune journal: %w", err)
	}

	if count == 0 {
		p.Infof("No records older than %s", cmd.olderThan)
		return nil
	}

	p.Successf("Pruned %d record(s)", count)
	return nil
}

// parseSince accepts an RFC3339 timestamp or a duration counted back from
// now. Empty means no lower bound.
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return time.Time{}, fmt.Errorf("invalid --since %q: duration must be positive", v)
		}
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since %q: want RFC3339 or a duration", v)
	}
	return t, nil
}

type recordJSON struct {
	ID        string             `json:"id"`
	Tag       messaging.Tag      `json:"tag"`
	Source    string             `json:"source,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	Envelope  messaging.Envelope `json:"envelope"`
}

func printRecords(w io.Writer, records []messaging.Record) error {
	enc := json.NewEncoder(w)
	for _, r := range records {
		env, err := r.Decode()
		if err != nil {
			return fmt.Errorf("decode record %s: %w", r.ID, err)
		}
		out := recordJSON{ID: r.ID, Tag: r.Tag, Source: r.Source, CreatedAt: r.CreatedAt, Envelope: env}
		if err := enc.Encode(out); err != nil {
			return err
		}
	}
	return nil
}
