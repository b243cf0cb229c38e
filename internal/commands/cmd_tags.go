package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/printer"
)

type TagsCmd struct {
	flags   *Flags
	channel channelFlags
	format  string
}

// NewTagsCmd creates a new tags command
func NewTagsCmd(flags *Flags) *TagsCmd {
	return &TagsCmd{flags: flags}
}

// Register adds the tags command to the application
func (cmd *TagsCmd) Register(app *cli.Command) *cli.Command {
	flags := append(cmd.channel.flags(), &cli.StringFlag{
		Name:        "format",
		Usage:       "output format (text, json)",
		Value:       "text",
		Destination: &cmd.format,
	})

	app.Commands = append(app.Commands, &cli.Command{
		Name:      "tags",
		Usage:     "Print the message tags for a channel",
		UsageText: "databus tags --store name [--version n] [--namespace ns]",
		Flags:     flags,
		Action:    cmd.run,
	})
	return app
}

type tagsJSON struct {
	Channel  string        `json:"channel"`
	Request  messaging.Tag `json:"request"`
	Response messaging.Tag `json:"response"`
	Refresh  messaging.Tag `json:"refresh"`
}

func (cmd *TagsCmd) run(ctx context.Context, c *cli.Command) error {
	ch, err := cmd.channel.channel(cmd.flags.Config.Namespace)
	if err != nil {
		return fmt.Errorf("invalid channel: %w", err)
	}

	out := tagsJSON{
		Channel:  ch.Base(),
		Request:  ch.RequestTag(),
		Response: ch.ResponseTag(),
		Refresh:  ch.RefreshTag(),
	}

	switch cmd.format {
	case "json":
		enc := json.NewEncoder(c.Root().Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "text", "":
		p := printer.New(c.Root().Writer)
		p.Printf("request   %s", out.Request)
		p.Printf("response  %s", out.Response)
		p.Printf("refresh   %s", out.Refresh)
		return nil
	default:
		return fmt.Errorf("unknown format %q", cmd.format)
	}
}
