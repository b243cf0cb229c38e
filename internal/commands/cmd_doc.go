package commands

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

type DocCmd struct {
	flags *Flags
	raw   bool
}

func NewDocCmd(flags *Flags) *DocCmd {
	return &DocCmd{flags: flags}
}

func (cmd *DocCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "doc",
		Usage: "Protocol and configuration reference",
		Description: `Reference documentation for databus.

Use 'databus doc protocol' to see the envelope format spoken on the bus.
Use 'databus doc config' to print an annotated sample config.`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "print markdown without terminal rendering",
				Destination: &cmd.raw,
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "protocol",
				Usage:  "Show the bus protocol reference",
				Action: cmd.runProtocol,
			},
			{
				Name:   "config",
				Usage:  "Print an annotated sample config.yaml",
				Action: cmd.runConfig,
			},
		},
	})
	return app
}

func (cmd *DocCmd) runProtocol(_ context.Context, c *cli.Command) error {
	return cmd.render(c.Root().Writer, protocolGuide)
}

func (cmd *DocCmd) runConfig(_ context.Context, c *cli.Command) error {
	_, err := fmt.Fprint(c.Root().Writer, sampleConfig)
	return err
}

// render pretty-prints markdown when writing to a terminal.
func (cmd *DocCmd) render(w io.Writer, md string) error {
	if cmd.raw || w != os.Stdout || !term.IsTerminal(int(os.Stdout.Fd())) {
		_, err := fmt.Fprint(w, md)
		return err
	}

	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		width = 80
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("tokyo-night"),
		glamour.WithWordWrap(min(width, 100)),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("render: %w", err)
	}
	_, err = fmt.Fprint(w, out)
	return err
}

const protocolGuide = "# databus protocol\n" + `
A **provider** fetches a dataset over HTTP and holds it as a **snapshot**.
**Accessors** read that snapshot by exchanging **envelopes** on a shared bus.
Neither side holds a reference to the other.

## Channels and tags

A channel is the triple namespace, store and version. It produces three tags:

| Tag | Sent by | Meaning |
|-----|---------|---------|
` + "| `<ns>/<store>/v<n>/request` | accessor | send me the current snapshot |" + `
` + "| `<ns>/<store>/v<n>/response` | provider | here is the snapshot (broadcast) |" + `
` + "| `<ns>/<store>/v<n>/refresh` | anyone | refetch, if the provider allows it |" + `

Tags match exactly. Different versions of a store never see each other's
traffic. Store and namespace segments may not contain ` + "`/ * ? [ ] { } \\`" + `.

## Envelopes

` + "```json" + `
{"type": "company/widgets/v1/request"}
{"type": "company/widgets/v1/response", "payload": {"data": [{"item": {"id": 1}}]}}
{"type": "company/widgets/v1/response", "payload": {"data": [], "error": {"message": "fetch https://api.example.com/widgets: unexpected status: 502 Bad Gateway"}}}
{"type": "company/widgets/v1/refresh"}
` + "```" + `

Requests and refreshes carry no payload. A response always carries one.
Envelopes that break these rules are dropped at every process boundary.

## Lifecycle

1. The provider starts, broadcasts its current (empty) snapshot and begins
   fetching its api url.
2. When the fetch completes it replaces the snapshot wholesale and
   broadcasts it. A failed fetch broadcasts ` + "`data: []`" + ` with an error.
3. An accessor subscribes to responses, then sends a request. The provider
   answers with a broadcast, so every accessor on the channel sees it.
4. A refresh cancels any fetch in flight, broadcasts an empty snapshot and
   fetches again. Results from a superseded fetch are discarded.

Accessors keep whatever response arrived last. If two providers serve the
same channel, the last broadcast wins.

## Upstream API

` + "`GET <api_url>`" + ` must return a JSON array. Each element is kept exactly as
received, whatever its shape, and becomes one entry of ` + "`data`" + `.
` + "`null`" + ` is treated as an empty array. Any other body, or a non-2xx status,
is reported as a fetch error.

## Bridge

` + "`databus serve`" + ` exposes its bus at ` + "`ws://<listen>/bus`" + `. Every text frame is
one envelope. ` + "`?pattern=<glob>`" + ` limits what the server forwards, for example
` + "`?pattern=company/widgets/**`" + `. Envelopes are never echoed back to the
connection they came from.

## Quick reference

| Command | Description |
|---------|-------------|
` + "| `databus serve` | Run configured providers and the bridge |" + `
` + "| `databus get -s widgets` | Print a snapshot |" + `
` + "| `databus get -s widgets --api-url URL` | Fetch without a server |" + `
` + "| `databus watch -s widgets` | Live view |" + `
` + "| `databus refresh -s widgets` | Ask for a refetch |" + `
` + "| `databus journal -p 'company/**'` | Read recorded envelopes |" + `
` + "| `databus activity` | Provider lifecycle events |" + `
`

const sampleConfig = `# databus config.yaml

# Namespace used when a provider or command does not set one.
namespace: company

# Address 'databus serve' listens on. Clients connect to ws://<listen>/bus.
listen: 127.0.0.1:7420

# Browser origins allowed to open the bridge. Empty allows same-host only.
allowed_origins: []

http:
  timeout: 30s

providers:
  - store: widgets
    version: 1
    api_url: https://api.example.com/widgets
    # Refetch when a refresh envelope arrives on this channel.
    allow_refresh: true

  - namespace: partner
    store: gadgets
    version: 2
    api_url: https://partner.example.com/v2/gadgets

journal:
  enabled: true
  # Doublestar glob over tags.
  pattern: "**"
  # Records kept per tag.
  max_records: 100

activity:
  enabled: true
  max_entries: 1000
`
