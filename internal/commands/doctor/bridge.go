package doctor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/bus/memory"
	"github.com/hay-kot/databus/internal/bus/wsbridge"
)

// BridgeCheck dials the websocket bridge of a running `databus serve`.
// An unreachable bridge is a warning since serve may simply not be running.
type BridgeCheck struct {
	url     string
	timeout time.Duration
}

// NewBridgeCheck creates a new bridge reachability check.
func NewBridgeCheck(url string, timeout time.Duration) *BridgeCheck {
	return &BridgeCheck{url: url, timeout: timeout}
}

func (c *BridgeCheck) networked() {}

func (c *BridgeCheck) Name() string {
	return "Bridge"
}

func (c *BridgeCheck) Run(ctx context.Context) Result {
	result := Result{Name: c.Name()}

	b := memory.New(zerolog.Nop())
	defer b.Close() //nolint:errcheck

	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	client, err := wsbridge.Dial(dialCtx, c.url, b, zerolog.Nop(), wsbridge.DialOptions{})
	if err != nil {
		result.Items = append(result.Items, Item{
			Label:  c.url,
			Status: StatusWarn,
			Detail: "not reachable (is `databus serve` running?)",
		})
		return result
	}
	_ = client.Close()

	result.Items = append(result.Items, Item{
		Label:  c.url,
		Status: StatusPass,
		Detail: "connected",
	})
	return result
}
