package wsbridge

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/core/messaging"
)

// DialOptions configures Dial.
type DialOptions struct {
	// Pattern limits which local envelopes are sent to the server.
	// It defaults to "**".
	Pattern  string
	Header   http.Header
	Settings Settings
}

// Client bridges a local bus to a remote Server.
type Client struct {
	conn *conn
}

// Dial connects to a bridge server at url and starts pumping envelopes
// between it and bus.
func Dial(ctx context.Context, url string, bus messaging.Bus, log zerolog.Logger, opts DialOptions) (*Client, error) {
	pattern, err := normalizePattern(opts.Pattern)
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", opts.Pattern, err)
	}
	settings := opts.Settings.withDefaults()

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: settings.WriteTimeout,
	}

	ws, resp, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w: %s", url, err, resp.Status)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := newConn(ws, bus, log.With().Str("component", "wsbridge").Str("url", url).Logger(), settings)
	if err := c.start(pattern); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("tap bus: %w", err)
	}

	c.log.Debug().Msg("connected")
	return &Client{conn: c}, nil
}

// ID is the source id given to envelopes received from the server.
func (c *Client) ID() string { return c.conn.id }

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} { return c.conn.done() }

// Close disconnects from the server.
func (c *Client) Close() error {
	return c.conn.close()
}
