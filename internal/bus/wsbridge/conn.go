// Package wsbridge extends a message bus across processes over websockets.
// Envelopes travel as JSON text frames in the wire format of
// messaging.EncodeEnvelope.
package wsbridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/pkg/randid"
)

// Settings tunes a bridged connection.
type Settings struct {
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	PingInterval time.Duration
	SendBuffer   int
}

func DefaultSettings() Settings {
	return Settings{
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  30 * time.Second,
		PingInterval: 10 * time.Second,
		SendBuffer:   64,
	}
}

func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = d.WriteTimeout
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = d.ReadTimeout
	}
	if s.PingInterval <= 0 {
		s.PingInterval = d.PingInterval
	}
	if s.SendBuffer <= 0 {
		s.SendBuffer = d.SendBuffer
	}
	return s
}

// normalizePattern defaults an empty pattern to everything and checks it.
func normalizePattern(pattern string) (string, error) {
	if pattern == "" {
		return "**", nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return "", doublestar.ErrBadPattern
	}
	return pattern, nil
}

func newConnID() string {
	return randid.Prefixed("ws", 8)
}

// conn pumps envelopes between one websocket and a bus. Envelopes read from
// the socket are published with Source set to the connection id, and are
// never written back to it.
type conn struct {
	id       string
	ws       *websocket.Conn
	bus      messaging.Bus
	log      zerolog.Logger
	settings Settings

	send chan []byte
	tap  io.Closer

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	closeOnce sync.Once
	closeErr  error
}

func newConn(ws *websocket.Conn, bus messaging.Bus, log zerolog.Logger, settings Settings) *conn {
	id := newConnID()
	ctx, cancel := context.WithCancel(context.Background())
	return &conn{
		id:       id,
		ws:       ws,
		bus:      bus,
		log:      log.With().Str("conn", id).Logger(),
		settings: settings,
		send:     make(chan []byte, settings.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// start taps the bus with pattern and runs the read and write pumps.
func (c *conn) start(pattern string) error {
	tap, err := c.bus.Tap(pattern, c.forward)
	if err != nil {
		return err
	}
	c.tap = tap

	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
	return nil
}

// forward runs on the bus dispatcher and must not block.
func (c *conn) forward(env messaging.Envelope) {
	if env.Source == c.id {
		return
	}

	raw, err := messaging.EncodeEnvelope(env)
	if err != nil {
		c.log.Warn().Err(err).Str("tag", string(env.Type)).Msg("encode envelope")
		return
	}

	select {
	case <-c.ctx.Done():
	case c.send <- raw:
	default:
		c.log.Warn().Str("tag", string(env.Type)).Msg("send buffer full, dropping envelope")
	}
}

func (c *conn) writeLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	ping := time.NewTicker(c.settings.PingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.ctx.Done():
			c.drainSend()
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				// a websocket write deadline cannot be recovered
				c.log.Debug().Err(err).Msg("write failed")
				return
			}
		case <-ping.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug().Err(err).Msg("ping failed")
				return
			}
		}
	}
}

// drainSend writes envelopes already queued when the connection is closed
// locally, so a publish followed by Close is not lost.
func (c *conn) drainSend() {
	for {
		select {
		case raw := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *conn) readLoop() {
	defer c.wg.Done()
	defer c.shutdown()

	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	for {
		if c.ctx.Err() != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		messageType, raw, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) &&
				!errors.Is(err, context.Canceled) {
				c.log.Debug().Err(err).Msg("read failed")
			}
			return
		}

		if messageType != websocket.TextMessage {
			c.log.Debug().Int("type", messageType).Msg("ignoring non-text frame")
			continue
		}

		env, err := messaging.DecodeEnvelope(raw)
		if err != nil {
			c.log.Warn().Err(err).Msg("dropping malformed envelope")
			continue
		}
		env.Source = c.id

		if err := c.bus.Publish(c.ctx, env); err != nil {
			if errors.Is(err, messaging.ErrClosed) {
				return
			}
			c.log.Warn().Err(err).Str("tag", string(env.Type)).Msg("publish failed")
		}
	}
}

// shutdown stops both pumps. The write pump sends a close frame on its way
// out; the socket itself is closed by close.
func (c *conn) shutdown() {
	c.once.Do(func() {
		if c.tap != nil {
			_ = c.tap.Close()
		}
		c.cancel()
	})
}

func (c *conn) done() <-chan struct{} {
	return c.ctx.Done()
}

// close stops the pumps and waits for them to exit.
func (c *conn) close() error {
	c.closeOnce.Do(func() {
		c.shutdown()

		// unblock a pending read
		_ = c.ws.SetReadDeadline(time.Now())
		c.wg.Wait()
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}
