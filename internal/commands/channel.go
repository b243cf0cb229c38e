package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/databus/internal/bus/memory"
	"github.com/hay-kot/databus/internal/bus/wsbridge"
	"github.com/hay-kot/databus/internal/core/config"
	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/core/validate"
	"github.com/hay-kot/databus/internal/printer"
	"github.com/hay-kot/databus/internal/provider"
)

// channelFlags are shared by commands that address a single channel.
type channelFlags struct {
	namespace string
	store     string
	version   int
}

func (f *channelFlags) flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "store",
			Aliases:     []string{"s"},
			Usage:       "store name",
			Required:    true,
			Destination: &f.store,
		},
		&cli.IntFlag{
			Name:        "version",
			Aliases:     []string{"v"},
			Usage:       "store schema version",
			Value:       1,
			Destination: &f.version,
		},
		&cli.StringFlag{
			Name:        "namespace",
			Usage:       "tag namespace (default: config namespace)",
			Destination: &f.namespace,
		},
	}
}

// channel resolves the flags into a validated channel. defaultNamespace is
// used when --namespace is not set.
func (f *channelFlags) channel(defaultNamespace string) (messaging.Channel, error) {
	ch := messaging.NewChannel(f.store, f.version)
	switch {
	case f.namespace != "":
		ch.Namespace = f.namespace
	case defaultNamespace != "":
		ch.Namespace = defaultNamespace
	}

	if err := ch.Validate(); err != nil {
		return messaging.Channel{}, err
	}
	return ch, nil
}

// busSource describes where a command's bus traffic comes from: a bridge to
// `databus serve`, or a provider run in-process against an api url.
type busSource struct {
	url    string
	apiURL string
}

func (s *busSource) flags() []cli.Flag {
	return []cli.Flag{
		bridgeURLFlag(&s.url),
		&cli.StringFlag{
			Name:        "api-url",
			Usage:       "fetch directly from this url with an in-process provider instead of a bridge",
			Destination: &s.apiURL,
		},
	}
}

func (s *busSource) origin() string {
	if s.apiURL != "" {
		return s.apiURL
	}
	return s.url
}

func bridgeURLFlag(dest *string) cli.Flag {
	return &cli.StringFlag{
		Name:        "url",
		Usage:       "bridge url of a running `databus serve` (default: derived from config listen)",
		Sources:     cli.EnvVars("DATABUS_URL"),
		Destination: dest,
	}
}

// session is a local bus, optionally bridged or backed by a provider.
type session struct {
	bus      *memory.Bus
	client   *wsbridge.Client
	provider *provider.Provider
}

// open creates the session's bus. With an api url a provider is started on
// ch; otherwise the bus is bridged to --url, or to cfg's listen address.
func (s *busSource) open(ctx context.Context, ch messaging.Channel, cfg *config.Config) (*session, error) {
	if s.url == "" {
		s.url = cfg.BridgeURL()
	}

	logger := log.With().Str("component", "cli").Logger()
	sess := &session{bus: memory.New(logger)}

	if s.apiURL != "" {
		if err := validate.APIURL(s.apiURL); err != nil {
			_ = sess.close()
			return nil, fmt.Errorf("--api-url: %w", err)
		}

		p, err := provider.New(
			provider.Options{APIURL: s.apiURL, Channel: ch},
			sess.bus,
			provider.NewHTTPFetcher(cfg.HTTP.Timeout),
			logger,
		)
		if err != nil {
			_ = sess.close()
			return nil, err
		}
		if err := p.Start(ctx); err != nil {
			_ = sess.close()
			return nil, fmt.Errorf("start provider: %w", err)
		}
		sess.provider = p
		return sess, nil
	}

	if err := validate.BridgeURL(s.url); err != nil {
		_ = sess.close()
		return nil, fmt.Errorf("--url: %w", err)
	}

	client, err := wsbridge.Dial(ctx, s.url, sess.bus, logger, wsbridge.DialOptions{})
	if err != nil {
		_ = sess.close()
		return nil, printer.Hint(
			fmt.Errorf("connect to bridge %s: %w", s.url, err),
			"start a hub with `databus serve`, or pass --api-url to fetch without one",
		)
	}
	sess.client = client
	return sess, nil
}

func (s *session) close() error {
	var firstErr error
	if s.provider != nil {
		if err := s.provider.Stop(); err != nil {
			firstErr = err
		}
	}
	if s.client != nil {
		if err := s.client.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := s.bus.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// drain waits for queued envelopes to be delivered, including ones bound
// for the bridge.
func (s *session) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.bus.Flush(ctx); err != nil {
		log.Debug().Err(err).Msg("flush bus")
	}
}

// done is closed when the session's bridge connection drops. Sessions
// without a bridge never report done.
func (s *session) done() <-chan struct{} {
	if s.client == nil {
		return nil
	}
	return s.client.Done()
}
