// Package hub runs configured providers on a shared bus and exposes that bus
// to other processes over the websocket bridge.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/bus/memory"
	"github.com/hay-kot/databus/internal/bus/wsbridge"
	"github.com/hay-kot/databus/internal/core/config"
	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/provider"
	"github.com/hay-kot/databus/internal/store/jsonfile"
)

var ErrAlreadyStarted = errors.New("hub already started")

const shutdownTimeout = 5 * time.Second

// Option customizes a Service.
type Option func(*Service)

// WithFetcher replaces the HTTP fetcher used by every provider.
func WithFetcher(f provider.Fetcher) Option {
	return func(s *Service) { s.fetcher = f }
}

// WithJournal replaces the journal store. It is only used when the journal
// is enabled in config.
func WithJournal(store messaging.JournalStore) Option {
	return func(s *Service) { s.journal = store }
}

// WithActivity replaces the activity store. It is only used when activity
// is enabled in config.
func WithActivity(store messaging.ActivityStore) Option {
	return func(s *Service) { s.activity = store }
}

// Service orchestrates the providers, journal and bridge of `databus serve`.
type Service struct {
	config   *config.Config
	log      zerolog.Logger
	bus      *memory.Bus
	bridge   *wsbridge.Server
	fetcher  provider.Fetcher
	journal  messaging.JournalStore
	activity messaging.ActivityStore

	mu        sync.Mutex
	started   bool
	closed    bool
	providers []*provider.Provider
	closers   []io.Closer
}

// New creates a Service from cfg. Nothing runs until Start.
func New(cfg *config.Config, log zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		config: cfg,
		log:    log.With().Str("component", "hub").Logger(),
		bus:    memory.New(log.With().Str("component", "bus").Logger()),
	}
	for _, o := range opts {
		o(s)
	}

	if s.fetcher == nil {
		s.fetcher = provider.NewHTTPFetcher(cfg.HTTP.Timeout)
	}
	if cfg.Journal.Enabled && s.journal == nil {
		s.journal = jsonfile.NewJournal(cfg.JournalDir()).WithMaxRecords(cfg.Journal.MaxRecords)
	}
	if cfg.Activity.Enabled && s.activity == nil {
		s.activity = jsonfile.NewActivityStore(cfg.ActivityDir()).WithMaxActivities(cfg.Activity.MaxEntries)
	}

	s.bridge = wsbridge.NewServer(s.bus, log, wsbridge.ServerOptions{AllowedOrigins: cfg.AllowedOrigins})
	return s
}

// Bus returns the shared bus.
func (s *Service) Bus() *memory.Bus { return s.bus }

// Start attaches the journal recorder and starts every configured
// provider. If any provider fails to start, those already started are
// stopped.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	if s.closed {
		return messaging.ErrClosed
	}

	if s.config.Journal.Enabled {
		rec := messaging.NewRecorder(s.journal, s.log.With().Str("component", "journal").Logger())
		closer, err := rec.Attach(s.bus, s.config.Journal.Pattern)
		if err != nil {
			return fmt.Errorf("attach journal: %w", err)
		}
		s.closers = append(s.closers, closer)
	}

	var popts []provider.Option
	if s.config.Activity.Enabled {
		popts = append(popts, provider.WithActivity(s.activity))
	}

	for i, pc := range s.config.Providers {
		p, err := provider.New(
			provider.Options{
				APIURL:       pc.APIURL,
				Channel:      pc.Channel(s.config.Namespace),
				AllowRefresh: pc.AllowRefresh,
			},
			s.bus,
			s.fetcher,
			s.log.With().Str("component", "provider").Logger(),
			popts...,
		)
		if err == nil {
			err = p.Start(ctx)
		}
		if err != nil {
			s.stopProvidersLocked()
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		s.providers = append(s.providers, p)
	}

	s.started = true
	s.log.Info().Int("providers", len(s.providers)).Bool("journal", s.config.Journal.Enabled).Msg("hub started")
	return nil
}

// ProviderStatus summarizes a running provider.
type ProviderStatus struct {
	Channel string `json:"channel"`
	Items   int    `json:"items"`
	Error   string `json:"error,omitempty"`
}

// Status returns the current state of every provider.
func (s *Service) Status() []ProviderStatus {
	s.mu.Lock()
	providers := s.providers
	s.mu.Unlock()

	out := make([]ProviderStatus, len(providers))
	for i, p := range providers {
		snap := p.Snapshot()
		out[i] = ProviderStatus{Channel: p.Channel().Base(), Items: len(snap.Data)}
		if snap.Error != nil {
			out[i].Error = snap.Error.Message
		}
	}
	return out
}

// Snapshots returns each provider's current snapshot keyed by channel.
func (s *Service) Snapshots() map[string]messaging.Snapshot {
	s.mu.Lock()
	providers := s.providers
	s.mu.Unlock()

	out := make(map[string]messaging.Snapshot, len(providers))
	for _, p := range providers {
		out[p.Channel().Base()] = p.Snapshot()
	}
	return out
}

// Handler serves the bridge at config.BridgePath plus /healthz and
// /snapshots.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(config.BridgePath, s.bridge)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, struct {
			Status    string           `json:"status"`
			Clients   int              `json:"clients"`
			Providers []ProviderStatus `json:"providers"`
		}{
			Status:    "ok",
			Clients:   s.bridge.Len(),
			Providers: s.Status(),
		})
	})
	mux.HandleFunc("GET /snapshots", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.Snapshots())
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// Serve serves Handler on ln until ctx is done, then closes the Service.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	s.log.Info().Str("addr", ln.Addr().String()).Str("path", config.BridgePath).Msg("bridge listening")

	select {
	case err := <-errCh:
		_ = s.Close()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down")

	// Hijacked websocket connections are not tracked by the http.Server.
	closeErr := s.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return closeErr
}

// Close disconnects bridge clients, stops providers and the journal, and
// closes the bus.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	var errs []error
	if err := s.bridge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bridge: %w", err))
	}

	s.mu.Lock()
	s.stopProvidersLocked()
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	// Let queued envelopes reach the journal before it detaches.
	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := s.bus.Flush(flushCtx); err != nil {
		s.log.Warn().Err(err).Msg("flush bus")
	}
	cancel()

	for _, c := range closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}

	return errors.Join(errs...)
}

func (s *Service) stopProvidersLocked() {
	for _, p := range s.providers {
		if err := p.Stop(); err != nil {
			s.log.Warn().Err(err).Str("channel", p.Channel().Base()).Msg("stop provider")
		}
	}
	s.providers = nil
}
