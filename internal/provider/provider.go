// Package provider owns a dataset fetched over HTTP and keeps it available
// to accessors on a message bus.
package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/core/messaging"
	"github.com/hay-kot/databus/internal/core/validate"
)

var (
	ErrAlreadyStarted = errors.New("provider already started")
	ErrNotStarted     = errors.New("provider not started")
)

// Options configures a Provider.
type Options struct {
	APIURL  string
	Channel messaging.Channel

	// AllowRefresh makes the provider refetch when it observes a refresh
	// envelope on its channel.
	AllowRefresh bool
}

// Validate checks the options.
func (o Options) Validate() error {
	if err := validate.APIURL(o.APIURL); err != nil {
		return fmt.Errorf("api url: %w", err)
	}
	if err := o.Channel.Validate(); err != nil {
		return fmt.Errorf("channel: %w", err)
	}
	return nil
}

// Option customizes a Provider.
type Option func(*Provider)

// WithActivity records lifecycle events to store. Recording is best effort.
func WithActivity(store messaging.ActivityStore) Option {
	return func(p *Provider) { p.activity = store }
}

// Provider fetches a dataset and answers requests for it.
type Provider struct {
	opts     Options
	channel  messaging.Channel
	bus      messaging.Bus
	fetcher  Fetcher
	log      zerolog.Logger
	activity messaging.ActivityStore

	mu          sync.Mutex
	snap        messaging.Snapshot
	gen         uint64
	cancelFetch context.CancelFunc
	ctx         context.Context
	stop        context.CancelFunc
	subs        []io.Closer
	started     bool
	stopped     bool

	wg sync.WaitGroup
}

// New creates a Provider. It does nothing until Start is called.
func New(opts Options, bus messaging.Bus, fetcher Fetcher, log zerolog.Logger, options ...Option) (*Provider, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	ch := messaging.NewChannel(opts.Channel.Store, opts.Channel.Version)
	if opts.Channel.Namespace != "" {
		ch.Namespace = opts.Channel.Namespace
	}

	p := &Provider{
		opts:    opts,
		channel: ch,
		bus:     bus,
		fetcher: fetcher,
		log:     log.With().Str("channel", ch.Base()).Logger(),
		snap:    messaging.EmptySnapshot(),
	}
	for _, o := range options {
		o(p)
	}
	return p, nil
}

// Channel returns the channel the provider answers on.
func (p *Provider) Channel() messaging.Channel { return p.channel }

// Start subscribes to requests, broadcasts the current snapshot and begins
// the first fetch. Fetches run under ctx until Stop is called.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}

	sub, err := p.bus.Subscribe(p.channel.RequestTag(), p.onRequest)
	if err != nil {
		p.mu.Unlock()
		return fmt.Errorf("subscribe requests: %w", err)
	}
	p.subs = append(p.subs, sub)

	if p.opts.AllowRefresh {
		sub, err := p.bus.Subscribe(p.channel.RefreshTag(), p.onRefresh)
		if err != nil {
			p.mu.Unlock()
			_ = p.closeSubs()
			return fmt.Errorf("subscribe refresh: %w", err)
		}
		p.subs = append(p.subs, sub)
	}

	p.started = true
	p.ctx, p.stop = context.WithCancel(ctx)
	p.broadcastLocked()
	p.mu.Unlock()

	p.log.Debug().Str("api_url", p.opts.APIURL).Bool("allow_refresh", p.opts.AllowRefresh).Msg("provider started")

	return p.Reset()
}

// Reset clears the snapshot and starts a new fetch. A fetch still in flight
// is cancelled and its result discarded. Fetch failures are not returned;
// they are stored in the snapshot and broadcast.
func (p *Provider) Reset() error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return ErrNotStarted
	}
	if p.stopped {
		p.mu.Unlock()
		return nil
	}

	p.gen++
	gen := p.gen

	if p.cancelFetch != nil {
		p.cancelFetch()
	}
	ctx, cancel := context.WithCancel(p.ctx)
	p.cancelFetch = cancel

	if !p.snap.IsEmpty() {
		p.snap = messaging.EmptySnapshot()
		p.broadcastLocked()
	}

	p.wg.Add(1)
	p.mu.Unlock()

	p.log.Debug().Uint64("generation", gen).Msg("fetch started")
	p.record(messaging.Activity{Type: messaging.ActivityFetchStarted, Generation: gen})

	go p.fetch(ctx, cancel, gen)
	return nil
}

func (p *Provider) fetch(ctx context.Context, cancel context.CancelFunc, gen uint64) {
	defer p.wg.Done()
	defer cancel()

	items, err := p.fetcher.Fetch(ctx, p.opts.APIURL)

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		p.log.Debug().Uint64("generation", gen).Msg("fetch abandoned on stop")
		return
	}
	if gen != p.gen {
		latest := p.gen
		p.mu.Unlock()

		p.log.Debug().Uint64("generation", gen).Uint64("latest", latest).Msg("discarding stale fetch result")
		p.record(messaging.Activity{Type: messaging.ActivityFetchDiscarded, Generation: gen})
		return
	}

	p.cancelFetch = nil
	if err != nil {
		p.snap = messaging.Snapshot{Data: []messaging.Item{}, Error: messaging.NewFetchError(err)}
	} else {
		p.snap = messaging.Snapshot{Data: items}
		if p.snap.Data == nil {
			p.snap.Data = []messaging.Item{}
		}
	}
	p.broadcastLocked()
	p.mu.Unlock()

	if err != nil {
		p.log.Warn().Err(err).Uint64("generation", gen).Msg("fetch failed")
		p.record(messaging.Activity{Type: messaging.ActivityFetchFailed, Generation: gen, Error: err.Error()})
		return
	}

	p.log.Debug().Uint64("generation", gen).Int("items", len(items)).Msg("fetch complete")
	p.record(messaging.Activity{Type: messaging.ActivityFetchSucceeded, Generation: gen, Items: len(items)})
}

// Snapshot returns a copy of the current snapshot.
func (p *Provider) Snapshot() messaging.Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snap.Clone()
}

// Wait blocks until no fetch is in flight.
func (p *Provider) Wait() {
	p.wg.Wait()
}

// Stop removes the provider's listeners, cancels any fetch in flight and
// waits for it to return.
func (p *Provider) Stop() error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.stop()
	p.mu.Unlock()

	err := p.closeSubs()
	p.wg.Wait()

	p.log.Debug().Msg("provider stopped")
	return err
}

func (p *Provider) closeSubs() error {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	var errs []error
	for _, s := range subs {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (p *Provider) onRequest(messaging.Envelope) {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.broadcastLocked()
	p.mu.Unlock()

	p.record(messaging.Activity{Type: messaging.ActivityRequestAnswered})
}

func (p *Provider) onRefresh(env messaging.Envelope) {
	p.log.Debug().Str("source", env.Source).Msg("refresh requested")
	p.record(messaging.Activity{Type: messaging.ActivityRefreshRequested})

	if err := p.Reset(); err != nil {
		p.log.Warn().Err(err).Msg("refresh failed")
	}
}

// broadcastLocked publishes the current snapshot. Caller must hold p.mu so
// the bus sees snapshots in the order they were set.
func (p *Provider) broadcastLocked() {
	if err := p.bus.Publish(p.ctx, messaging.Response(p.channel, p.snap)); err != nil {
		p.log.Warn().Err(err).Msg("broadcast failed")
	}
}

func (p *Provider) record(a messaging.Activity) {
	if p.activity == nil {
		return
	}
	a.Channel = p.channel.Base()
	if err := p.activity.Record(a); err != nil {
		p.log.Debug().Err(err).Str("type", string(a.Type)).Msg("record activity")
	}
}
