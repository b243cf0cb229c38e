// Package accessor gives read access to a provider's snapshot through the
// message bus, without a reference to the provider itself.
package accessor

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/core/messaging"
)

// State is the lifecycle state of an Accessor.
type State int

const (
	StateUninitialized State = iota
	StateWaiting
	StateHasData
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateWaiting:
		return "waiting"
	case StateHasData:
		return "has_data"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Accessor mirrors the latest snapshot broadcast on a channel.
type Accessor struct {
	channel messaging.Channel
	bus     messaging.Bus
	log     zerolog.Logger

	mu      sync.Mutex
	state   State
	snap    messaging.Snapshot
	sub     io.Closer
	updates chan messaging.Snapshot
	ready   chan struct{}
}

// New creates an accessor for ch. Nothing is sent until Activate.
func New(ch messaging.Channel, bus messaging.Bus, log zerolog.Logger) *Accessor {
	return &Accessor{
		channel: ch,
		bus:     bus,
		log:     log.With().Str("channel", ch.Base()).Logger(),
		snap:    messaging.EmptySnapshot(),
		updates: make(chan messaging.Snapshot, 1),
		ready:   make(chan struct{}),
	}
}

// Channel returns the accessor's channel.
func (a *Accessor) Channel() messaging.Channel { return a.channel }

// Activate registers the response listener and asks for the current
// snapshot. Only the first call has any effect.
func (a *Accessor) Activate(ctx context.Context) error {
	a.mu.Lock()
	switch a.state {
	case StateTerminated:
		a.mu.Unlock()
		return messaging.ErrClosed
	case StateWaiting, StateHasData:
		a.mu.Unlock()
		return nil
	}

	// Listen before asking so the answer cannot be missed.
	sub, err := a.bus.Subscribe(a.channel.ResponseTag(), a.onResponse)
	if err != nil {
		a.mu.Unlock()
		return fmt.Errorf("subscribe responses: %w", err)
	}
	a.sub = sub
	a.state = StateWaiting
	a.mu.Unlock()

	if err := a.bus.Publish(ctx, messaging.Request(a.channel)); err != nil {
		return fmt.Errorf("publish request: %w", err)
	}

	a.log.Debug().Msg("accessor activated")
	return nil
}

func (a *Accessor) onResponse(env messaging.Envelope) {
	if env.Payload == nil {
		a.log.Warn().Str("tag", string(env.Type)).Msg("dropping response without payload")
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state == StateTerminated {
		return
	}

	a.snap = *env.Payload
	if a.snap.Data == nil {
		a.snap.Data = []messaging.Item{}
	}

	if a.state != StateHasData {
		a.state = StateHasData
		close(a.ready)
	}

	// Latest wins: drop an unread update rather than block the bus.
	select {
	case <-a.updates:
	default:
	}
	a.updates <- a.snap.Clone()

	e := a.log.Debug().Int("items", len(a.snap.Data))
	if a.snap.Error != nil {
		e = e.Str("error", a.snap.Error.Message)
	}
	e.Msg("snapshot received")
}

// Snapshot returns a copy of the current snapshot. Before the first response
// it is empty.
func (a *Accessor) Snapshot() messaging.Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap.Clone()
}

// State returns the accessor's lifecycle state.
func (a *Accessor) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Updates delivers each new snapshot. Unread snapshots are replaced by newer
// ones. The channel is closed by Close.
func (a *Accessor) Updates() <-chan messaging.Snapshot {
	return a.updates
}

// Wait blocks until the first snapshot arrives or ctx is done.
func (a *Accessor) Wait(ctx context.Context) (messaging.Snapshot, error) {
	select {
	case <-a.ready:
		return a.Snapshot(), nil
	case <-ctx.Done():
		return messaging.Snapshot{}, ctx.Err()
	}
}

// Refresh asks the channel's provider to refetch. Providers only honor it
// when configured to.
func (a *Accessor) Refresh(ctx context.Context) error {
	if a.State() == StateTerminated {
		return messaging.ErrClosed
	}
	if err := a.bus.Publish(ctx, messaging.Refresh(a.channel)); err != nil {
		return fmt.Errorf("publish refresh: %w", err)
	}
	return nil
}

// Close removes the listener and closes Updates.
func (a *Accessor) Close() error {
	a.mu.Lock()
	if a.state == StateTerminated {
		a.mu.Unlock()
		return nil
	}
	a.state = StateTerminated
	sub := a.sub
	a.sub = nil
	close(a.updates)
	a.mu.Unlock()

	if sub != nil {
		return sub.Close()
	}
	return nil
}
