// Package memory implements messaging.Bus as an in-process event loop.
//
// A single dispatcher goroutine delivers envelopes in publish order, so
// handlers never run concurrently with each other. Envelopes published from
// inside a handler are queued behind the one being delivered.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"

	"github.com/hay-kot/databus/internal/core/messaging"
)

var _ messaging.Bus = (*Bus)(nil)

type subscription struct {
	id      uint64
	tag     messaging.Tag
	pattern string
	handler messaging.Handler
	active  atomic.Bool
	bus     *Bus
}

func (s *subscription) matches(tag messaging.Tag) bool {
	if s.pattern == "" {
		return s.tag == tag
	}
	ok, err := doublestar.Match(s.pattern, string(tag))
	return err == nil && ok
}

// Close removes the subscription. Envelopes already queued are not delivered
// to it.
func (s *subscription) Close() error {
	if s.active.CompareAndSwap(true, false) {
		s.bus.remove(s.id)
	}
	return nil
}

// Bus is an in-process broadcast bus.
type Bus struct {
	log zerolog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []messaging.Envelope
	pending int // queued plus in delivery
	closed  bool
	subs    map[uint64]*subscription
	nextID  uint64

	done chan struct{}
}

// New starts a bus. Call Close to stop its dispatcher.
func New(log zerolog.Logger) *Bus {
	b := &Bus{
		log:  log,
		subs: make(map[uint64]*subscription),
		done: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)

	go b.loop()
	return b
}

// Publish validates env and queues it for delivery.
func (b *Bus) Publish(ctx context.Context, env messaging.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := env.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return messaging.ErrClosed
	}

	b.queue = append(b.queue, env)
	b.pending++
	b.cond.Broadcast()
	return nil
}

// Subscribe registers h for envelopes whose type equals tag.
func (b *Bus) Subscribe(tag messaging.Tag, h messaging.Handler) (io.Closer, error) {
	if tag == "" {
		return nil, fmt.Errorf("subscribe: empty tag")
	}
	return b.add(&subscription{tag: tag, handler: h})
}

// Tap registers h for envelopes whose type matches pattern.
func (b *Bus) Tap(pattern string, h messaging.Handler) (io.Closer, error) {
	if pattern == "" {
		pattern = "**"
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("tap: invalid pattern %q", pattern)
	}
	return b.add(&subscription{pattern: pattern, handler: h})
}

func (b *Bus) add(s *subscription) (io.Closer, error) {
	if s.handler == nil {
		return nil, fmt.Errorf("nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, messaging.ErrClosed
	}

	b.nextID++
	s.id = b.nextID
	s.bus = b
	s.active.Store(true)
	b.subs[s.id] = s
	return s, nil
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Len returns the number of registered subscriptions.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Flush blocks until every queued envelope, including those published by
// handlers while flushing, has been delivered.
func (b *Bus) Flush(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()

	for b.pending > 0 && !b.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.cond.Wait()
	}
	return ctx.Err()
}

// Close stops the dispatcher. Queued envelopes are dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	dropped := len(b.queue)
	b.queue = nil
	b.pending = 0
	b.cond.Broadcast()
	b.mu.Unlock()

	<-b.done

	if dropped > 0 {
		b.log.Debug().Int("dropped", dropped).Msg("bus closed with queued envelopes")
	}
	return nil
}

func (b *Bus) loop() {
	defer close(b.done)

	for {
		b.mu.Lock()
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if b.closed {
			b.mu.Unlock()
			return
		}

		env := b.queue[0]
		b.queue[0] = messaging.Envelope{}
		b.queue = b.queue[1:]

		targets := make([]*subscription, 0, len(b.subs))
		for _, s := range b.subs {
			if s.matches(env.Type) {
				targets = append(targets, s)
			}
		}
		b.mu.Unlock()

		slices.SortFunc(targets, func(x, y *subscription) int { return cmp.Compare(x.id, y.id) })
		for _, s := range targets {
			if !s.active.Load() {
				continue
			}
			b.deliver(s, env)
		}

		b.mu.Lock()
		if !b.closed {
			b.pending--
		}
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

func (b *Bus) deliver(s *subscription, env messaging.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("tag", string(env.Type)).Msg("bus handler panicked")
		}
	}()

	// Handlers get their own copy so none can mutate what another sees.
	if env.Payload != nil {
		snap := env.Payload.Clone()
		env.Payload = &snap
	}
	s.handler(env)
}
