package messaging

import (
	"context"
	"errors"
	"io"
)

// ErrClosed is returned when publishing to or subscribing on a closed bus.
var ErrClosed = errors.New("bus closed")

// Handler receives envelopes delivered by a Bus.
type Handler func(Envelope)

// Bus is a broadcast medium. Every subscriber whose tag (or tap pattern)
// matches sees every published envelope; there is no access control beyond
// tag uniqueness.
type Bus interface {
	// Publish broadcasts env. Delivery is asynchronous.
	Publish(ctx context.Context, env Envelope) error

	// Subscribe registers h for envelopes whose type equals tag exactly.
	// Closing the returned io.Closer removes the handler.
	Subscribe(tag Tag, h Handler) (io.Closer, error)

	// Tap registers h for every envelope whose type matches a doublestar
	// pattern ("**" matches everything). Intended for infrastructure such
	// as journals and bridges rather than application code.
	Tap(pattern string, h Handler) (io.Closer, error)
}
