package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var ErrNoRecords = errors.New("no journal records")

// Record is a journaled envelope.
type Record struct {
	ID        string          `json:"id"`
	Tag       Tag             `json:"tag"`
	Envelope  json.RawMessage `json:"envelope"`
	Source    string          `json:"source,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Decode returns the journaled envelope.
func (r Record) Decode() (Envelope, error) {
	env, err := DecodeEnvelope(r.Envelope)
	if err != nil {
		return Envelope{}, err
	}
	env.Source = r.Source
	return env, nil
}

// JournalStore persists envelopes seen on the bus, grouped by tag.
type JournalStore interface {
	// Append adds a record, creating the tag's journal if needed.
	Append(ctx context.Context, rec Record) error

	// Read returns records whose tag matches a doublestar pattern, oldest
	// first, optionally filtered by since. "" and "**" match every tag.
	// Returns ErrNoRecords if no tag matches.
	Read(ctx context.Context, pattern string, since time.Time) ([]Record, error)

	// List returns all journaled tags.
	List(ctx context.Context) ([]Tag, error)

	// Prune removes records older than the given duration.
	// Returns the number of records removed.
	Prune(ctx context.Context, olderThan time.Duration) (int, error)
}

// DefaultRecorderBuffer is the number of encoded envelopes a Recorder
// queues ahead of its store.
const DefaultRecorderBuffer = 256

// Recorder appends envelopes observed on a bus to a JournalStore. Encoding
// happens on the bus goroutine; appends run on a writer goroutine so a slow
// store never holds up delivery to other handlers. Envelopes arriving while
// the queue is full are dropped and counted.
type Recorder struct {
	store  JournalStore
	log    zerolog.Logger
	buffer int
}

// NewRecorder creates a recorder writing to store.
func NewRecorder(store JournalStore, log zerolog.Logger) *Recorder {
	return &Recorder{store: store, log: log, buffer: DefaultRecorderBuffer}
}

// WithBuffer sets the queue size. Values below 1 keep the default.
func (r *Recorder) WithBuffer(n int) *Recorder {
	if n > 0 {
		r.buffer = n
	}
	return r
}

// Attach taps bus with pattern and starts the writer. Closing the returned
// io.Closer stops recording and blocks until queued records are appended.
func (r *Recorder) Attach(bus Bus, pattern string) (io.Closer, error) {
	if pattern == "" {
		pattern = "**"
	}

	rec := &recording{
		store: r.store,
		log:   r.log,
		queue: make(chan Record, r.buffer),
		done:  make(chan struct{}),
	}

	tap, err := bus.Tap(pattern, rec.enqueue)
	if err != nil {
		return nil, fmt.Errorf("tap bus: %w", err)
	}
	rec.tap = tap

	go rec.write()
	return rec, nil
}

// recording is a single attachment of a Recorder to a bus.
type recording struct {
	store JournalStore
	log   zerolog.Logger
	tap   io.Closer

	mu      sync.Mutex
	closed  bool
	dropped int
	queue   chan Record
	done    chan struct{}
}

func (r *recording) enqueue(env Envelope) {
	raw, err := EncodeEnvelope(env)
	if err != nil {
		r.log.Warn().Err(err).Str("tag", string(env.Type)).Msg("skipping unencodable envelope")
		return
	}

	rec := Record{
		Tag:      env.Type,
		Envelope: raw,
		Source:   env.Source,
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	select {
	case r.queue <- rec:
	default:
		r.dropped++
		r.log.Warn().Str("tag", string(env.Type)).Int("dropped", r.dropped).Msg("journal queue full, dropping envelope")
	}
}

func (r *recording) write() {
	defer close(r.done)
	for rec := range r.queue {
		// The writer has no caller to return to; a failed append is only logged.
		if err := r.store.Append(context.Background(), rec); err != nil {
			r.log.Error().Err(err).Str("tag", string(rec.Tag)).Msg("journal append failed")
		}
	}
}

// Close detaches from the bus and waits for the queue to drain.
func (r *recording) Close() error {
	err := r.tap.Close()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
	if r.dropped > 0 {
		r.log.Warn().Int("dropped", r.dropped).Msg("journal dropped envelopes")
	}
	return err
}
