package messaging

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// ErrMalformedEnvelope is returned when an envelope fails validation.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Item is a single opaque element of the upstream array. Raw holds the
// element exactly as received and is written back unchanged, whatever its
// shape.
type Item struct {
	Raw json.RawMessage
}

func (it Item) MarshalJSON() ([]byte, error) {
	if len(it.Raw) == 0 {
		return []byte("null"), nil
	}
	return it.Raw, nil
}

func (it *Item) UnmarshalJSON(data []byte) error {
	it.Raw = append(it.Raw[:0], data...)
	return nil
}

// FetchError is the serializable form of a fetch or parse failure. The
// wrapped error is kept for errors.Is/As in-process but never leaves it.
type FetchError struct {
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// NewFetchError wraps err. A nil err returns nil.
func NewFetchError(err error) *FetchError {
	if err == nil {
		return nil
	}
	return &FetchError{Message: err.Error(), Err: err}
}

func (e *FetchError) Error() string { return e.Message }

func (e *FetchError) Unwrap() error { return e.Err }

// Snapshot is the unit of state exchanged between a provider and its
// accessors. It is always replaced wholesale.
type Snapshot struct {
	Data  []Item      `json:"data"`
	Error *FetchError `json:"error,omitempty"`
}

// EmptySnapshot returns a snapshot with no data and no error.
func EmptySnapshot() Snapshot {
	return Snapshot{Data: []Item{}}
}

// IsEmpty reports whether the snapshot holds neither data nor an error.
func (s Snapshot) IsEmpty() bool {
	return len(s.Data) == 0 && s.Error == nil
}

// Clone returns a copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Data: make([]Item, len(s.Data))}
	for i, it := range s.Data {
		out.Data[i] = Item{Raw: slices.Clone(it.Raw)}
	}
	if s.Error != nil {
		e := *s.Error
		out.Error = &e
	}
	return out
}

// Envelope is the tagged message carried by the bus.
type Envelope struct {
	Type    Tag       `json:"type"`
	Payload *Snapshot `json:"payload,omitempty"`

	// Source identifies where the envelope entered the local bus (for
	// example a bridge connection). Empty for envelopes published locally.
	Source string `json:"-"`
}

// Request builds a request envelope for ch.
func Request(ch Channel) Envelope { return Envelope{Type: ch.RequestTag()} }

// Refresh builds a refresh envelope for ch.
func Refresh(ch Channel) Envelope { return Envelope{Type: ch.RefreshTag()} }

// Response builds a response envelope carrying a copy of snap.
func Response(ch Channel, snap Snapshot) Envelope {
	s := snap.Clone()
	return Envelope{Type: ch.ResponseTag(), Payload: &s}
}

// Validate checks the envelope against the request/response/refresh union.
func (e Envelope) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	if !e.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrMalformedEnvelope, e.Type)
	}

	switch e.Type.Kind() {
	case KindRequest, KindRefresh:
		if e.Payload != nil {
			return fmt.Errorf("%w: %s must not carry a payload", ErrMalformedEnvelope, e.Type.Kind())
		}
	case KindResponse:
		if e.Payload == nil {
			return fmt.Errorf("%w: response without payload", ErrMalformedEnvelope)
		}
	}
	return nil
}

// wireEnvelope keeps the payload raw so its shape can be checked before it
// is trusted.
type wireEnvelope struct {
	Type    Tag             `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wirePayload struct {
	Data  json.RawMessage `json:"data"`
	Error *FetchError     `json:"error,omitempty"`
}

// DecodeEnvelope parses and validates an envelope received from outside the
// process. A response's data must be a JSON array (null is read as empty).
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(raw, &w); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	env := Envelope{Type: w.Type}

	if len(w.Payload) > 0 && !isNull(w.Payload) {
		var p wirePayload
		if err := json.Unmarshal(w.Payload, &p); err != nil {
			return Envelope{}, fmt.Errorf("%w: payload: %v", ErrMalformedEnvelope, err)
		}

		snap := EmptySnapshot()
		data := bytes.TrimSpace(p.Data)
		if len(data) > 0 && !isNull(data) {
			if data[0] != '[' {
				return Envelope{}, fmt.Errorf("%w: payload data must be an array", ErrMalformedEnvelope)
			}
			if err := json.Unmarshal(data, &snap.Data); err != nil {
				return Envelope{}, fmt.Errorf("%w: payload data: %v", ErrMalformedEnvelope, err)
			}
		}
		snap.Error = p.Error
		env.Payload = &snap
	}

	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// EncodeEnvelope validates and serializes env for the wire.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
