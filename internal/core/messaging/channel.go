// Package messaging defines the envelope protocol exchanged between providers
// and accessors, and the bus abstraction it travels over.
package messaging

import (
	"fmt"
	"strings"

	"github.com/hay-kot/databus/internal/core/validate"
)

// DefaultNamespace prefixes every tag unless a channel overrides it.
const DefaultNamespace = "company"

// Tag identifies the purpose and scope of an envelope. Tags are compared by
// exact string equality.
type Tag string

// Kind is the final segment of a tag.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
	KindRefresh  Kind = "refresh"
)

// Channel scopes a store's envelopes. Two channels with equal fields produce
// identical tags; any difference produces disjoint tags.
type Channel struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Store     string `yaml:"store" json:"store"`
	Version   int    `yaml:"version" json:"version"`
}

// NewChannel returns a channel in the default namespace.
func NewChannel(store string, version int) Channel {
	return Channel{Namespace: DefaultNamespace, Store: store, Version: version}.normalized()
}

func (c Channel) normalized() Channel {
	if c.Namespace == "" {
		c.Namespace = DefaultNamespace
	}
	if c.Version == 0 {
		c.Version = 1
	}
	return c
}

// Base returns "<namespace>/<store>/v<version>".
func (c Channel) Base() string {
	c = c.normalized()
	return fmt.Sprintf("%s/%s/v%d", c.Namespace, c.Store, c.Version)
}

func (c Channel) tag(k Kind) Tag {
	return Tag(c.Base() + "/" + string(k))
}

// RequestTag is the tag accessors publish to ask for the current snapshot.
func (c Channel) RequestTag() Tag { return c.tag(KindRequest) }

// ResponseTag is the tag providers publish snapshots under.
func (c Channel) ResponseTag() Tag { return c.tag(KindResponse) }

// RefreshTag asks a provider to refetch. Providers ignore it unless
// configured otherwise.
func (c Channel) RefreshTag() Tag { return c.tag(KindRefresh) }

func (c Channel) String() string { return c.Base() }

// Validate reports whether the channel can produce well-formed tags.
func (c Channel) Validate() error {
	c = c.normalized()

	if err := validate.Segment("namespace", c.Namespace); err != nil {
		return err
	}
	if err := validate.Segment("store", c.Store); err != nil {
		return err
	}
	if c.Version < 1 {
		return fmt.Errorf("version must be at least 1, got %d", c.Version)
	}
	return nil
}

// Kind returns the final segment of the tag.
func (t Tag) Kind() Kind {
	i := strings.LastIndexByte(string(t), '/')
	if i < 0 {
		return ""
	}
	return Kind(t[i+1:])
}

// Valid reports whether the tag ends in a known kind and has a scope prefix.
func (t Tag) Valid() bool {
	switch t.Kind() {
	case KindRequest, KindResponse, KindRefresh:
		return len(t) > len(t.Kind())+1
	default:
		return false
	}
}
