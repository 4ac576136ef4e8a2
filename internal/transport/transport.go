// Package transport defines the messaging collaborator the collector consumes.
// Adapters translate their wire shapes into these types and validate them
// before anything reaches the core.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"time"
)

// ErrUnauthorized is returned when the transport cannot authenticate.
var ErrUnauthorized = errors.New("transport: not authorized")

// ChannelID is an opaque channel identifier. Numeric ids are kept in their
// decimal string form.
type ChannelID string

// UnmarshalJSON accepts both JSON strings and JSON numbers.
func (id *ChannelID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ChannelID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("channel id must be a string or number: %s", data)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("channel id %s: %w", n, err)
	}
	*id = ChannelID(n.String())
	return nil
}

// Kind classifies a channel.
type Kind int

const (
	KindGroupOrChannel Kind = iota
	KindDirectUser
)

func (k Kind) String() string {
	if k == KindDirectUser {
		return "direct_user"
	}
	return "group_or_channel"
}

// Descriptor identifies a channel as listed by the transport.
type Descriptor struct {
	ID   ChannelID
	Name string
	Kind Kind
}

// EntityKind tags the variants of Entity.
type EntityKind int

const (
	// EntityPlainURL is a URL written literally in the message body.
	EntityPlainURL EntityKind = iota + 1
	// EntityTextURL is a hyperlink whose visible text differs from its target.
	EntityTextURL
)

func (k EntityKind) String() string {
	switch k {
	case EntityPlainURL:
		return "plain_url"
	case EntityTextURL:
		return "text_url"
	default:
		return "unknown"
	}
}

// Entity is a link annotation attached to a message.
type Entity struct {
	Kind EntityKind
	URL  string
}

// Validate rejects entities with an unknown kind or empty URL.
func (e Entity) Validate() error {
	if e.Kind != EntityPlainURL && e.Kind != EntityTextURL {
		return fmt.Errorf("entity: unknown kind %d", e.Kind)
	}
	if e.URL == "" {
		return fmt.Errorf("entity %s: empty url", e.Kind)
	}
	return nil
}

// Message is a single message as delivered by the transport.
type Message struct {
	ID       int64
	Time     time.Time
	Body     string
	Entities []Entity
}

// Validate checks the fields the collector relies on.
func (m Message) Validate() error {
	if m.Time.IsZero() {
		return fmt.Errorf("message %d: missing timestamp", m.ID)
	}
	for _, e := range m.Entities {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("message %d: %w", m.ID, err)
		}
	}
	return nil
}

// RateLimitError signals that the endpoint asked the caller to back off.
type RateLimitError struct {
	Wait time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

// Transport is the messaging capability the collector consumes.
type Transport interface {
	// Authenticate establishes a usable session.
	Authenticate(ctx context.Context) error
	// ListChannels enumerates the channels visible to the session.
	ListChannels(ctx context.Context) ([]Descriptor, error)
	// Resolve looks up a single channel by id.
	Resolve(ctx context.Context, id ChannelID) (Descriptor, error)
	// Messages yields a channel's history strictly newest to oldest. The
	// sequence stops after yielding a non-nil error.
	Messages(ctx context.Context, id ChannelID) iter.Seq2[Message, error]
}
