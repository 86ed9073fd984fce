package broadcast

import (
	"context"

	"github.com/jrsteele09/go-session-relay/sessions"
)

// SessionChannel is the well-known channel every view of the application
// listens on for session changes.
const SessionChannel = "auth-session-sync"

// TypeSessionChanged is the only message type carried on SessionChannel.
const TypeSessionChanged = "session-changed"

// Message is the payload of a broadcast. It carries no tokens, only the kind
// of transition that happened.
type Message struct {
	Type  string              `json:"type"`
	Event sessions.StateEvent `json:"event"`
}

// SessionChanged builds the message announcing a session transition.
func SessionChanged(event sessions.StateEvent) Message {
	return Message{Type: TypeSessionChanged, Event: event}
}

// Channel is one handle on a named channel. Messages posted through a handle
// reach every other open handle with the same name, never the sender itself.
type Channel interface {
	Name() string
	Post(ctx context.Context, msg Message) error
	// Subscribe registers fn for messages from other handles. The returned
	// cancel func is safe to call twice.
	Subscribe(fn func(Message)) (cancel func())
	// Close detaches every subscription of the handle. Post fails afterwards.
	Close() error
}

// Bus opens named channels.
type Bus interface {
	Open(name string) Channel
}

type scopedBus struct {
	bus   Bus
	scope string
}

// Scoped returns a Bus whose channels are private to scope (one device).
func Scoped(bus Bus, scope string) Bus {
	return scopedBus{bus: bus, scope: scope}
}

func (s scopedBus) Open(name string) Channel {
	return s.bus.Open(s.scope + "/" + name)
}
