package engine

import (
	"context"

	"github.com/mcdev12/qrhit/go/internal/quiz/events"
)

// Binding is the identity a worker associates with a local connection.
type Binding struct {
	SessionID string
	Name      string
	Host      bool
}

// ControlKind tags a cross-worker control message.
type ControlKind string

const (
	// ControlHostReconnected is announced when a host connection replaces
	// another one for the same session.
	ControlHostReconnected ControlKind = "hostReconnected"
	// ControlConnectionReplaced is announced when a player reconnects under a
	// new connection id.
	ControlConnectionReplaced ControlKind = "connectionReplaced"
)

// Control is delivered to every worker, the announcing one included.
type Control struct {
	Kind           ControlKind `json:"kind"`
	SessionID      string      `json:"session_id"`
	Name           string      `json:"name"`
	ConnID         string      `json:"conn_id"`
	PreviousConnID string      `json:"previous_conn_id,omitempty"`
}

// Hub is the engine's view of the worker's connections and the broadcast
// fabric joining workers.
type Hub interface {
	// Broadcast delivers ev to every connection bound to the session on every
	// worker, except the connection named by except.
	Broadcast(ctx context.Context, sessionID string, ev events.Event, except string) error
	// Send delivers ev to one local connection.
	Send(connID string, ev events.Event) error
	Bind(connID string, b Binding)
	Unbind(connID string)
	Binding(connID string) (Binding, bool)
	// HasPlayer reports whether a local connection is bound to the player name.
	HasPlayer(sessionID, name string) bool
	// HasHost reports whether a local connection is bound as the session host.
	HasHost(sessionID string) bool
	// Announce sends a control message to every worker.
	Announce(ctx context.Context, c Control) error
}
