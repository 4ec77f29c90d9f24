package connection

import "github.com/lawnchairsociety/livereload/internal/transport"

// State is the lifecycle state of a Connection.
type State int

const (
	// StateConnecting means the channel is being dialed.
	StateConnecting State = iota

	// StateOpen means the channel is established and delivering messages.
	StateOpen

	// StateClosedIntentional is terminal: the client shut the channel down
	// (or the server closed it with the normal-closure code).
	StateClosedIntentional

	// StateClosedUnexpected means the channel dropped; a reconnection is pending.
	StateClosedUnexpected
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosedIntentional:
		return "closed_intentional"
	case StateClosedUnexpected:
		return "closed_unexpected"
	default:
		return "unknown"
	}
}

// Closed reports whether s is one of the closed states.
func (s State) Closed() bool {
	return s == StateClosedIntentional || s == StateClosedUnexpected
}

// Connection is the single logical channel to the server. Only the
// Manager's event loop touches it.
type Connection struct {
	ID                 string
	State              State
	IsReconnectAttempt bool

	transport transport.Conn
	// superseded is set once a reconnect-open has triggered a page reload;
	// nothing else happens on this connection afterwards.
	superseded bool
}

// Snapshot is a read-only copy of the current Connection.
type Snapshot struct {
	ID                 string
	State              State
	IsReconnectAttempt bool
	// Attempt counts connections created so far, starting at 1.
	Attempt int
}

// StateEvent represents a state change event.
type StateEvent struct {
	ConnID             string
	IsReconnectAttempt bool
	OldState           State
	NewState           State
	// Code is the close code for transitions into a closed state.
	Code int
}
