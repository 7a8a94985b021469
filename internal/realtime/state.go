package realtime

import "time"

type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

// StatusEvent describes one state transition. Err carries the cause for
// error, reconnecting and terminal disconnected transitions.
type StatusEvent struct {
	State    State
	Previous State
	Err      error
	Attempt  int
	Delay    time.Duration
	At       time.Time
}
