package session

// State is the lifecycle state of the coordinator's session.
type State int

const (
	// StateUninitialized has no session id and no event stream. The first
	// prompt triggers lazy session creation.
	StateUninitialized State = iota
	// StateStarting means session creation is in flight. Prompts arriving
	// now are queued and replayed in order once the session is active.
	StateStarting
	// StateActive accepts prompts; the event stream is connected.
	StateActive
	// StateBusy is Active with at least one prompt awaiting completion.
	// Prompts are still accepted (the transport pipelines them).
	StateBusy
	// StateError is entered on creation failure, terminal stream failure,
	// or a backend-reported fatal condition. Only Reset leaves it.
	StateError
	// StateStopped is entered on explicit teardown. A new prompt starts a
	// fresh session.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarting:
		return "starting"
	case StateActive:
		return "active"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
