package session

// State is a session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateProvisioning
	StateActive
	StateClosing
	StateClosed
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateProvisioning:
		return "provisioning"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON listings.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed
}

// canTransition encodes the lifecycle graph. Provisioning failure jumps
// straight to CLOSED; every other non-terminal state leaves through CLOSING.
func canTransition(from, to State) bool {
	switch from {
	case StateConnecting:
		return to == StateProvisioning || to == StateClosing
	case StateProvisioning:
		return to == StateActive || to == StateClosing || to == StateClosed
	case StateActive:
		return to == StateClosing
	case StateClosing:
		return to == StateClosed
	default:
		return false
	}
}
