package session

// State is the session lifecycle position.
//
//	Accepted → HeaderPending → Streaming → Closed
//
// Closed is terminal and reachable from every other state.
type State int32

const (
	StateAccepted State = iota
	StateHeaderPending
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAccepted:
		return "accepted"
	case StateHeaderPending:
		return "header_pending"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON stats payloads.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
