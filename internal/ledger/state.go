package ledger

// State is the connection lifecycle of the ledger client. Transitions:
// Disconnected to Connecting on dial, Connecting to Connected on success,
// any state to Disconnected on failure or Reset.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
