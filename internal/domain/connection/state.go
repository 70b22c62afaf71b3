package connection

// State is the connection lifecycle position. There is one instance
// per client; transitions are driven by transport events.
type State int

const (
	StateUnauthenticated State = iota
	StateConnecting
	StateAuthenticating
	StateAuthenticated
	StateDisconnected
	StateReconnecting
	StateReconnectFailed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateDisconnected:
		return "disconnected"
	case StateReconnecting:
		return "reconnecting"
	case StateReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state admits no further automatic
// recovery.
func (s State) Terminal() bool {
	return s == StateReconnectFailed
}
