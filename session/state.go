package session

// State is the lifecycle phase of a client connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateReady
	StateDisconnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateDisconnected:
		return "disconnected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// canStart reports whether a start request may begin connecting.
func (s State) canStart() bool {
	return s == StateIdle || s == StateDisconnected || s == StateError
}

// Mode says which kind of upstream session is in use.
type Mode int

const (
	ModeLive Mode = iota
	ModeFallback
)

func (m Mode) String() string {
	if m == ModeFallback {
		return "fallback"
	}
	return "live"
}
