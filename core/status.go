package core

// ConnectionStatus is the reachability of the remote network as seen by the transport.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusAuthenticated
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusAuthenticated:
		return "Authenticated"
	default:
		return "Disconnected"
	}
}

// MarshalText renders the status by name.
func (s ConnectionStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Open reports whether the status implies a usable socket.
func (s ConnectionStatus) Open() bool {
	return s == StatusConnected || s == StatusAuthenticated
}
