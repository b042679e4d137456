package voice

// Status is the connection status of a [Session].
type Status int

const (
	// StatusDisconnected is the initial state, and the state after a clean
	// disconnect or a normal remote close.
	StatusDisconnected Status = iota

	// StatusConnecting covers device acquisition and the remote handshake.
	StatusConnecting

	// StatusConnected means audio is flowing in both directions.
	StatusConnected

	// StatusError means the last attempt failed. A new Connect may be issued.
	StatusError
)

// String returns the canonical upper-case name of s.
func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnecting:
		return "CONNECTING"
	case StatusConnected:
		return "CONNECTED"
	case StatusError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
