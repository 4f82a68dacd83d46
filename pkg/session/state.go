package session

// State is the lifecycle state of a Session.
type State uint8

const (
	// StateDisconnected means no token is present.
	StateDisconnected State = iota

	// StateConnected means a transport channel to a token was obtained.
	StateConnected

	// StateAppletSelected means SELECT answered with an uninitialized
	// descriptor.
	StateAppletSelected

	// StateInitialized means this session initialized the token.
	StateInitialized

	// StateAlreadyInitialized means the token was initialized before the
	// session started.
	StateAlreadyInitialized

	// StatePaired means pairing material is held for this session.
	StatePaired

	// StateSecureChannelOpen means every later exchange is protected.
	StateSecureChannelOpen

	// StateAuthenticated means the PIN was verified on this channel.
	StateAuthenticated

	// StateTerminated is the clean end of a session.
	StateTerminated

	// StateFailed is reached when an exchange fails. It is absorbing.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnected:
		return "CONNECTED"
	case StateAppletSelected:
		return "APPLET_SELECTED"
	case StateInitialized:
		return "INITIALIZED"
	case StateAlreadyInitialized:
		return "ALREADY_INITIALIZED"
	case StatePaired:
		return "PAIRED"
	case StateSecureChannelOpen:
		return "SECURE_CHANNEL_OPEN"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateTerminated:
		return "TERMINATED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal reports whether no further operation is accepted.
func (s State) IsTerminal() bool {
	return s == StateTerminated || s == StateFailed
}

// hasSecureChannel reports whether exchanges in s travel through the
// secure channel.
func (s State) hasSecureChannel() bool {
	return s == StateSecureChannelOpen || s == StateAuthenticated
}
