package session

import (
	"errors"
	"fmt"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Session errors. Most are reasons wrapped in a *ProtocolMisuseError.
var (
	ErrWrongState         = errors.New("operation not allowed in this state")
	ErrSessionClosed      = errors.New("session is closed")
	ErrAlreadyInitialized = errors.New("token is already initialized")
	ErrNoFreePairingSlots = errors.New("no free pairing slots")
	ErrNoPairing          = errors.New("no pairing material")
	ErrPINBlocked         = errors.New("PIN is blocked")
	ErrNoMasterKey        = errors.New("no master key on token")
	ErrMasterKeyPresent   = errors.New("master key already present")
	ErrNoKeySelected      = errors.New("no derived key selected")
	ErrInvalidHash        = errors.New("hash must be 32 bytes")
	ErrInvalidPath        = wallet.ErrInvalidPath
	ErrInvalidSeed        = errors.New("seed must be 64 bytes")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStillUninitialized = errors.New("token still reports uninitialized after INIT")
	ErrTokenRemoved       = errors.New("token removed")
)

// Kind classifies a session error.
type Kind uint8

const (
	// KindTransport is a lost or unavailable channel.
	KindTransport Kind = iota + 1
	// KindStatus is a non-OK status word.
	KindStatus
	// KindMalformed is a payload that did not decode.
	KindMalformed
	// KindMisuse is a caller error; no exchange was made.
	KindMisuse
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "TRANSPORT"
	case KindStatus:
		return "STATUS"
	case KindMalformed:
		return "MALFORMED_RESPONSE"
	case KindMisuse:
		return "PROTOCOL_MISUSE"
	default:
		return "UNKNOWN"
	}
}

// TransportError reports a lost or unavailable channel.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-OK status word. Code is kept verbatim.
type StatusError struct {
	Op   string
	Code apdu.Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: token returned %s (0x%04X)", e.Op, e.Code, uint16(e.Code))
}

// RetriesLeft returns the remaining PIN attempts for a wrong-PIN status.
func (e *StatusError) RetriesLeft() (int, bool) {
	return e.Code.RetriesLeft()
}

// MalformedResponseError reports a payload that did not decode.
type MalformedResponseError struct {
	Op  string
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("%s: malformed response: %v", e.Op, e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ProtocolMisuseError reports an operation the caller should not have
// issued. The session state is unchanged and nothing was sent.
type ProtocolMisuseError struct {
	Op     string
	State  State
	Reason error
}

func (e *ProtocolMisuseError) Error() string {
	return fmt.Sprintf("%s: not allowed in %s: %v", e.Op, e.State, e.Reason)
}

func (e *ProtocolMisuseError) Unwrap() error { return e.Reason }

// KindOf classifies err. It returns false for errors not produced by a
// Session.
func KindOf(err error) (Kind, bool) {
	var (
		te *TransportError
		se *StatusError
		me *MalformedResponseError
		pe *ProtocolMisuseError
	)
	switch {
	case errors.As(err, &pe):
		return KindMisuse, true
	case errors.As(err, &te):
		return KindTransport, true
	case errors.As(err, &se):
		return KindStatus, true
	case errors.As(err, &me):
		return KindMalformed, true
	default:
		return 0, false
	}
}

func misuse(op string, state State, reason error) error {
	return &ProtocolMisuseError{Op: op, State: state, Reason: reason}
}
