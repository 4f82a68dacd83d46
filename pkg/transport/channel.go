package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Transport errors.
var (
	ErrClosed  = errors.New("channel closed")
	ErrTimeout = errors.New("exchange timed out")
	ErrRevoked = errors.New("channel revoked after failure")
)

// Error is the only error type returned by Channel implementations.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a *Error unless it already is one.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return &Error{Op: op, Err: err}
}

// Channel is a half-duplex APDU pipe to one token presence.
type Channel interface {
	// Exchange sends one request frame and waits for the response frame.
	Exchange(ctx context.Context, request []byte) ([]byte, error)

	// Close releases the channel. It is safe to call more than once.
	Close() error
}

// EventKind distinguishes presence events.
type EventKind uint8

const (
	// EventConnected reports a new token in the field.
	EventConnected EventKind = iota
	// EventDisconnected reports that a token left the field.
	EventDisconnected
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Event is a presence notification. Channel is set for EventConnected only.
type Event struct {
	Kind       EventKind
	PresenceID string
	Channel    Channel
	RemoteAddr string
	At         time.Time
}
