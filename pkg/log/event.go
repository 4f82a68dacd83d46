package log

import (
	"time"
)

// Event is one protocol trace record. CBOR encoding uses integer keys.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the token presence (UUID).
	SessionID string `cbor:"2,keyasint"`

	// Direction indicates frame flow relative to the local role.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole is HOST for the controller and TOKEN for the simulator.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the bridge peer address, if any.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// TokenID is the hex instance UID, known after SELECT.
	TokenID string `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"` // Codec layer
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Session layer
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Any layer
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport carries raw APDU frames.
	LayerTransport Layer = 0
	// LayerCodec carries decoded command names and status words.
	LayerCodec Layer = 1
	// LayerSession carries state machine transitions.
	LayerSession Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerCodec:
		return "CODEC"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a command or response.
	CategoryMessage Category = 0
	// CategoryPresence indicates a token arrival or removal.
	CategoryPresence Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryPresence:
		return "PRESENCE"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side recorded the event.
type Role uint8

const (
	// RoleHost indicates the session controller.
	RoleHost Role = 0
	// RoleToken indicates the token (or its simulator).
	RoleToken Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleHost:
		return "HOST"
	case RoleToken:
		return "TOKEN"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one APDU at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame (may be truncated). Secure channel traffic is
	// already encrypted at this layer.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CommandEvent captures a logical command and its outcome. Command data is
// never recorded here since it may carry PINs, PUKs or seeds.
type CommandEvent struct {
	// Name is the command name, for example "VERIFY_PIN".
	Name string `cbor:"1,keyasint"`

	// Ins is the instruction byte.
	Ins uint8 `cbor:"2,keyasint"`

	// SW is the status word, absent if no response was decoded.
	SW *uint16 `cbor:"3,keyasint,omitempty"`

	// Secure is true when the command travelled through the secure channel.
	Secure bool `cbor:"4,keyasint,omitempty"`

	// Duration is the round-trip time, stored as nanoseconds.
	Duration *time.Duration `cbor:"5,keyasint,omitempty"`
}

// StateChangeEvent captures presence and session lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityPresence indicates a token presence change.
	StateEntityPresence StateEntity = 0
	// StateEntitySession indicates a session state change.
	StateEntitySession StateEntity = 1
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityPresence:
		return "PRESENCE"
	case StateEntitySession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the status word or error code (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
