package apdu

import (
	"errors"
	"fmt"

	kapdu "github.com/status-im/keycard-go/apdu"
)

// Frame limits.
const (
	// HeaderSize is the size of the CLA INS P1 P2 header.
	HeaderSize = 4

	// MaxDataSize is the largest command body a short APDU can carry.
	MaxDataSize = 255

	// StatusSize is the size of the trailing status word.
	StatusSize = 2
)

// Frame errors.
var (
	ErrDataTooLong    = errors.New("apdu: command data exceeds 255 bytes")
	ErrShortCommand   = kapdu.ErrBadRawCommand
	ErrShortResponse  = kapdu.ErrBadRawResponse
	ErrInvalidCommand = errors.New("apdu: inconsistent command length")
)

// Command is a command APDU.
type Command = kapdu.Command

// NewCommand creates a command without an expected length.
func NewCommand(cla, ins, p1, p2 byte, data []byte) *Command {
	return kapdu.NewCommand(cla, ins, p1, p2, data)
}

// Encode serializes c as a short APDU. Command.Serialize truncates Lc
// silently, so longer bodies are refused here.
func Encode(c *Command) ([]byte, error) {
	if len(c.Data) > MaxDataSize {
		return nil, fmt.Errorf("%w: %d", ErrDataTooLong, len(c.Data))
	}
	return c.Serialize()
}

// ParseCommand decodes a short command APDU. The body must be exactly
// [Lc data] or [Lc data Le] or [Le].
func ParseCommand(b []byte) (*Command, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortCommand, len(b))
	}
	rest := b[HeaderSize:]

	switch {
	case len(rest) == 0:
	case len(rest) == 1:
		c := NewCommand(b[0], b[1], b[2], b[3], nil)
		c.SetLe(rest[0])
		return c, nil
	default:
		lc := int(rest[0])
		if len(rest) != 1+lc && len(rest) != 2+lc {
			return nil, fmt.Errorf("%w: lc=%d, body=%d", ErrInvalidCommand, lc, len(rest))
		}
	}
	return kapdu.ParseCommand(b)
}

// Response is a response APDU.
type Response struct {
	kapdu.Response
}

// NewResponse creates a response with the given data and status.
func NewResponse(data []byte, sw Status) *Response {
	return &Response{kapdu.Response{
		Data: data,
		Sw1:  sw.SW1(),
		Sw2:  sw.SW2(),
		Sw:   uint16(sw),
	}}
}

// ParseResponse decodes a response APDU.
func ParseResponse(b []byte) (*Response, error) {
	r, err := kapdu.ParseResponse(b)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes", err, len(b))
	}
	return &Response{*r}, nil
}

// Status returns the status word.
func (r *Response) Status() Status {
	return Status(r.Sw)
}

// Serialize encodes the response as data followed by SW1 SW2.
func (r *Response) Serialize() []byte {
	buf := make([]byte, 0, len(r.Data)+StatusSize)
	buf = append(buf, r.Data...)
	return append(buf, r.Sw1, r.Sw2)
}
