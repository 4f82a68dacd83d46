package wallet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/status-im/keycard-go/derivationpath"
)

// HardenedOffset marks a hardened path component.
const HardenedOffset uint32 = 0x80000000

// MaxPathDepth is the deepest path the token accepts.
const MaxPathDepth = 10

// ErrInvalidPath is returned for path strings that are not valid BIP-32 notation.
var ErrInvalidPath = errors.New("invalid derivation path")

// DerivationPath is a sequence of BIP-32 child indexes starting at the master key.
type DerivationPath []uint32

// ParseDerivationPath parses "m/44'/0'/0'/0/0" style notation. A trailing
// h also marks a hardened segment.
func ParseDerivationPath(s string) (DerivationPath, error) {
	s = strings.TrimSpace(s)
	start, raw, err := derivationpath.Decode(strings.ReplaceAll(s, "h", "'"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPath, s, err)
	}
	if start != derivationpath.StartingPointMaster {
		return nil, fmt.Errorf("%w: %q must start with m", ErrInvalidPath, s)
	}
	if len(raw) > MaxPathDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds %d", ErrInvalidPath, len(raw), MaxPathDepth)
	}
	return DerivationPath(raw), nil
}

// ParseDerivationPathBytes decodes a GET STATUS key path payload.
func ParseDerivationPathBytes(payload []byte) (DerivationPath, error) {
	if len(payload)%4 != 0 {
		return nil, malformed("path: payload is %d bytes", len(payload))
	}
	if len(payload)/4 > MaxPathDepth {
		return nil, malformed("path: depth %d exceeds %d", len(payload)/4, MaxPathDepth)
	}
	path := make(DerivationPath, len(payload)/4)
	for i := range path {
		path[i] = binary.BigEndian.Uint32(payload[i*4:])
	}
	return path, nil
}

// Bytes encodes the path as concatenated big-endian components.
func (p DerivationPath) Bytes() []byte {
	out := make([]byte, 4*len(p))
	for i, c := range p {
		binary.BigEndian.PutUint32(out[i*4:], c)
	}
	return out
}

// String formats the path in BIP-32 notation.
func (p DerivationPath) String() string {
	return derivationpath.Encode(p)
}

// Equal reports whether two paths are identical.
func (p DerivationPath) Equal(other DerivationPath) bool {
	if len(p) != len(other) {
		return false
	}
	for i := range p {
		if p[i] != other[i] {
			return false
		}
	}
	return true
}
