package wallet

import (
	"errors"
	"fmt"

	"github.com/hwlite/hwlite-go/pkg/tlv"
)

// Payload sizes.
const (
	InstanceUIDSize = 16
	PublicKeySize   = 65
	KeyUIDSize      = 32
)

// Select response tags.
const (
	TagApplicationInfo byte = 0xA4
	TagInstanceUID     byte = 0x8F
	TagPublicKey       byte = 0x80
	TagInteger         byte = 0x02
	TagKeyUID          byte = 0x8E
)

// ErrMalformedResponse is wrapped by every parse failure in this package.
var ErrMalformedResponse = errors.New("malformed response")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedResponse, fmt.Sprintf(format, args...))
}

// ApplicationDescriptor is the parsed SELECT response.
type ApplicationDescriptor struct {
	initialized      bool
	instanceUID      []byte
	secureChannelKey []byte
	versionMajor     int
	versionMinor     int
	freeSlots        int
	keyUID           []byte
}

// ParseApplicationDescriptor parses a SELECT response payload.
func ParseApplicationDescriptor(payload []byte) (*ApplicationDescriptor, error) {
	top, err := tlv.Tags(payload)
	if err != nil {
		return nil, malformed("select: %v", err)
	}
	if len(top) != 1 {
		return nil, malformed("select: expected one top-level element, got %d", len(top))
	}

	switch top[0] {
	case TagPublicKey:
		// Uninitialized token: only the key used to encrypt INIT is exposed.
		pub, err := tlv.Find(payload, TagPublicKey)
		if err != nil {
			return nil, malformed("select: %v", err)
		}
		if len(pub) != PublicKeySize {
			return nil, malformed("select: public key is %d bytes", len(pub))
		}
		return &ApplicationDescriptor{
			secureChannelKey: clone(pub),
		}, nil
	case TagApplicationInfo:
	default:
		return nil, malformed("select: unexpected tag 0x%02X", top[0])
	}

	uid, err := tlv.Find(payload, TagApplicationInfo, TagInstanceUID)
	if err != nil || len(uid) != InstanceUIDSize {
		return nil, malformed("select: instance UID missing or not %d bytes", InstanceUIDSize)
	}
	pub, err := tlv.Find(payload, TagApplicationInfo, TagPublicKey)
	if err != nil || len(pub) != PublicKeySize {
		return nil, malformed("select: public key missing or not %d bytes", PublicKeySize)
	}
	version, err := tlv.FindN(payload, 0, TagApplicationInfo, TagInteger)
	if err != nil {
		return nil, malformed("select: version missing")
	}
	if len(version) != 2 {
		return nil, malformed("select: version is %d bytes", len(version))
	}
	slots, err := tlv.FindN(payload, 1, TagApplicationInfo, TagInteger)
	if err != nil {
		return nil, malformed("select: slot count missing")
	}
	if len(slots) != 1 {
		return nil, malformed("select: slot count is %d bytes", len(slots))
	}
	key, err := tlv.Find(payload, TagApplicationInfo, TagKeyUID)
	if err != nil {
		return nil, malformed("select: key UID element missing")
	}
	if len(key) != 0 && len(key) != KeyUIDSize {
		return nil, malformed("select: key UID is %d bytes", len(key))
	}

	d := &ApplicationDescriptor{
		initialized:      true,
		instanceUID:      clone(uid),
		secureChannelKey: clone(pub),
		versionMajor:     int(version[0]),
		versionMinor:     int(version[1]),
		freeSlots:        int(slots[0]),
	}
	if len(key) == KeyUIDSize {
		d.keyUID = clone(key)
	}
	return d, nil
}

// Initialized reports whether the token has PIN, PUK and pairing secret set.
func (d *ApplicationDescriptor) Initialized() bool { return d.initialized }

// InstanceUID returns the applet instance identifier (nil if uninitialized).
func (d *ApplicationDescriptor) InstanceUID() []byte { return clone(d.instanceUID) }

// SecureChannelPublicKey returns the token's secure channel key.
func (d *ApplicationDescriptor) SecureChannelPublicKey() []byte { return clone(d.secureChannelKey) }

// Version returns the application version.
func (d *ApplicationDescriptor) Version() (major, minor int) {
	return d.versionMajor, d.versionMinor
}

// VersionString returns the version as "major.minor".
func (d *ApplicationDescriptor) VersionString() string {
	return fmt.Sprintf("%d.%d", d.versionMajor, d.versionMinor)
}

// FreePairingSlots returns the number of unused pairing slots.
func (d *ApplicationDescriptor) FreePairingSlots() int { return d.freeSlots }

// KeyUID returns the master key identifier, or nil if no key is loaded.
func (d *ApplicationDescriptor) KeyUID() []byte { return clone(d.keyUID) }

// HasMasterKey reports whether a master key identifier is present.
func (d *ApplicationDescriptor) HasMasterKey() bool {
	return len(d.keyUID) == KeyUIDSize
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}
