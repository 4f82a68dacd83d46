package wallet

import "github.com/hwlite/hwlite-go/pkg/tlv"

// Status response tags.
const (
	TagApplicationStatus byte = 0xA3
	TagBoolean           byte = 0x01
)

// StatusDescriptor is the parsed GET STATUS (application) response.
// Retry counters are observed, never enforced, by the host.
type StatusDescriptor struct {
	PINRetryCount int
	PUKRetryCount int
	masterKey     bool
}

// ParseStatusDescriptor parses a GET STATUS application payload.
func ParseStatusDescriptor(payload []byte) (*StatusDescriptor, error) {
	top, err := tlv.Tags(payload)
	if err != nil {
		return nil, malformed("status: %v", err)
	}
	if len(top) != 1 || top[0] != TagApplicationStatus {
		return nil, malformed("status: template 0xA3 missing")
	}

	pin, err := tlv.FindN(payload, 0, TagApplicationStatus, TagInteger)
	if err != nil || len(pin) != 1 {
		return nil, malformed("status: PIN retry counter missing")
	}
	puk, err := tlv.FindN(payload, 1, TagApplicationStatus, TagInteger)
	if err != nil || len(puk) != 1 {
		return nil, malformed("status: PUK retry counter missing")
	}
	flag, err := tlv.Find(payload, TagApplicationStatus, TagBoolean)
	if err != nil || len(flag) != 1 {
		return nil, malformed("status: key flag missing")
	}

	return &StatusDescriptor{
		PINRetryCount: int(pin[0]),
		PUKRetryCount: int(puk[0]),
		masterKey:     flag[0] == 0xFF,
	}, nil
}

// HasMasterKey reports whether the token holds a master key.
func (s *StatusDescriptor) HasMasterKey() bool { return s.masterKey }

// PINBlocked reports whether the PIN retry counter is exhausted.
func (s *StatusDescriptor) PINBlocked() bool { return s.PINRetryCount == 0 }
