package wallet

// Pairing limits.
const (
	// MaxPairingSlots is the number of pairing slots on the token.
	MaxPairingSlots = 5

	// PairingKeySize is the size of a pairing key.
	PairingKeySize = 32
)

// PairingMaterial is the long-lived secret shared by host and token after a
// pairing exchange. Callers that want to reuse it across sessions persist it
// themselves.
type PairingMaterial struct {
	Index uint8
	Key   []byte
}

// NewPairingMaterial validates and copies pairing material.
func NewPairingMaterial(index uint8, key []byte) (*PairingMaterial, error) {
	if int(index) >= MaxPairingSlots {
		return nil, malformed("pairing: index %d out of range", index)
	}
	if len(key) != PairingKeySize {
		return nil, malformed("pairing: key is %d bytes", len(key))
	}
	return &PairingMaterial{Index: index, Key: clone(key)}, nil
}

// ParsePairingMaterial parses index || key.
func ParsePairingMaterial(payload []byte) (*PairingMaterial, error) {
	if len(payload) != 1+PairingKeySize {
		return nil, malformed("pairing: payload is %d bytes", len(payload))
	}
	return NewPairingMaterial(payload[0], payload[1:])
}

// Bytes encodes the material as index || key.
func (p *PairingMaterial) Bytes() []byte {
	return append([]byte{p.Index}, p.Key...)
}
