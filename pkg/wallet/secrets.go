package wallet

import (
	"errors"
	"fmt"
)

// Credential lengths.
const (
	PINLength = 6
	PUKLength = 12
)

var (
	ErrInvalidPIN             = errors.New("PIN must be 6 digits")
	ErrInvalidPUK             = errors.New("PUK must be 12 digits")
	ErrInvalidPairingPassword = errors.New("pairing password is required")
)

// Secrets are the credentials written to a token by INIT.
type Secrets struct {
	PIN             string
	PUK             string
	PairingPassword string
}

// Validate checks credential formats.
func (s Secrets) Validate() error {
	if err := ValidatePIN(s.PIN); err != nil {
		return err
	}
	if !digits(s.PUK, PUKLength) {
		return ErrInvalidPUK
	}
	if s.PairingPassword == "" {
		return ErrInvalidPairingPassword
	}
	return nil
}

// String hides the credential values.
func (s Secrets) String() string {
	return fmt.Sprintf("Secrets{PIN:%s PUK:%s PairingPassword:%s}",
		redact(s.PIN), redact(s.PUK), redact(s.PairingPassword))
}

// ValidatePIN checks that pin is six ASCII digits.
func ValidatePIN(pin string) error {
	if !digits(pin, PINLength) {
		return ErrInvalidPIN
	}
	return nil
}

func digits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func redact(s string) string {
	if s == "" {
		return `""`
	}
	return "***"
}

// StatusScope selects the GET STATUS variant.
type StatusScope uint8

const (
	// StatusApplication returns retry counters and key presence.
	StatusApplication StatusScope = 0x00
	// StatusKeyPath returns the current derivation path.
	StatusKeyPath StatusScope = 0x01
)

// String returns the scope name.
func (s StatusScope) String() string {
	switch s {
	case StatusApplication:
		return "APPLICATION"
	case StatusKeyPath:
		return "KEY_PATH"
	default:
		return "UNKNOWN"
	}
}
