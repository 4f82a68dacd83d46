package securechannel

import (
	"crypto/sha256"
	"crypto/subtle"
	"errors"

	keycard "github.com/status-im/keycard-go"
	kcrypto "github.com/status-im/keycard-go/crypto"
)

// Pairing parameters.
const (
	PairingSalt      = kcrypto.PairingTokenSalt
	PairingTokenSize = 32
	ChallengeSize    = 32
)

// ErrCryptogramMismatch is returned when the token does not prove knowledge
// of the pairing password.
var ErrCryptogramMismatch = errors.New("token cryptogram mismatch")

// PairingToken derives the shared pairing token from a pairing password
// (PBKDF2-SHA256 over the NFKD form).
func PairingToken(password string) []byte {
	return keycard.NewSecrets("", "", password).PairingToken()
}

// VerifyCardCryptogram checks the token's answer to the host challenge and
// returns the pairing token on success.
func VerifyCardCryptogram(password string, challenge, cryptogram []byte) ([]byte, error) {
	token, err := kcrypto.VerifyCryptogram(challenge, password, cryptogram)
	if err != nil {
		return nil, ErrCryptogramMismatch
	}
	return token, nil
}

// PairingCryptogram returns SHA-256(token || challenge).
func PairingCryptogram(token, challenge []byte) []byte {
	h := sha256.New()
	h.Write(token)
	h.Write(challenge)
	return h.Sum(nil)
}

// PairingKey returns SHA-256(token || salt).
func PairingKey(token, salt []byte) []byte {
	return PairingCryptogram(token, salt)
}

// VerifyCryptogram checks a host cryptogram against the stored token in
// constant time. The token side has no password to hand to
// VerifyCardCryptogram.
func VerifyCryptogram(token, challenge, cryptogram []byte) bool {
	return subtle.ConstantTimeCompare(PairingCryptogram(token, challenge), cryptogram) == 1
}
