package securechannel

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	kcrypto "github.com/status-im/keycard-go/crypto"
)

// OneShotEncrypt encrypts plaintext for the token's secure channel key without
// an established session. It is used for INIT. The returned blob is
//
//	len(hostPub) || hostPub || iv || AES-CBC(sharedSecret, iv, pad(plaintext))
func OneShotEncrypt(cardPub, plaintext []byte) ([]byte, error) {
	host, err := GenerateKey()
	if err != nil {
		return nil, err
	}
	secret, err := SharedSecret(host, cardPub)
	if err != nil {
		return nil, err
	}
	return kcrypto.OneShotEncrypt(host.PubKey().SerializeUncompressed(), secret, plaintext)
}

// OneShotDecrypt reverses OneShotEncrypt on the token side.
func OneShotDecrypt(cardPriv *secp256k1.PrivateKey, data []byte) ([]byte, error) {
	if len(data) < 1 {
		return nil, ErrInvalidLength
	}
	n := int(data[0])
	if len(data) < 1+n+BlockSize {
		return nil, fmt.Errorf("%w: one-shot blob is %d bytes", ErrInvalidLength, len(data))
	}
	secret, err := SharedSecret(cardPriv, data[1:1+n])
	if err != nil {
		return nil, err
	}
	iv := data[1+n : 1+n+BlockSize]
	return decrypt(secret, iv, data[1+n+BlockSize:])
}
