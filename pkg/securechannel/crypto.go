package securechannel

import (
	"crypto/aes"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	kcrypto "github.com/status-im/keycard-go/crypto"
)

// BlockSize is the AES block size, also the MAC and IV size.
const BlockSize = aes.BlockSize

var (
	ErrInvalidMAC    = errors.New("invalid MAC")
	ErrInvalidLength = errors.New("invalid ciphertext length")
	ErrInvalidKey    = errors.New("invalid public key")
)

// GenerateKey returns a fresh secp256k1 key pair.
func GenerateKey() (*secp256k1.PrivateKey, error) {
	return secp256k1.GeneratePrivateKey()
}

// SharedSecret computes the ECDH x-coordinate between priv and an encoded
// peer public key.
func SharedSecret(priv *secp256k1.PrivateKey, peerPub []byte) ([]byte, error) {
	pub, err := secp256k1.ParsePubKey(peerPub)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return kcrypto.GenerateECDHSharedSecret(priv.ToECDSA(), pub.ToECDSA()), nil
}

// Random returns n cryptographically random bytes.
func Random(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}

// decrypt checks the block alignment DecryptData assumes.
func decrypt(key, iv, enc []byte) ([]byte, error) {
	if len(enc) == 0 || len(enc)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidLength, len(enc))
	}
	return kcrypto.DecryptData(enc, key, iv)
}

// mac returns the CBC-MAC of meta || enc. CalculateMac encrypts meta in
// place, so meta must be a fresh block.
func mac(key, meta, enc []byte) ([]byte, error) {
	if len(meta) != BlockSize || len(enc)%BlockSize != 0 {
		return nil, ErrInvalidLength
	}
	m, err := kcrypto.CalculateMac(meta, enc, key)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), m...), nil
}
