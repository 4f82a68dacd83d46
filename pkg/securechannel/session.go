package securechannel

import (
	"crypto/subtle"
	"fmt"
	"sync"

	kcrypto "github.com/status-im/keycard-go/crypto"
)

// Open parameters.
const (
	SaltSize = 32
	KeySize  = 32
)

// Session holds the keys and rolling IV of an open secure channel.
type Session struct {
	mu     sync.Mutex
	encKey []byte
	macKey []byte
	iv     []byte
}

// NewSession derives session keys from the ECDH secret, the pairing key and
// the salt returned by OPEN SECURE CHANNEL.
func NewSession(secret, pairingKey, salt, iv []byte) (*Session, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt is %d bytes", ErrInvalidLength, len(salt))
	}
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("%w: iv is %d bytes", ErrInvalidLength, len(iv))
	}

	cardData := make([]byte, 0, SaltSize+BlockSize)
	cardData = append(cardData, salt...)
	cardData = append(cardData, iv...)
	encKey, macKey, first := kcrypto.DeriveSessionKeys(secret, pairingKey, cardData)

	return &Session{
		encKey: encKey,
		macKey: macKey,
		iv:     first,
	}, nil
}

// ParseOpenResponse splits an OPEN SECURE CHANNEL payload into salt and IV.
func ParseOpenResponse(data []byte) (salt, iv []byte, err error) {
	if len(data) != SaltSize+BlockSize {
		return nil, nil, fmt.Errorf("%w: open response is %d bytes", ErrInvalidLength, len(data))
	}
	return data[:SaltSize], data[SaltSize:], nil
}

func commandMeta(cla, ins, p1, p2 byte, lc int) []byte {
	meta := make([]byte, BlockSize)
	meta[0], meta[1], meta[2], meta[3] = cla, ins, p1, p2
	meta[4] = byte(lc)
	return meta
}

func responseMeta(length int) []byte {
	meta := make([]byte, BlockSize)
	meta[0] = byte(length)
	return meta
}

// ProtectCommand encrypts and MACs command data. The result replaces the
// command's data field.
func (s *Session) ProtectCommand(cla, ins, p1, p2 byte, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := kcrypto.EncryptData(data, s.encKey, s.iv)
	if err != nil {
		return nil, err
	}
	tag, err := mac(s.macKey, commandMeta(cla, ins, p1, p2, len(enc)+BlockSize), enc)
	if err != nil {
		return nil, err
	}
	s.iv = tag
	return append(append([]byte(nil), tag...), enc...), nil
}

// OpenResponse verifies and decrypts a protected response. The plaintext
// ends with the inner status word.
func (s *Session) OpenResponse(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	got, enc, err := split(data)
	if err != nil {
		return nil, err
	}
	want, err := mac(s.macKey, responseMeta(len(data)), enc)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrInvalidMAC
	}
	plain, err := decrypt(s.encKey, s.iv, enc)
	if err != nil {
		return nil, err
	}
	s.iv = want
	return plain, nil
}

// OpenCommand verifies and decrypts protected command data on the token side.
func (s *Session) OpenCommand(cla, ins, p1, p2 byte, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	got, enc, err := split(data)
	if err != nil {
		return nil, err
	}
	want, err := mac(s.macKey, commandMeta(cla, ins, p1, p2, len(data)), enc)
	if err != nil {
		return nil, err
	}
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return nil, ErrInvalidMAC
	}
	plain, err := decrypt(s.encKey, s.iv, enc)
	if err != nil {
		return nil, err
	}
	s.iv = want
	return plain, nil
}

// ProtectResponse encrypts and MACs a response plaintext (data || SW) on the
// token side.
func (s *Session) ProtectResponse(plain []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc, err := kcrypto.EncryptData(plain, s.encKey, s.iv)
	if err != nil {
		return nil, err
	}
	tag, err := mac(s.macKey, responseMeta(len(enc)+BlockSize), enc)
	if err != nil {
		return nil, err
	}
	s.iv = tag
	return append(append([]byte(nil), tag...), enc...), nil
}

func split(data []byte) (tag, enc []byte, err error) {
	if len(data) < 2*BlockSize || len(data)%BlockSize != 0 {
		return nil, nil, fmt.Errorf("%w: protected data is %d bytes", ErrInvalidLength, len(data))
	}
	return data[:BlockSize], data[BlockSize:], nil
}
