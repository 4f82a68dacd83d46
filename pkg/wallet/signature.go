package wallet

import (
	"bytes"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/hwlite/hwlite-go/pkg/tlv"
)

// Sign response tags.
const (
	TagSignatureTemplate byte = 0xA0
	TagSequence          byte = 0x30
)

// Signature sizes.
const (
	HashSize      = 32
	ScalarSize    = 32
	MaxRecoveryID = 3
)

// ErrRecoveryFailed is returned when no recovery identifier reproduces the
// signer's public key.
var ErrRecoveryFailed = fmt.Errorf("%w: signature recovery failed", ErrMalformedResponse)

// RecoverableSignature is an ECDSA signature over a 32-byte hash together
// with the recovery identifier that reproduces the signer's public key.
type RecoverableSignature struct {
	publicKey []byte
	r         []byte
	s         []byte
	recID     int
}

// ParseRecoverableSignature parses a SIGN response payload and computes the
// recovery identifier against hash. Exactly one identifier in 0..3 must
// reproduce the embedded public key.
func ParseRecoverableSignature(hash, payload []byte) (*RecoverableSignature, error) {
	if len(hash) != HashSize {
		return nil, malformed("signature: hash is %d bytes", len(hash))
	}

	top, err := tlv.Tags(payload)
	if err != nil {
		return nil, malformed("signature: %v", err)
	}
	if len(top) != 1 || top[0] != TagSignatureTemplate {
		return nil, malformed("signature: template 0xA0 missing")
	}

	pub, err := tlv.Find(payload, TagSignatureTemplate, TagPublicKey)
	if err != nil || len(pub) != PublicKeySize {
		return nil, malformed("signature: public key missing or not %d bytes", PublicKeySize)
	}
	der, err := tlv.Find(payload, TagSignatureTemplate, TagSequence)
	if err != nil {
		return nil, malformed("signature: DER sequence missing")
	}
	ints, err := tlv.Tags(der)
	if err != nil {
		return nil, malformed("signature: %v", err)
	}
	if !bytes.Equal(ints, []byte{TagInteger, TagInteger}) {
		return nil, malformed("signature: DER sequence must hold r and s")
	}
	rv, _ := tlv.FindN(der, 0, TagInteger)
	sv, _ := tlv.FindN(der, 1, TagInteger)
	r, err := fixedScalar(rv)
	if err != nil {
		return nil, err
	}
	s, err := fixedScalar(sv)
	if err != nil {
		return nil, err
	}

	recID, err := findRecoveryID(hash, r, s, pub)
	if err != nil {
		return nil, err
	}

	return &RecoverableSignature{
		publicKey: clone(pub),
		r:         r,
		s:         s,
		recID:     recID,
	}, nil
}

// findRecoveryID tries every identifier and requires exactly one match.
func findRecoveryID(hash, r, s, pub []byte) (int, error) {
	want, err := secp256k1.ParsePubKey(pub)
	if err != nil {
		return 0, malformed("signature: public key: %v", err)
	}
	wantBytes := want.SerializeUncompressed()

	found := -1
	for id := 0; id <= MaxRecoveryID; id++ {
		got, err := RecoverPublicKey(hash, r, s, id)
		if err != nil {
			continue
		}
		if !bytes.Equal(got, wantBytes) {
			continue
		}
		if found >= 0 {
			return 0, malformed("signature: recovery ids %d and %d both match", found, id)
		}
		found = id
	}
	if found < 0 {
		return 0, ErrRecoveryFailed
	}
	return found, nil
}

// RecoverPublicKey recovers the uncompressed signer key from a signature
// over hash using the given recovery identifier.
func RecoverPublicKey(hash, r, s []byte, recID int) ([]byte, error) {
	if recID < 0 || recID > MaxRecoveryID {
		return nil, malformed("signature: recovery id %d out of range", recID)
	}
	if len(r) != ScalarSize || len(s) != ScalarSize {
		return nil, malformed("signature: r and s must be %d bytes", ScalarSize)
	}
	compact := make([]byte, 0, 1+2*ScalarSize)
	compact = append(compact, byte(27+recID))
	compact = append(compact, r...)
	compact = append(compact, s...)

	pub, _, err := ecdsa.RecoverCompact(compact, hash)
	if err != nil {
		return nil, err
	}
	return pub.SerializeUncompressed(), nil
}

// fixedScalar converts a DER integer to a 32-byte big-endian value.
func fixedScalar(v []byte) ([]byte, error) {
	for len(v) > 1 && v[0] == 0x00 {
		v = v[1:]
	}
	if len(v) == 0 || len(v) > ScalarSize {
		return nil, malformed("signature: integer is %d bytes", len(v))
	}
	out := make([]byte, ScalarSize)
	copy(out[ScalarSize-len(v):], v)
	return out, nil
}

// PublicKey returns the uncompressed public key of the signing key.
func (sig *RecoverableSignature) PublicKey() []byte { return clone(sig.publicKey) }

// R returns the 32-byte r component.
func (sig *RecoverableSignature) R() []byte { return clone(sig.r) }

// S returns the 32-byte s component.
func (sig *RecoverableSignature) S() []byte { return clone(sig.s) }

// RecID returns the recovery identifier.
func (sig *RecoverableSignature) RecID() int { return sig.recID }

// Bytes returns r || s || recId.
func (sig *RecoverableSignature) Bytes() []byte {
	out := make([]byte, 0, 2*ScalarSize+1)
	out = append(out, sig.r...)
	out = append(out, sig.s...)
	return append(out, byte(sig.recID))
}
