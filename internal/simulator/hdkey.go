package simulator

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// extendedKey is a BIP-32 private node with its signing key unpacked.
type extendedKey struct {
	ext *hdkeychain.ExtendedKey
	key *secp256k1.PrivateKey
}

func masterKey(seed []byte) (*extendedKey, error) {
	ext, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("bip32 master: %w", err)
	}
	return unpack(ext)
}

func unpack(ext *hdkeychain.ExtendedKey) (*extendedKey, error) {
	priv, err := ext.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return &extendedKey{ext: ext, key: priv}, nil
}

func (k *extendedKey) chainCode() []byte {
	return k.ext.ChainCode()
}

// derive walks path from k. Indexes at or above wallet.HardenedOffset are
// hardened.
func (k *extendedKey) derive(path wallet.DerivationPath) (*extendedKey, error) {
	ext := k.ext
	for _, index := range path {
		next, err := ext.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("bip32 child %d: %w", index, err)
		}
		ext = next
	}
	return unpack(ext)
}
