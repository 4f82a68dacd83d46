package session

import (
	"context"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/command"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Codec issues one logical step per call over the session's channel.
//
// Each call returns the decoded response or an error. Errors wrapping
// *transport.Error are channel failures; any other error is a decoding
// failure. A non-OK status word is returned as a response, not an error.
type Codec interface {
	Select(ctx context.Context) (*apdu.Response, error)
	Init(ctx context.Context, cardPub []byte, secrets wallet.Secrets) (*apdu.Response, error)
	Pair(ctx context.Context, password string) (*apdu.Response, error)
	OpenSecureChannel(ctx context.Context, cardPub []byte, pairing *wallet.PairingMaterial) (*apdu.Response, error)
	GetStatus(ctx context.Context, scope wallet.StatusScope) (*apdu.Response, error)
	VerifyPIN(ctx context.Context, pin string) (*apdu.Response, error)
	GenerateKey(ctx context.Context) (*apdu.Response, error)
	LoadSeed(ctx context.Context, seed []byte) (*apdu.Response, error)
	DeriveKey(ctx context.Context, path wallet.DerivationPath) (*apdu.Response, error)
	Sign(ctx context.Context, hash []byte) (*apdu.Response, error)
	Unpair(ctx context.Context, index uint8) (*apdu.Response, error)
	UnpairOthers(ctx context.Context) (*apdu.Response, error)

	// CloseSecureChannel forgets channel keys without an exchange.
	CloseSecureChannel()
}

var _ Codec = (*command.CommandSet)(nil)
