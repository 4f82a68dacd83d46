package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/log"
	"github.com/hwlite/hwlite-go/pkg/securechannel"
	"github.com/hwlite/hwlite-go/pkg/transport"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Codec errors.
var (
	ErrCryptogramMismatch = securechannel.ErrCryptogramMismatch
	ErrMutualAuthFailed   = errors.New("mutual authentication failed")
	ErrNoSecureChannel    = errors.New("secure channel not open")
	ErrUnexpectedLength   = errors.New("unexpected response length")
)

// Observer is notified after every exchange, for metrics.
type Observer func(name string, sw apdu.Status, elapsed time.Duration, err error)

// CommandSet issues wallet applet commands over one channel.
// It is not safe for concurrent use; a session drives it sequentially.
type CommandSet struct {
	ch        transport.Channel
	sc        *securechannel.Session
	pairing   *wallet.PairingMaterial
	logger    log.Logger
	sessionID string
	observer  Observer
	now       func() time.Time
}

// Option configures a CommandSet.
type Option func(*CommandSet)

// WithProtocolLogger records one CommandEvent per exchange.
func WithProtocolLogger(logger log.Logger, sessionID string) Option {
	return func(c *CommandSet) {
		c.logger = logger
		c.sessionID = sessionID
	}
}

// WithObserver installs an exchange observer.
func WithObserver(fn Observer) Option {
	return func(c *CommandSet) { c.observer = fn }
}

// NewCommandSet binds a CommandSet to ch.
func NewCommandSet(ch transport.Channel, opts ...Option) *CommandSet {
	c := &CommandSet{ch: ch, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SecureChannelOpen reports whether commands are currently wrapped.
func (c *CommandSet) SecureChannelOpen() bool { return c.sc != nil }

// send transmits cmd, through the secure channel when open.
func (c *CommandSet) send(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	name := Name(cmd.Ins)
	secure := c.sc != nil
	start := c.now()

	resp, err := c.transmit(ctx, cmd)

	elapsed := c.now().Sub(start)
	var sw apdu.Status
	if resp != nil {
		sw = resp.Status()
	}
	c.record(name, cmd.Ins, secure, resp, elapsed, err)
	if c.observer != nil {
		c.observer(name, sw, elapsed, err)
	}
	return resp, err
}

func (c *CommandSet) transmit(ctx context.Context, cmd *apdu.Command) (*apdu.Response, error) {
	name := Name(cmd.Ins)

	if c.sc != nil {
		wrapped, err := c.sc.ProtectCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, cmd.Data)
		if err != nil {
			return nil, fmt.Errorf("%s: protect: %w", name, err)
		}
		cmd = apdu.NewCommand(cmd.Cla, cmd.Ins, cmd.P1, cmd.P2, wrapped)
	}
	raw, err := apdu.Encode(cmd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	out, err := c.ch.Exchange(ctx, raw)
	if err != nil {
		return nil, transport.Wrap(name, err)
	}
	resp, err := apdu.ParseResponse(out)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	if c.sc == nil {
		return resp, nil
	}
	if !resp.IsOK() {
		// Channel-level failures are answered in clear and close the channel.
		c.sc = nil
		return resp, nil
	}

	plain, err := c.sc.OpenResponse(resp.Data)
	if err != nil {
		c.sc = nil
		return nil, fmt.Errorf("%s: open response: %w", name, err)
	}
	inner, err := apdu.ParseResponse(plain)
	if err != nil {
		return nil, fmt.Errorf("%s: inner response: %w", name, err)
	}
	return inner, nil
}

func (c *CommandSet) record(name string, ins byte, secure bool, resp *apdu.Response, elapsed time.Duration, err error) {
	if c.logger == nil {
		return
	}
	ev := log.Event{
		Timestamp: c.now(),
		SessionID: c.sessionID,
		Direction: log.DirectionIn,
		Layer:     log.LayerCodec,
		Category:  log.CategoryMessage,
		Command:   &log.CommandEvent{Name: name, Ins: ins, Secure: secure, Duration: &elapsed},
	}
	if resp != nil {
		sw := resp.Sw
		ev.Command.SW = &sw
	}
	if err != nil {
		ev.Category = log.CategoryError
		ev.Error = &log.ErrorEventData{Layer: log.LayerCodec, Message: err.Error(), Context: name}
	}
	c.logger.Log(ev)
}

// Select selects the wallet applet and drops any secure channel.
func (c *CommandSet) Select(ctx context.Context) (*apdu.Response, error) {
	c.sc = nil
	c.pairing = nil
	return c.send(ctx, apdu.NewCommand(ClaISO7816, InsSelect, P1SelectByName, 0x00, WalletAID))
}

// Init writes PIN, PUK and pairing token to an uninitialized token.
// cardPub is the key returned by SELECT.
func (c *CommandSet) Init(ctx context.Context, cardPub []byte, secrets wallet.Secrets) (*apdu.Response, error) {
	plain := make([]byte, 0, wallet.PINLength+wallet.PUKLength+securechannel.PairingTokenSize)
	plain = append(plain, secrets.PIN...)
	plain = append(plain, secrets.PUK...)
	plain = append(plain, securechannel.PairingToken(secrets.PairingPassword)...)

	data, err := securechannel.OneShotEncrypt(cardPub, plain)
	if err != nil {
		return nil, fmt.Errorf("INIT: %w", err)
	}
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsInit, 0x00, 0x00, data))
}

// Pair runs both PAIR steps. On success the response payload is the
// encoded wallet.PairingMaterial (index || key).
func (c *CommandSet) Pair(ctx context.Context, password string) (*apdu.Response, error) {
	challenge, err := securechannel.Random(securechannel.ChallengeSize)
	if err != nil {
		return nil, fmt.Errorf("PAIR: %w", err)
	}

	resp, err := c.send(ctx, apdu.NewCommand(ClaWallet, InsPair, P1PairFirstStep, 0x00, challenge))
	if err != nil || !resp.IsOK() {
		return resp, err
	}
	if len(resp.Data) != 2*securechannel.ChallengeSize {
		return nil, fmt.Errorf("PAIR: %w: %d bytes", ErrUnexpectedLength, len(resp.Data))
	}
	cardCryptogram := resp.Data[:securechannel.ChallengeSize]
	cardChallenge := resp.Data[securechannel.ChallengeSize:]
	token, err := securechannel.VerifyCardCryptogram(password, challenge, cardCryptogram)
	if err != nil {
		return nil, fmt.Errorf("PAIR: %w", err)
	}

	resp, err = c.send(ctx, apdu.NewCommand(ClaWallet, InsPair, P1PairFinalStep, 0x00,
		securechannel.PairingCryptogram(token, cardChallenge)))
	if err != nil || !resp.IsOK() {
		return resp, err
	}
	if len(resp.Data) != 1+securechannel.SaltSize {
		return nil, fmt.Errorf("PAIR: %w: %d bytes", ErrUnexpectedLength, len(resp.Data))
	}

	key := securechannel.PairingKey(token, resp.Data[1:])
	material := append([]byte{resp.Data[0]}, key...)
	return apdu.NewResponse(material, apdu.SwOK), nil
}

// OpenSecureChannel opens the channel with pairing and runs mutual
// authentication. cardPub is the key returned by SELECT.
func (c *CommandSet) OpenSecureChannel(ctx context.Context, cardPub []byte, pairing *wallet.PairingMaterial) (*apdu.Response, error) {
	c.sc = nil
	eph, err := securechannel.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("OPEN_SECURE_CHANNEL: %w", err)
	}

	resp, err := c.send(ctx, apdu.NewCommand(ClaWallet, InsOpenSecureChannel, pairing.Index, 0x00,
		eph.PubKey().SerializeUncompressed()))
	if err != nil || !resp.IsOK() {
		return resp, err
	}
	salt, iv, err := securechannel.ParseOpenResponse(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("OPEN_SECURE_CHANNEL: %w", err)
	}
	secret, err := securechannel.SharedSecret(eph, cardPub)
	if err != nil {
		return nil, fmt.Errorf("OPEN_SECURE_CHANNEL: %w", err)
	}
	sc, err := securechannel.NewSession(secret, pairing.Key, salt, iv)
	if err != nil {
		return nil, fmt.Errorf("OPEN_SECURE_CHANNEL: %w", err)
	}
	c.sc = sc

	challenge, err := securechannel.Random(securechannel.ChallengeSize)
	if err != nil {
		c.sc = nil
		return nil, fmt.Errorf("MUTUALLY_AUTHENTICATE: %w", err)
	}
	resp, err = c.send(ctx, apdu.NewCommand(ClaWallet, InsMutuallyAuthenticate, 0x00, 0x00, challenge))
	if err != nil || !resp.IsOK() {
		c.sc = nil
		return resp, err
	}
	if len(resp.Data) != securechannel.ChallengeSize {
		c.sc = nil
		return nil, fmt.Errorf("MUTUALLY_AUTHENTICATE: %w", ErrMutualAuthFailed)
	}
	c.pairing = pairing
	return resp, nil
}

// GetStatus queries application status or the current key path.
func (c *CommandSet) GetStatus(ctx context.Context, scope wallet.StatusScope) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsGetStatus, byte(scope), 0x00, nil))
}

// VerifyPIN submits the PIN.
func (c *CommandSet) VerifyPIN(ctx context.Context, pin string) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsVerifyPIN, 0x00, 0x00, []byte(pin)))
}

// GenerateKey asks the token to generate a master key on-card.
func (c *CommandSet) GenerateKey(ctx context.Context) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsGenerateKey, 0x00, 0x00, nil))
}

// LoadSeed loads a master key from a BIP-39 seed.
func (c *CommandSet) LoadSeed(ctx context.Context, seed []byte) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsLoadKey, P1LoadKeySeed, 0x00, seed))
}

// DeriveKey selects the key at path, derived from the master key.
func (c *CommandSet) DeriveKey(ctx context.Context, path wallet.DerivationPath) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsDeriveKey, P1DeriveAbsolute, 0x00, path.Bytes()))
}

// Sign signs a 32-byte hash with the current key.
func (c *CommandSet) Sign(ctx context.Context, hash []byte) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsSign, P1SignCurrentKey, P2SignECDSA, hash))
}

// Unpair clears a pairing slot.
func (c *CommandSet) Unpair(ctx context.Context, index uint8) (*apdu.Response, error) {
	return c.send(ctx, apdu.NewCommand(ClaWallet, InsUnpair, index, 0x00, nil))
}

// UnpairOthers clears every slot except the one used by the open channel.
// It stops at the first non-OK response and returns it.
func (c *CommandSet) UnpairOthers(ctx context.Context) (*apdu.Response, error) {
	if c.sc == nil || c.pairing == nil {
		return nil, fmt.Errorf("UNPAIR: %w", ErrNoSecureChannel)
	}
	self := c.pairing.Index

	resp := apdu.NewResponse(nil, apdu.SwOK)
	for i := uint8(0); i < wallet.MaxPairingSlots; i++ {
		if i == self {
			continue
		}
		r, err := c.Unpair(ctx, i)
		if err != nil || !r.IsOK() {
			return r, err
		}
		resp = r
	}
	return resp, nil
}

// CloseSecureChannel forgets the channel keys. Later commands go in clear.
func (c *CommandSet) CloseSecureChannel() {
	c.sc = nil
	c.pairing = nil
}
