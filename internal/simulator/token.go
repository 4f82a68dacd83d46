package simulator

import (
	"crypto/rand"
	"crypto/sha256"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/securechannel"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Default retry counters.
const (
	DefaultPINRetries = 3
	DefaultPUKRetries = 5
)

// Config configures a simulated token.
type Config struct {
	// Version is reported by SELECT as major.minor. Defaults to 3.1.
	VersionMajor byte
	VersionMinor byte

	PINRetries int
	PUKRetries int

	// InstanceUID is generated when empty.
	InstanceUID []byte

	// Secrets pre-initializes the token when set.
	Secrets *wallet.Secrets

	// Seed pre-loads a master key when set. Requires Secrets.
	Seed []byte
}

// Token is a simulated wallet applet. It is safe for concurrent use, but
// commands are processed one at a time like on a real chip.
type Token struct {
	mu sync.Mutex

	scKey       *secp256k1.PrivateKey
	instanceUID []byte
	version     [2]byte
	maxPIN      int
	maxPUK      int

	initialized  bool
	pin          string
	puk          string
	pairingToken []byte
	pinRetries   int
	pukRetries   int
	pairings     [wallet.MaxPairingSlots][]byte

	master *extendedKey
	keyUID []byte
	path   wallet.DerivationPath
	key    *extendedKey

	// Transient per presence.
	selected      bool
	pairChallenge []byte
	sc            *securechannel.Session
	scIndex       int
	authenticated bool
	pinVerified   bool
}

// New creates a simulated token.
func New(cfg Config) (*Token, error) {
	scKey, err := securechannel.GenerateKey()
	if err != nil {
		return nil, err
	}
	uid := cfg.InstanceUID
	if len(uid) == 0 {
		uid = make([]byte, wallet.InstanceUIDSize)
		if _, err := rand.Read(uid); err != nil {
			return nil, err
		}
	}
	if cfg.VersionMajor == 0 && cfg.VersionMinor == 0 {
		cfg.VersionMajor, cfg.VersionMinor = 3, 1
	}
	if cfg.PINRetries <= 0 {
		cfg.PINRetries = DefaultPINRetries
	}
	if cfg.PUKRetries <= 0 {
		cfg.PUKRetries = DefaultPUKRetries
	}

	t := &Token{
		scKey:       scKey,
		instanceUID: append([]byte(nil), uid...),
		version:     [2]byte{cfg.VersionMajor, cfg.VersionMinor},
		maxPIN:      cfg.PINRetries,
		maxPUK:      cfg.PUKRetries,
		scIndex:     -1,
	}

	if cfg.Secrets != nil {
		if err := cfg.Secrets.Validate(); err != nil {
			return nil, err
		}
		t.setCredentials(cfg.Secrets.PIN, cfg.Secrets.PUK,
			securechannel.PairingToken(cfg.Secrets.PairingPassword))
	}
	if len(cfg.Seed) > 0 {
		if err := t.loadSeed(cfg.Seed); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Reset clears transient state, as when the token leaves the field.
func (t *Token) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *Token) reset() {
	t.selected = false
	t.pairChallenge = nil
	t.sc = nil
	t.scIndex = -1
	t.authenticated = false
	t.pinVerified = false
}

// Initialized reports whether INIT has run.
func (t *Token) Initialized() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.initialized
}

// PublicKey returns the uncompressed secure channel public key.
func (t *Token) PublicKey() []byte {
	return t.scKey.PubKey().SerializeUncompressed()
}

// InstanceUID returns the applet instance identifier.
func (t *Token) InstanceUID() []byte {
	return append([]byte(nil), t.instanceUID...)
}

// PINRetries returns the remaining PIN attempts.
func (t *Token) PINRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pinRetries
}

// PairedSlots returns the indexes of occupied pairing slots.
func (t *Token) PairedSlots() []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []uint8
	for i, k := range t.pairings {
		if k != nil {
			out = append(out, uint8(i))
		}
	}
	return out
}

// CurrentPublicKey returns the uncompressed public key of the current key,
// or nil if no key is loaded.
func (t *Token) CurrentPublicKey() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.key == nil {
		return nil
	}
	return t.key.key.PubKey().SerializeUncompressed()
}

// Process handles one command APDU and returns the response APDU.
func (t *Token) Process(request []byte) []byte {
	t.mu.Lock()
	defer t.mu.Unlock()

	cmd, err := apdu.ParseCommand(request)
	if err != nil {
		return status(apdu.SwWrongLength)
	}
	return t.dispatch(cmd).Serialize()
}

func (t *Token) setCredentials(pin, puk string, token []byte) {
	t.initialized = true
	t.pin = pin
	t.puk = puk
	t.pairingToken = append([]byte(nil), token...)
	t.pinRetries = t.maxPIN
	t.pukRetries = t.maxPUK
}

func (t *Token) loadSeed(seed []byte) error {
	master, err := masterKey(seed)
	if err != nil {
		return err
	}
	uid := sha256.Sum256(master.key.PubKey().SerializeUncompressed())
	t.master = master
	t.key = master
	t.keyUID = uid[:]
	t.path = wallet.DerivationPath{}
	return nil
}

func (t *Token) freeSlots() int {
	n := 0
	for _, k := range t.pairings {
		if k == nil {
			n++
		}
	}
	return n
}

func status(sw apdu.Status) []byte {
	return apdu.NewResponse(nil, sw).Serialize()
}
