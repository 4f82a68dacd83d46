package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/log"
	"github.com/hwlite/hwlite-go/pkg/transport"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// Operation names used in errors and logs.
const (
	OpSelect            = "select"
	OpInitialize        = "initialize"
	OpPair              = "pair"
	OpUsePairing        = "use_pairing"
	OpOpenSecureChannel = "open_secure_channel"
	OpGetStatus         = "get_status"
	OpGetKeyPath        = "get_key_path"
	OpVerifyPIN         = "verify_pin"
	OpGenerateKey       = "generate_key"
	OpLoadSeed          = "load_seed"
	OpDeriveKey         = "derive_key"
	OpSign              = "sign"
	OpUnpairOthers      = "unpair_others"
	OpUnpair            = "unpair"
	OpPresence          = "presence"
)

// Config configures a Session.
type Config struct {
	// ID identifies the session in logs. A UUID is generated when empty.
	ID string

	// PresenceID is the transport presence the session is bound to.
	PresenceID string

	// Logger receives operational logs. Nil discards.
	Logger *slog.Logger

	// ProtocolLogger receives session-layer events. Nil discards.
	ProtocolLogger log.Logger

	// OnStateChange is called under the session lock on every transition.
	// It must not call back into the Session.
	OnStateChange func(old, new State)
}

// Session drives one token presence through the wallet lifecycle.
//
// Every operation checks its guard before touching the codec: a rejected
// call returns *ProtocolMisuseError and leaves the state unchanged. An
// exchange that fails for any reason moves the session to StateFailed and
// no further exchange is made. Operations are serialized; the next exchange
// never starts before the previous one has returned.
type Session struct {
	mu sync.Mutex

	id            string
	presenceID    string
	codec         Codec
	logger        *slog.Logger
	protoLog      log.Logger
	onStateChange func(old, new State)

	state           State
	initializedHere bool
	descriptor      *wallet.ApplicationDescriptor
	status          *wallet.StatusDescriptor
	pairing         *wallet.PairingMaterial
	newPairing      bool
	masterKey       bool
	keySelected     bool
	path            wallet.DerivationPath
	signatures      []*wallet.RecoverableSignature
	err             error
	startedAt       time.Time
	endedAt         time.Time
}

// New creates a session for a channel that was just obtained. The session
// starts in StateConnected.
func New(codec Codec, cfg Config) *Session {
	id := cfg.ID
	if id == "" {
		id = uuid.NewString()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Session{
		id:            id,
		presenceID:    cfg.PresenceID,
		codec:         codec,
		logger:        logger.With("session", id),
		protoLog:      cfg.ProtocolLogger,
		onStateChange: cfg.OnStateChange,
		state:         StateDisconnected,
		startedAt:     time.Now(),
	}
	s.mu.Lock()
	s.transition(StateConnected, "channel obtained")
	s.mu.Unlock()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// PresenceID returns the transport presence identifier.
func (s *Session) PresenceID() string { return s.presenceID }

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Descriptor returns the last parsed SELECT response.
func (s *Session) Descriptor() *wallet.ApplicationDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.descriptor
}

// Pairing returns a copy of the pairing material held by the session.
func (s *Session) Pairing() *wallet.PairingMaterial {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyPairing(s.pairing)
}

// Select selects the wallet applet and parses the descriptor.
// An initialized token moves the session on to StateInitialized or
// StateAlreadyInitialized; an uninitialized one stays in
// StateAppletSelected until Initialize.
func (s *Session) Select(ctx context.Context) (*wallet.ApplicationDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpSelect, StateConnected, StateAppletSelected); err != nil {
		return nil, err
	}
	return s.selectApplet(ctx)
}

func (s *Session) selectApplet(ctx context.Context) (*wallet.ApplicationDescriptor, error) {
	resp, err := s.exchange(ctx, OpSelect, s.codec.Select)
	if err != nil {
		return nil, err
	}
	desc, err := wallet.ParseApplicationDescriptor(resp.Data)
	if err != nil {
		return nil, s.malformed(OpSelect, err)
	}
	s.descriptor = desc

	if s.state == StateConnected {
		s.transition(StateAppletSelected, "applet selected")
	}
	switch {
	case desc.Initialized() && s.initializedHere:
		s.masterKey = desc.HasMasterKey()
		s.transition(StateInitialized, "initialized by this session")
	case desc.Initialized():
		s.masterKey = desc.HasMasterKey()
		s.transition(StateAlreadyInitialized, "token already initialized")
	case s.initializedHere:
		return nil, s.malformed(OpSelect, ErrStillUninitialized)
	}
	return desc, nil
}

// Initialize writes secrets to an uninitialized token and re-selects it.
func (s *Session) Initialize(ctx context.Context, secrets wallet.Secrets) (*wallet.ApplicationDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateInitialized || s.state == StateAlreadyInitialized {
		return nil, misuse(OpInitialize, s.state, fmt.Errorf("%w: %w", ErrWrongState, ErrAlreadyInitialized))
	}
	if err := s.guard(OpInitialize, StateAppletSelected); err != nil {
		return nil, err
	}
	if err := secrets.Validate(); err != nil {
		return nil, misuse(OpInitialize, s.state, fmt.Errorf("%w: %w", ErrInvalidCredentials, err))
	}

	cardPub := s.descriptor.SecureChannelPublicKey()
	if _, err := s.exchange(ctx, OpInitialize, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.Init(ctx, cardPub, secrets)
	}); err != nil {
		return nil, err
	}
	s.initializedHere = true
	return s.selectApplet(ctx)
}

// Pair runs the pairing exchange with the shared pairing password.
// The returned material is a copy the caller may persist.
func (s *Session) Pair(ctx context.Context, password string) (*wallet.PairingMaterial, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpPair, StateInitialized, StateAlreadyInitialized); err != nil {
		return nil, err
	}
	if password == "" {
		return nil, misuse(OpPair, s.state, fmt.Errorf("%w: %w", ErrInvalidCredentials, wallet.ErrInvalidPairingPassword))
	}
	if s.descriptor.FreePairingSlots() == 0 {
		return nil, misuse(OpPair, s.state, ErrNoFreePairingSlots)
	}

	resp, err := s.exchange(ctx, OpPair, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.Pair(ctx, password)
	})
	if err != nil {
		return nil, err
	}
	material, err := wallet.ParsePairingMaterial(resp.Data)
	if err != nil {
		return nil, s.malformed(OpPair, err)
	}
	s.pairing = material
	s.newPairing = true
	s.transition(StatePaired, fmt.Sprintf("paired in slot %d", material.Index))
	return copyPairing(material), nil
}

// UsePairing adopts pairing material from an earlier session instead of
// running a pairing exchange.
func (s *Session) UsePairing(material *wallet.PairingMaterial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpUsePairing, StateInitialized, StateAlreadyInitialized); err != nil {
		return err
	}
	if material == nil {
		return misuse(OpUsePairing, s.state, ErrNoPairing)
	}
	checked, err := wallet.NewPairingMaterial(material.Index, material.Key)
	if err != nil {
		return misuse(OpUsePairing, s.state, fmt.Errorf("%w: %w", ErrNoPairing, err))
	}
	s.pairing = checked
	s.transition(StatePaired, fmt.Sprintf("reusing slot %d", checked.Index))
	return nil
}

// OpenSecureChannel opens and mutually authenticates the secure channel.
func (s *Session) OpenSecureChannel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpOpenSecureChannel, StatePaired); err != nil {
		return err
	}
	if s.pairing == nil {
		return misuse(OpOpenSecureChannel, s.state, ErrNoPairing)
	}

	cardPub := s.descriptor.SecureChannelPublicKey()
	pairing := copyPairing(s.pairing)
	if _, err := s.exchange(ctx, OpOpenSecureChannel, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.OpenSecureChannel(ctx, cardPub, pairing)
	}); err != nil {
		return err
	}
	s.transition(StateSecureChannelOpen, "secure channel open")
	return nil
}

// GetStatus fetches the application status. It does not require the PIN
// and never changes the state.
func (s *Session) GetStatus(ctx context.Context) (*wallet.StatusDescriptor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpGetStatus, StateSecureChannelOpen, StateAuthenticated); err != nil {
		return nil, err
	}
	return s.fetchStatus(ctx)
}

func (s *Session) fetchStatus(ctx context.Context) (*wallet.StatusDescriptor, error) {
	resp, err := s.exchange(ctx, OpGetStatus, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.GetStatus(ctx, wallet.StatusApplication)
	})
	if err != nil {
		return nil, err
	}
	status, err := wallet.ParseStatusDescriptor(resp.Data)
	if err != nil {
		return nil, s.malformed(OpGetStatus, err)
	}
	s.status = status
	s.masterKey = status.HasMasterKey()
	return status, nil
}

// GetKeyPath fetches the current derivation path of the token.
func (s *Session) GetKeyPath(ctx context.Context) (wallet.DerivationPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpGetKeyPath, StateSecureChannelOpen, StateAuthenticated); err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, OpGetKeyPath, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.GetStatus(ctx, wallet.StatusKeyPath)
	})
	if err != nil {
		return nil, err
	}
	path, err := wallet.ParseDerivationPathBytes(resp.Data)
	if err != nil {
		return nil, s.malformed(OpGetKeyPath, err)
	}
	return path, nil
}

// VerifyPIN verifies the PIN. A wrong PIN fails the session with a
// *StatusError carrying the remaining attempts.
func (s *Session) VerifyPIN(ctx context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpVerifyPIN, StateSecureChannelOpen, StateAuthenticated); err != nil {
		return err
	}
	if err := wallet.ValidatePIN(pin); err != nil {
		return misuse(OpVerifyPIN, s.state, fmt.Errorf("%w: %w", ErrInvalidCredentials, err))
	}
	if s.status != nil && s.status.PINBlocked() {
		return misuse(OpVerifyPIN, s.state, ErrPINBlocked)
	}

	if _, err := s.exchange(ctx, OpVerifyPIN, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.VerifyPIN(ctx, pin)
	}); err != nil {
		return err
	}
	if s.state != StateAuthenticated {
		s.transition(StateAuthenticated, "PIN verified")
	}
	return nil
}

// GenerateKey creates a master key on the token and re-reads the status.
// It returns the key UID.
func (s *Session) GenerateKey(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpGenerateKey, StateAuthenticated); err != nil {
		return nil, err
	}
	if s.masterKey {
		return nil, misuse(OpGenerateKey, s.state, ErrMasterKeyPresent)
	}
	return s.installKey(ctx, OpGenerateKey, s.codec.GenerateKey)
}

// LoadSeed imports a master key from a 64-byte BIP-39 seed and re-reads
// the status. It returns the key UID.
func (s *Session) LoadSeed(ctx context.Context, seed []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpLoadSeed, StateAuthenticated); err != nil {
		return nil, err
	}
	if s.masterKey {
		return nil, misuse(OpLoadSeed, s.state, ErrMasterKeyPresent)
	}
	if len(seed) != wallet.SeedSize {
		return nil, misuse(OpLoadSeed, s.state, ErrInvalidSeed)
	}
	return s.installKey(ctx, OpLoadSeed, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.LoadSeed(ctx, seed)
	})
}

func (s *Session) installKey(ctx context.Context, op string, call func(context.Context) (*apdu.Response, error)) ([]byte, error) {
	resp, err := s.exchange(ctx, op, call)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != wallet.KeyUIDSize {
		return nil, s.malformed(op, fmt.Errorf("%w: key UID is %d bytes", wallet.ErrMalformedResponse, len(resp.Data)))
	}
	keyUID := append([]byte(nil), resp.Data...)

	status, err := s.fetchStatus(ctx)
	if err != nil {
		return nil, err
	}
	if !status.HasMasterKey() {
		return nil, s.malformed(op, ErrNoMasterKey)
	}
	// SIGN waits for DERIVE KEY.
	s.keySelected = false
	s.path = wallet.DerivationPath{}
	return keyUID, nil
}

// DeriveKey makes the key at path the current key. The path syntax is
// checked before anything is sent.
func (s *Session) DeriveKey(ctx context.Context, path string) (wallet.DerivationPath, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpDeriveKey, StateAuthenticated); err != nil {
		return nil, err
	}
	parsed, err := wallet.ParseDerivationPath(path)
	if err != nil {
		return nil, misuse(OpDeriveKey, s.state, err)
	}
	if !s.masterKey {
		return nil, misuse(OpDeriveKey, s.state, ErrNoMasterKey)
	}

	if _, err := s.exchange(ctx, OpDeriveKey, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.DeriveKey(ctx, parsed)
	}); err != nil {
		return nil, err
	}
	s.path = parsed
	s.keySelected = true
	s.logger.Debug("key derived", "path", parsed.String())
	return slices.Clone(parsed), nil
}

// Sign signs a 32-byte hash with the current key.
func (s *Session) Sign(ctx context.Context, hash []byte) (*wallet.RecoverableSignature, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpSign, StateAuthenticated); err != nil {
		return nil, err
	}
	if !s.keySelected {
		return nil, misuse(OpSign, s.state, ErrNoKeySelected)
	}
	if len(hash) != wallet.HashSize {
		return nil, misuse(OpSign, s.state, ErrInvalidHash)
	}

	resp, err := s.exchange(ctx, OpSign, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.Sign(ctx, hash)
	})
	if err != nil {
		return nil, err
	}
	sig, err := wallet.ParseRecoverableSignature(hash, resp.Data)
	if err != nil {
		return nil, s.malformed(OpSign, err)
	}
	s.signatures = append(s.signatures, sig)
	return sig, nil
}

// UnpairOthers clears every pairing slot except the session's own.
func (s *Session) UnpairOthers(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpUnpairOthers, StateAuthenticated); err != nil {
		return err
	}
	_, err := s.exchange(ctx, OpUnpairOthers, s.codec.UnpairOthers)
	return err
}

// Unpair clears the session's own pairing slot and terminates the session.
func (s *Session) Unpair(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.guard(OpUnpair, StateAuthenticated); err != nil {
		return err
	}
	if s.pairing == nil {
		return misuse(OpUnpair, s.state, ErrNoPairing)
	}

	index := s.pairing.Index
	if _, err := s.exchange(ctx, OpUnpair, func(ctx context.Context) (*apdu.Response, error) {
		return s.codec.Unpair(ctx, index)
	}); err != nil {
		return err
	}
	s.pairing = nil
	s.codec.CloseSecureChannel()
	s.end(StateTerminated, fmt.Sprintf("slot %d unpaired", index))
	return nil
}

// Finish ends the session cleanly without an exchange. Pairing material is
// kept in the outcome so the caller can persist it.
func (s *Session) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsTerminal() {
		return
	}
	s.codec.CloseSecureChannel()
	s.end(StateTerminated, "finished")
}

// Abort fails the session with err unless it already ended.
func (s *Session) Abort(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.IsTerminal() {
		return
	}
	if err == nil {
		err = &TransportError{Op: OpPresence, Err: ErrTokenRemoved}
	}
	s.fail(err)
}

// Report returns the terminal report. Before the session ends it reflects
// progress so far.
func (s *Session) Report() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Outcome{
		SessionID:  s.id,
		PresenceID: s.presenceID,
		State:      s.state,
		Descriptor: s.descriptor,
		Status:     s.status,
		Pairing:    copyPairing(s.pairing),
		NewPairing: s.newPairing,
		Path:       slices.Clone(s.path),
		Signatures: slices.Clone(s.signatures),
		Err:        s.err,
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
	}
}

func (s *Session) guard(op string, allowed ...State) error {
	if s.state.IsTerminal() {
		return misuse(op, s.state, ErrSessionClosed)
	}
	if !slices.Contains(allowed, s.state) {
		return misuse(op, s.state, ErrWrongState)
	}
	return nil
}

// exchange runs one codec call and classifies its failure. Any failure
// fails the session.
func (s *Session) exchange(ctx context.Context, op string, call func(context.Context) (*apdu.Response, error)) (*apdu.Response, error) {
	resp, err := call(ctx)
	switch {
	case err != nil:
		return nil, s.fail(classify(op, err))
	case resp == nil:
		return nil, s.malformed(op, errors.New("no response"))
	case !resp.IsOK():
		return nil, s.fail(&StatusError{Op: op, Code: resp.Status()})
	}
	return resp, nil
}

func classify(op string, err error) error {
	var te *transport.Error
	if errors.As(err, &te) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Op: op, Err: err}
	}
	return &MalformedResponseError{Op: op, Err: err}
}

func (s *Session) malformed(op string, err error) error {
	return s.fail(&MalformedResponseError{Op: op, Err: err})
}

func (s *Session) fail(err error) error {
	s.err = err
	s.codec.CloseSecureChannel()

	kind, _ := KindOf(err)
	s.logger.Warn("session failed", "state", s.state.String(), "kind", kind.String(), "error", err)

	ev := log.Event{
		SessionID: s.id,
		TokenID:   s.tokenID(),
		Layer:     log.LayerSession,
		Category:  log.CategoryError,
		Error:     &log.ErrorEventData{Layer: log.LayerSession, Message: err.Error(), Context: kind.String()},
	}
	var se *StatusError
	if errors.As(err, &se) {
		code := int(se.Code)
		ev.Error.Code = &code
	}
	log.Emit(s.protoLog, ev)

	s.end(StateFailed, err.Error())
	return err
}

func (s *Session) end(state State, reason string) {
	s.endedAt = time.Now()
	s.transition(state, reason)
}

func (s *Session) transition(to State, reason string) {
	from := s.state
	s.state = to

	s.logger.Debug("state change", "from", from.String(), "to", to.String(), "reason", reason)
	log.Emit(s.protoLog, log.Event{
		SessionID: s.id,
		TokenID:   s.tokenID(),
		Layer:     log.LayerSession,
		Category:  log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntitySession,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
	if s.onStateChange != nil {
		s.onStateChange(from, to)
	}
}

func (s *Session) tokenID() string {
	if s.descriptor == nil {
		return ""
	}
	return hex.EncodeToString(s.descriptor.InstanceUID())
}

func copyPairing(p *wallet.PairingMaterial) *wallet.PairingMaterial {
	if p == nil {
		return nil
	}
	return &wallet.PairingMaterial{Index: p.Index, Key: append([]byte(nil), p.Key...)}
}
