package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/tlv"
	"github.com/hwlite/hwlite-go/pkg/transport"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

// mockCodec is a testify double for Codec.
type mockCodec struct {
	mock.Mock
}

func response(args mock.Arguments) (*apdu.Response, error) {
	r, _ := args.Get(0).(*apdu.Response)
	return r, args.Error(1)
}

func (m *mockCodec) Select(ctx context.Context) (*apdu.Response, error) {
	return response(m.Called(ctx))
}

func (m *mockCodec) Init(ctx context.Context, cardPub []byte, secrets wallet.Secrets) (*apdu.Response, error) {
	return response(m.Called(ctx, cardPub, secrets))
}

func (m *mockCodec) Pair(ctx context.Context, password string) (*apdu.Response, error) {
	return response(m.Called(ctx, password))
}

func (m *mockCodec) OpenSecureChannel(ctx context.Context, cardPub []byte, p *wallet.PairingMaterial) (*apdu.Response, error) {
	return response(m.Called(ctx, cardPub, p))
}

func (m *mockCodec) GetStatus(ctx context.Context, scope wallet.StatusScope) (*apdu.Response, error) {
	return response(m.Called(ctx, scope))
}

func (m *mockCodec) VerifyPIN(ctx context.Context, pin string) (*apdu.Response, error) {
	return response(m.Called(ctx, pin))
}

func (m *mockCodec) GenerateKey(ctx context.Context) (*apdu.Response, error) {
	return response(m.Called(ctx))
}

func (m *mockCodec) LoadSeed(ctx context.Context, seed []byte) (*apdu.Response, error) {
	return response(m.Called(ctx, seed))
}

func (m *mockCodec) DeriveKey(ctx context.Context, path wallet.DerivationPath) (*apdu.Response, error) {
	return response(m.Called(ctx, path))
}

func (m *mockCodec) Sign(ctx context.Context, hash []byte) (*apdu.Response, error) {
	return response(m.Called(ctx, hash))
}

func (m *mockCodec) Unpair(ctx context.Context, index uint8) (*apdu.Response, error) {
	return response(m.Called(ctx, index))
}

func (m *mockCodec) UnpairOthers(ctx context.Context) (*apdu.Response, error) {
	return response(m.Called(ctx))
}

func (m *mockCodec) CloseSecureChannel() {
	m.Called()
}

func newMockCodec() *mockCodec {
	m := &mockCodec{}
	m.On("CloseSecureChannel").Maybe()
	return m
}

// exchanges counts codec calls that would reach the transport.
func (m *mockCodec) exchanges() int {
	n := 0
	for _, c := range m.Calls {
		if c.Method != "CloseSecureChannel" {
			n++
		}
	}
	return n
}

var testPub = append([]byte{0x04}, bytes.Repeat([]byte{0x11}, 64)...)

func ok(data []byte) *apdu.Response { return apdu.NewResponse(data, apdu.SwOK) }

func descriptorPayload(freeSlots int, keyUID []byte) []byte {
	return tlv.EncodeTemplate(wallet.TagApplicationInfo,
		tlv.Encode(wallet.TagInstanceUID, bytes.Repeat([]byte{0xAB}, wallet.InstanceUIDSize)),
		tlv.Encode(wallet.TagPublicKey, testPub),
		tlv.Encode(wallet.TagInteger, []byte{3, 1}),
		tlv.Encode(wallet.TagInteger, []byte{byte(freeSlots)}),
		tlv.Encode(wallet.TagKeyUID, keyUID),
	)
}

func statusPayload(pin, puk int, key bool) []byte {
	flag := byte(0x00)
	if key {
		flag = 0xFF
	}
	return tlv.EncodeTemplate(wallet.TagApplicationStatus,
		tlv.Encode(wallet.TagInteger, []byte{byte(pin)}),
		tlv.Encode(wallet.TagInteger, []byte{byte(puk)}),
		tlv.Encode(wallet.TagBoolean, []byte{flag}),
	)
}

var (
	testKeyUID  = bytes.Repeat([]byte{0x5A}, wallet.KeyUIDSize)
	testPairing = append([]byte{1}, bytes.Repeat([]byte{0x77}, wallet.PairingKeySize)...)
)

// authenticated drives a mock session to StateAuthenticated.
func authenticated(t *testing.T, m *mockCodec, keyUID []byte) *Session {
	t.Helper()
	ctx := context.Background()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(4, keyUID)), nil).Once()
	m.On("Pair", mock.Anything, "pw").Return(ok(testPairing), nil).Once()
	m.On("OpenSecureChannel", mock.Anything, testPub, mock.Anything).Return(ok(nil), nil).Once()
	m.On("VerifyPIN", mock.Anything, "000000").Return(ok(nil), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(ctx)
	require.NoError(t, err)
	_, err = s.Pair(ctx, "pw")
	require.NoError(t, err)
	require.NoError(t, s.OpenSecureChannel(ctx))
	require.NoError(t, s.VerifyPIN(ctx, "000000"))
	require.Equal(t, StateAuthenticated, s.State())
	return s
}

func requireMisuse(t *testing.T, err error, reason error) {
	t.Helper()
	var pe *ProtocolMisuseError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, reason)
}

func TestNewSessionStartsConnected(t *testing.T) {
	var transitions [][2]State
	s := New(newMockCodec(), Config{
		ID:            "s1",
		PresenceID:    "p1",
		OnStateChange: func(old, new State) { transitions = append(transitions, [2]State{old, new}) },
	})

	if s.State() != StateConnected {
		t.Errorf("State() = %v, want CONNECTED", s.State())
	}
	assert.Equal(t, "s1", s.ID())
	assert.Equal(t, "p1", s.PresenceID())
	assert.Equal(t, [][2]State{{StateDisconnected, StateConnected}}, transitions)
}

func TestGuardsRejectWithoutExchange(t *testing.T) {
	ctx := context.Background()
	hash := make([]byte, wallet.HashSize)

	tests := []struct {
		name string
		call func(s *Session) error
	}{
		{"initialize", func(s *Session) error {
			_, err := s.Initialize(ctx, wallet.Secrets{PIN: "000000", PUK: "123456789012", PairingPassword: "pw"})
			return err
		}},
		{"pair", func(s *Session) error { _, err := s.Pair(ctx, "pw"); return err }},
		{"use pairing", func(s *Session) error {
			return s.UsePairing(&wallet.PairingMaterial{Index: 0, Key: make([]byte, 32)})
		}},
		{"open secure channel", func(s *Session) error { return s.OpenSecureChannel(ctx) }},
		{"get status", func(s *Session) error { _, err := s.GetStatus(ctx); return err }},
		{"get key path", func(s *Session) error { _, err := s.GetKeyPath(ctx); return err }},
		{"verify pin", func(s *Session) error { return s.VerifyPIN(ctx, "000000") }},
		{"generate key", func(s *Session) error { _, err := s.GenerateKey(ctx); return err }},
		{"load seed", func(s *Session) error { _, err := s.LoadSeed(ctx, make([]byte, 64)); return err }},
		{"derive key", func(s *Session) error { _, err := s.DeriveKey(ctx, "m/0"); return err }},
		{"sign", func(s *Session) error { _, err := s.Sign(ctx, hash); return err }},
		{"unpair others", func(s *Session) error { return s.UnpairOthers(ctx) }},
		{"unpair", func(s *Session) error { return s.Unpair(ctx) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMockCodec()
			s := New(m, Config{})

			err := tt.call(s)
			requireMisuse(t, err, ErrWrongState)
			if s.State() != StateConnected {
				t.Errorf("State() = %v, want CONNECTED", s.State())
			}
			assert.Zero(t, m.exchanges())
			assert.Nil(t, s.Err())
		})
	}
}

func TestSelectAlreadyInitialized(t *testing.T) {
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(5, nil)), nil).Once()
	var states []State
	s := New(m, Config{OnStateChange: func(_, new State) { states = append(states, new) }})

	desc, err := s.Select(context.Background())
	require.NoError(t, err)
	assert.True(t, desc.Initialized())
	assert.Equal(t, StateAlreadyInitialized, s.State())
	assert.Equal(t, []State{StateConnected, StateAppletSelected, StateAlreadyInitialized}, states)
}

func TestInitializeAlreadyInitialized(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(5, nil)), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(ctx)
	require.NoError(t, err)

	_, err = s.Initialize(ctx, wallet.Secrets{PIN: "000000", PUK: "123456789012", PairingPassword: "pw"})
	requireMisuse(t, err, ErrAlreadyInitialized)
	assert.ErrorIs(t, err, ErrWrongState)
	assert.Equal(t, StateAlreadyInitialized, s.State())
	m.AssertNotCalled(t, "Init", mock.Anything, mock.Anything, mock.Anything)
}

func TestInitializeThenReselect(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(tlv.Encode(wallet.TagPublicKey, testPub)), nil).Once()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(5, nil)), nil).Once()
	secrets := wallet.Secrets{PIN: "000000", PUK: "123456789012", PairingPassword: "WalletAppletTest"}
	m.On("Init", mock.Anything, testPub, secrets).Return(ok(nil), nil).Once()

	s := New(m, Config{})
	desc, err := s.Select(ctx)
	require.NoError(t, err)
	assert.False(t, desc.Initialized())
	assert.Equal(t, StateAppletSelected, s.State())

	_, err = s.Initialize(ctx, wallet.Secrets{PIN: "12", PUK: "123456789012", PairingPassword: "x"})
	requireMisuse(t, err, ErrInvalidCredentials)
	assert.ErrorIs(t, err, wallet.ErrInvalidPIN)
	assert.Equal(t, StateAppletSelected, s.State())

	desc, err = s.Initialize(ctx, secrets)
	require.NoError(t, err)
	assert.True(t, desc.Initialized())
	assert.Equal(t, StateInitialized, s.State())
	m.AssertExpectations(t)
}

func TestInitializeStillUninitialized(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(tlv.Encode(wallet.TagPublicKey, testPub)), nil).Twice()
	m.On("Init", mock.Anything, mock.Anything, mock.Anything).Return(ok(nil), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(ctx)
	require.NoError(t, err)
	_, err = s.Initialize(ctx, wallet.Secrets{PIN: "000000", PUK: "123456789012", PairingPassword: "pw"})

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, ErrStillUninitialized)
	assert.Equal(t, StateFailed, s.State())
}

func TestMalformedSelect(t *testing.T) {
	m := newMockCodec()
	full := descriptorPayload(5, nil)
	m.On("Select", mock.Anything).Return(ok(full[:len(full)-10]), nil).Once()

	s := New(m, Config{})
	desc, err := s.Select(context.Background())
	assert.Nil(t, desc)

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.ErrorIs(t, err, wallet.ErrMalformedResponse)
	assert.Equal(t, StateFailed, s.State())
	assert.Nil(t, s.Descriptor())
}

func TestTransportErrorFailsSession(t *testing.T) {
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(nil, transport.Wrap("SELECT", transport.ErrClosed)).Once()

	s := New(m, Config{})
	_, err := s.Select(context.Background())

	var te *TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, OpSelect, te.Op)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.Equal(t, StateFailed, s.State())
	m.AssertCalled(t, "CloseSecureChannel")

	_, err = s.Select(context.Background())
	requireMisuse(t, err, ErrSessionClosed)
	m.AssertNumberOfCalls(t, "Select", 1)
}

func TestCodecDecodeErrorIsMalformed(t *testing.T) {
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(5, nil)), nil).Once()
	m.On("Pair", mock.Anything, "pw").Return(nil, errors.New("PAIR: token cryptogram mismatch")).Once()

	s := New(m, Config{})
	_, err := s.Select(context.Background())
	require.NoError(t, err)
	_, err = s.Pair(context.Background(), "pw")

	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindMalformed, kind)
	assert.Equal(t, StateFailed, s.State())
}

func TestPairNoFreeSlots(t *testing.T) {
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(0, nil)), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(context.Background())
	require.NoError(t, err)

	_, err = s.Pair(context.Background(), "pw")
	requireMisuse(t, err, ErrNoFreePairingSlots)
	assert.Equal(t, StateAlreadyInitialized, s.State())
	m.AssertNotCalled(t, "Pair", mock.Anything, mock.Anything)
}

func TestPairStatusErrorKeepsCode(t *testing.T) {
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(2, nil)), nil).Once()
	m.On("Pair", mock.Anything, "pw").Return(apdu.NewResponse(nil, apdu.SwNoAvailableSlots), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(context.Background())
	require.NoError(t, err)
	_, err = s.Pair(context.Background(), "pw")

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, apdu.SwNoAvailableSlots, se.Code)
	assert.Equal(t, OpPair, se.Op)
	assert.Nil(t, s.Pairing())
}

func TestVerifyPINWrongKeepsRetryCount(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(4, nil)), nil).Once()
	m.On("Pair", mock.Anything, "pw").Return(ok(testPairing), nil).Once()
	m.On("OpenSecureChannel", mock.Anything, mock.Anything, mock.Anything).Return(ok(nil), nil).Once()
	m.On("VerifyPIN", mock.Anything, "123123").Return(apdu.NewResponse(nil, apdu.SwWrongPIN|2), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(ctx)
	require.NoError(t, err)
	_, err = s.Pair(ctx, "pw")
	require.NoError(t, err)
	require.NoError(t, s.OpenSecureChannel(ctx))

	err = s.VerifyPIN(ctx, "123123")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	left, ok := se.RetriesLeft()
	require.True(t, ok)
	assert.Equal(t, 2, left)
	assert.Equal(t, StateFailed, s.State())

	out := s.Report()
	assert.False(t, out.Success())
	kind, _ := out.Kind()
	assert.Equal(t, KindStatus, kind)
}

func TestVerifyPINGuards(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(4, nil)), nil).Once()
	m.On("Pair", mock.Anything, "pw").Return(ok(testPairing), nil).Once()
	m.On("OpenSecureChannel", mock.Anything, mock.Anything, mock.Anything).Return(ok(nil), nil).Once()
	m.On("GetStatus", mock.Anything, wallet.StatusApplication).Return(ok(statusPayload(0, 5, false)), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(ctx)
	require.NoError(t, err)

	err = s.VerifyPIN(ctx, "000000")
	requireMisuse(t, err, ErrWrongState)

	_, err = s.Pair(ctx, "pw")
	require.NoError(t, err)
	err = s.VerifyPIN(ctx, "000000")
	requireMisuse(t, err, ErrWrongState)
	assert.Equal(t, StatePaired, s.State())

	require.NoError(t, s.OpenSecureChannel(ctx))
	err = s.VerifyPIN(ctx, "abc")
	requireMisuse(t, err, ErrInvalidCredentials)

	status, err := s.GetStatus(ctx)
	require.NoError(t, err)
	require.True(t, status.PINBlocked())
	err = s.VerifyPIN(ctx, "000000")
	requireMisuse(t, err, ErrPINBlocked)
	m.AssertNotCalled(t, "VerifyPIN", mock.Anything, mock.Anything)
	assert.Equal(t, StateSecureChannelOpen, s.State())
}

func TestUsePairing(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	m.On("Select", mock.Anything).Return(ok(descriptorPayload(0, nil)), nil).Once()
	stored := &wallet.PairingMaterial{Index: 2, Key: bytes.Repeat([]byte{0x33}, wallet.PairingKeySize)}
	m.On("OpenSecureChannel", mock.Anything, testPub, stored).Return(ok(nil), nil).Once()

	s := New(m, Config{})
	_, err := s.Select(ctx)
	require.NoError(t, err)

	err = s.UsePairing(&wallet.PairingMaterial{Index: 9, Key: stored.Key})
	requireMisuse(t, err, ErrNoPairing)
	err = s.UsePairing(nil)
	requireMisuse(t, err, ErrNoPairing)

	require.NoError(t, s.UsePairing(stored))
	assert.Equal(t, StatePaired, s.State())
	require.NoError(t, s.OpenSecureChannel(ctx))
	assert.False(t, s.Report().NewPairing)
}

func TestGenerateKeyRequeriesStatus(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	s := authenticated(t, m, nil)

	m.On("GenerateKey", mock.Anything).Return(ok(testKeyUID), nil).Once()
	m.On("GetStatus", mock.Anything, wallet.StatusApplication).Return(ok(statusPayload(3, 5, true)), nil).Once()

	uid, err := s.GenerateKey(ctx)
	require.NoError(t, err)
	assert.Equal(t, testKeyUID, uid)
	assert.True(t, s.Report().Status.HasMasterKey())

	_, err = s.GenerateKey(ctx)
	requireMisuse(t, err, ErrMasterKeyPresent)
	_, err = s.LoadSeed(ctx, make([]byte, wallet.SeedSize))
	requireMisuse(t, err, ErrMasterKeyPresent)
	m.AssertNumberOfCalls(t, "GenerateKey", 1)
}

func TestSignNeedsDeriveAfterGenerate(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	s := authenticated(t, m, nil)

	m.On("GenerateKey", mock.Anything).Return(ok(testKeyUID), nil).Once()
	m.On("GetStatus", mock.Anything, wallet.StatusApplication).Return(ok(statusPayload(3, 5, true)), nil).Once()
	_, err := s.GenerateKey(ctx)
	require.NoError(t, err)

	_, err = s.Sign(ctx, make([]byte, wallet.HashSize))
	requireMisuse(t, err, ErrNoKeySelected)
	m.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything)
	assert.Equal(t, StateAuthenticated, s.State())
}

func TestLoadSeedGuards(t *testing.T) {
	m := newMockCodec()
	s := authenticated(t, m, nil)

	_, err := s.LoadSeed(context.Background(), []byte{1, 2, 3})
	requireMisuse(t, err, ErrInvalidSeed)
	m.AssertNotCalled(t, "LoadSeed", mock.Anything, mock.Anything)
}

func TestDeriveKeyGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("no master key", func(t *testing.T) {
		m := newMockCodec()
		s := authenticated(t, m, nil)
		_, err := s.DeriveKey(ctx, "m/44'/0'/0'/0/0")
		requireMisuse(t, err, ErrNoMasterKey)
	})

	t.Run("invalid path", func(t *testing.T) {
		m := newMockCodec()
		s := authenticated(t, m, testKeyUID)
		for _, p := range []string{"", "44'/0", "m/x", "m//1", "m/2147483648"} {
			_, err := s.DeriveKey(ctx, p)
			requireMisuse(t, err, ErrInvalidPath)
		}
		m.AssertNotCalled(t, "DeriveKey", mock.Anything, mock.Anything)
		assert.Equal(t, StateAuthenticated, s.State())

		_, err := s.DeriveKey(ctx, "m/x")
		assert.ErrorIs(t, err, wallet.ErrInvalidPath)
		if n := strings.Count(err.Error(), "invalid derivation path"); n != 1 {
			t.Errorf("DeriveKey() error = %q, reason repeated %d times", err, n)
		}
	})

	t.Run("valid path", func(t *testing.T) {
		m := newMockCodec()
		s := authenticated(t, m, testKeyUID)
		want := wallet.DerivationPath{44 | wallet.HardenedOffset, 0 | wallet.HardenedOffset, 0 | wallet.HardenedOffset, 0, 0}
		m.On("DeriveKey", mock.Anything, want).Return(ok(nil), nil).Once()

		got, err := s.DeriveKey(ctx, "m/44'/0'/0'/0/0")
		require.NoError(t, err)
		assert.True(t, want.Equal(got))
		assert.True(t, want.Equal(s.Report().Path))
	})
}

func TestSignGuards(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	s := authenticated(t, m, testKeyUID)

	_, err := s.Sign(ctx, make([]byte, wallet.HashSize))
	requireMisuse(t, err, ErrNoKeySelected)

	m.On("DeriveKey", mock.Anything, mock.Anything).Return(ok(nil), nil).Once()
	_, err = s.DeriveKey(ctx, "m/0")
	require.NoError(t, err)

	_, err = s.Sign(ctx, []byte("short"))
	requireMisuse(t, err, ErrInvalidHash)
	m.AssertNotCalled(t, "Sign", mock.Anything, mock.Anything)
}

func TestSignMalformedSignature(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	s := authenticated(t, m, testKeyUID)
	m.On("DeriveKey", mock.Anything, mock.Anything).Return(ok(nil), nil).Once()
	m.On("Sign", mock.Anything, mock.Anything).Return(ok([]byte{0xA0, 0x02, 0x80, 0x00}), nil).Once()

	_, err := s.DeriveKey(ctx, "m/0")
	require.NoError(t, err)
	_, err = s.Sign(ctx, make([]byte, wallet.HashSize))

	var me *MalformedResponseError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, StateFailed, s.State())
	assert.Empty(t, s.Report().Signatures)
}

func TestUnpairTerminates(t *testing.T) {
	ctx := context.Background()
	m := newMockCodec()
	s := authenticated(t, m, nil)
	m.On("UnpairOthers", mock.Anything).Return(ok(nil), nil).Once()
	m.On("Unpair", mock.Anything, uint8(1)).Return(ok(nil), nil).Once()

	require.NoError(t, s.UnpairOthers(ctx))
	assert.Equal(t, StateAuthenticated, s.State())
	require.NoError(t, s.Unpair(ctx))
	assert.Equal(t, StateTerminated, s.State())
	assert.Nil(t, s.Pairing())

	_, err := s.GetStatus(ctx)
	requireMisuse(t, err, ErrSessionClosed)
	err = s.VerifyPIN(ctx, "000000")
	requireMisuse(t, err, ErrSessionClosed)

	out := s.Report()
	assert.True(t, out.Success())
	assert.Nil(t, out.Pairing)
	assert.False(t, out.EndedAt.IsZero())
}

func TestFinishAndAbort(t *testing.T) {
	t.Run("finish", func(t *testing.T) {
		s := New(newMockCodec(), Config{})
		s.Finish()
		assert.Equal(t, StateTerminated, s.State())
		s.Abort(errors.New("late"))
		assert.Equal(t, StateTerminated, s.State())
		assert.Nil(t, s.Err())
	})

	t.Run("abort", func(t *testing.T) {
		s := New(newMockCodec(), Config{})
		s.Abort(nil)
		assert.Equal(t, StateFailed, s.State())
		assert.ErrorIs(t, s.Err(), ErrTokenRemoved)
		kind, _ := KindOf(s.Err())
		assert.Equal(t, KindTransport, kind)
	})
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
		ok   bool
	}{
		{&TransportError{Op: "x", Err: transport.ErrClosed}, KindTransport, true},
		{&StatusError{Op: "x", Code: apdu.SwWrongData}, KindStatus, true},
		{&MalformedResponseError{Op: "x", Err: wallet.ErrMalformedResponse}, KindMalformed, true},
		{misuse("x", StateConnected, ErrWrongState), KindMisuse, true},
		{errors.New("other"), 0, false},
	}
	for _, tt := range tests {
		got, ok := KindOf(tt.err)
		if got != tt.want || ok != tt.ok {
			t.Errorf("KindOf(%v) = %v, %v, want %v, %v", tt.err, got, ok, tt.want, tt.ok)
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateDisconnected, "DISCONNECTED"},
		{StateAlreadyInitialized, "ALREADY_INITIALIZED"},
		{StateSecureChannelOpen, "SECURE_CHANNEL_OPEN"},
		{StateFailed, "FAILED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
	assert.True(t, StateTerminated.IsTerminal())
	assert.False(t, StateAuthenticated.IsTerminal())
}
