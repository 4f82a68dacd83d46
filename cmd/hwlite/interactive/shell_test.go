package interactive

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwlite/hwlite-go/internal/simulator"
	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/transport"
	"github.com/hwlite/hwlite-go/pkg/wallet"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf.Reset()
}

func defaultSecrets() wallet.Secrets {
	return wallet.Secrets{
		PIN:             session.DefaultPIN,
		PUK:             session.DefaultPUK,
		PairingPassword: session.DefaultPairingPassword,
	}
}

// attachShell taps tok and waits until the shell holds the session.
func attachShell(t *testing.T, tok *simulator.Token) (*Shell, *syncBuffer, <-chan session.Outcome) {
	t.Helper()
	out := &syncBuffer{}
	sh := newShell(out, Config{Secrets: defaultSecrets()})

	outcomes := make(chan session.Outcome, 1)
	c := session.NewController(session.ControllerConfig{
		Procedure:      sh.Procedure(),
		SessionTimeout: -1,
		OnOutcome: func(o session.Outcome) {
			sh.OnOutcome(o)
			outcomes <- o
		},
	})
	monitor := transport.NewMonitor(4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go c.Run(ctx, monitor.Events())

	_, err := monitor.NotifyConnected(tok.Tap(), "sim")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return sh.current() != nil }, 5*time.Second, 5*time.Millisecond)
	return sh, out, outcomes
}

func waitShellOutcome(t *testing.T, outcomes <-chan session.Outcome) session.Outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome")
		return session.Outcome{}
	}
}

func TestShellWithoutToken(t *testing.T) {
	out := &syncBuffer{}
	sh := newShell(out, Config{})

	if !sh.Exec("status") {
		t.Fatal("Exec(status) = false, want true")
	}
	if !strings.Contains(out.String(), "No token present") {
		t.Errorf("output = %q, want no-token message", out.String())
	}
	if !sh.Exec("   ") {
		t.Error("Exec(blank) = false, want true")
	}
	if sh.Exec("quit") {
		t.Error("Exec(quit) = true, want false")
	}
}

func TestShellFullSession(t *testing.T) {
	tok, err := simulator.New(simulator.Config{})
	require.NoError(t, err)
	sh, out, outcomes := attachShell(t, tok)

	steps := []struct {
		line string
		want string
	}{
		{"select", "Token is not initialized"},
		{"init", "Initialized token"},
		{"pair", "Paired in slot"},
		{"open", "Secure channel open"},
		{"status", "PIN retries: 3"},
		{"verify", "PIN verified"},
		{"generate", "Master key generated"},
		{"derive", "Derived m/44'/0'/0'/0/0"},
		{"sign", "recId="},
		{"keypath", "Current path: m/44'/0'/0'/0/0"},
		{"state", "State: AUTHENTICATED"},
		{"unpair", "Pairing removed"},
	}
	for _, step := range steps {
		out.Reset()
		require.True(t, sh.Exec(step.line))
		assert.Contains(t, out.String(), step.want, "after %q", step.line)
	}

	o := waitShellOutcome(t, outcomes)
	assert.True(t, o.Success(), "err = %v", o.Err)
	assert.Len(t, o.Signatures, 1)
	assert.Empty(t, tok.PairedSlots())
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), ": OK") }, time.Second, 5*time.Millisecond)
}

func TestShellMisuseKeepsSession(t *testing.T) {
	tok, err := simulator.New(simulator.Config{Secrets: &wallet.Secrets{
		PIN: session.DefaultPIN, PUK: session.DefaultPUK, PairingPassword: session.DefaultPairingPassword,
	}})
	require.NoError(t, err)
	sh, out, outcomes := attachShell(t, tok)

	sh.Exec("verify")
	assert.Contains(t, out.String(), "Not allowed in CONNECTED")
	assert.NotNil(t, sh.current())

	out.Reset()
	sh.Exec("select")
	assert.Contains(t, out.String(), "free pairing slots")

	sh.Exec("finish")
	o := waitShellOutcome(t, outcomes)
	assert.True(t, o.Success(), "err = %v", o.Err)
	assert.Equal(t, session.StateTerminated, o.State)
}

func TestShellWrongPIN(t *testing.T) {
	tok, err := simulator.New(simulator.Config{Secrets: &wallet.Secrets{
		PIN: session.DefaultPIN, PUK: session.DefaultPUK, PairingPassword: session.DefaultPairingPassword,
	}})
	require.NoError(t, err)
	sh, out, outcomes := attachShell(t, tok)

	for _, line := range []string{"select", "pair", "open"} {
		require.True(t, sh.Exec(line))
	}
	out.Reset()
	sh.Exec("verify 999999")
	assert.Contains(t, out.String(), "2 PIN attempts left")

	o := waitShellOutcome(t, outcomes)
	kind, ok := o.Kind()
	require.True(t, ok)
	assert.Equal(t, session.KindStatus, kind)
}

func TestShellAbort(t *testing.T) {
	tok, err := simulator.New(simulator.Config{})
	require.NoError(t, err)
	sh, _, outcomes := attachShell(t, tok)

	sh.Exec("abort")
	o := waitShellOutcome(t, outcomes)
	assert.Equal(t, session.StateFailed, o.State)
	assert.True(t, errors.Is(o.Err, ErrAborted), "err = %v", o.Err)
}

func TestShellUnknownCommand(t *testing.T) {
	tok, err := simulator.New(simulator.Config{})
	require.NoError(t, err)
	sh, out, _ := attachShell(t, tok)

	sh.Exec("teleport")
	assert.Contains(t, out.String(), "Unknown command: teleport")
	sh.Exec("abort")
}

func TestWriteReport(t *testing.T) {
	start := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	o := session.Outcome{
		SessionID: "abcdef0123456789",
		State:     session.StateFailed,
		Err:       &session.StatusError{Op: session.OpVerifyPIN, Code: 0x63C1},
		StartedAt: start,
		EndedAt:   start.Add(1500 * time.Millisecond),
		Status:    &wallet.StatusDescriptor{PINRetryCount: 1, PUKRetryCount: 5},
	}

	var buf bytes.Buffer
	WriteReport(&buf, o)
	got := buf.String()
	for _, want := range []string{"FAILED (STATUS)", "Duration: 1.5s", "Retries:  PIN 1, PUK 5", "verify_pin"} {
		if !strings.Contains(got, want) {
			t.Errorf("WriteReport() missing %q in:\n%s", want, got)
		}
	}

	if s := Summary(o); !strings.HasPrefix(s, "session abcdef01 ") || !strings.Contains(s, "state=FAILED") {
		t.Errorf("Summary() = %q", s)
	}
}
