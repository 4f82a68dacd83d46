package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwlite/hwlite-go/internal/simulator"
	"github.com/hwlite/hwlite-go/pkg/log"
	"github.com/hwlite/hwlite-go/pkg/transport"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []log.Event
}

func (r *eventRecorder) Log(e log.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) layers() map[log.Layer]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[log.Layer]int)
	for _, e := range r.events {
		out[e.Layer]++
	}
	return out
}

func startController(t *testing.T, cfg ControllerConfig) (*transport.Monitor, <-chan Outcome, func()) {
	t.Helper()
	outcomes := make(chan Outcome, 8)
	cfg.OnOutcome = func(o Outcome) { outcomes <- o }

	monitor := transport.NewMonitor(8)
	c := NewController(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, monitor.Events()) }()

	stop := func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("controller did not stop")
		}
	}
	return monitor, outcomes, stop
}

func waitOutcome(t *testing.T, outcomes <-chan Outcome) Outcome {
	t.Helper()
	select {
	case o := <-outcomes:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome")
		return Outcome{}
	}
}

func TestControllerRunsStandardFlow(t *testing.T) {
	tok := newSimToken(t, simulator.Config{})
	rec := &eventRecorder{}
	var mu sync.Mutex
	var seen []State

	monitor, outcomes, stop := startController(t, ControllerConfig{
		Procedure:      StandardFlow(DefaultFlowConfig()),
		ProtocolLogger: rec,
		OnStateChange: func(_ string, _, new State) {
			mu.Lock()
			seen = append(seen, new)
			mu.Unlock()
		},
	})
	defer stop()

	presence, err := monitor.NotifyConnected(tok.Tap(), "sim")
	require.NoError(t, err)

	out := waitOutcome(t, outcomes)
	require.True(t, out.Success(), "err = %v", out.Err)
	assert.Equal(t, presence, out.PresenceID)

	mu.Lock()
	assert.Contains(t, seen, StateAuthenticated)
	assert.Equal(t, StateTerminated, seen[len(seen)-1])
	mu.Unlock()

	layers := rec.layers()
	assert.Positive(t, layers[log.LayerTransport])
	assert.Positive(t, layers[log.LayerCodec])
	assert.Positive(t, layers[log.LayerSession])
}

func TestControllerIgnoresOverlappingPresence(t *testing.T) {
	tok := newSimToken(t, simulator.Config{})
	release := make(chan struct{})
	started := make(chan struct{}, 4)
	ignored := make(chan transport.Event, 4)

	monitor, outcomes, stop := startController(t, ControllerConfig{
		Procedure: func(ctx context.Context, s *Session) error {
			started <- struct{}{}
			<-release
			return nil
		},
		OnIgnored: func(ev transport.Event) { ignored <- ev },
	})
	defer stop()

	first, err := monitor.NotifyConnected(tok.Tap(), "a")
	require.NoError(t, err)
	<-started

	second, err := monitor.NotifyConnected(tok.Tap(), "b")
	require.NoError(t, err)
	select {
	case ev := <-ignored:
		assert.Equal(t, second, ev.PresenceID)
	case <-time.After(2 * time.Second):
		t.Fatal("overlapping presence was not ignored")
	}

	close(release)
	out := waitOutcome(t, outcomes)
	assert.Equal(t, first, out.PresenceID)
	assert.True(t, out.Success())

	select {
	case o := <-outcomes:
		t.Fatalf("unexpected second outcome for %s", o.PresenceID)
	case <-time.After(50 * time.Millisecond):
	}

	// Once idle, the next presence is admitted again.
	third, err := monitor.NotifyConnected(tok.Tap(), "c")
	require.NoError(t, err)
	out = waitOutcome(t, outcomes)
	assert.Equal(t, third, out.PresenceID)
}

func TestControllerDisconnectCancelsSession(t *testing.T) {
	tok := newSimToken(t, simulator.Config{})
	ch := tok.Tap()
	blocked := make(chan struct{})
	ch.SetHook(func(ctx context.Context, n int, _, resp []byte) ([]byte, error) {
		if n == 3 {
			close(blocked)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return resp, nil
	})

	monitor, outcomes, stop := startController(t, ControllerConfig{
		Procedure: StandardFlow(DefaultFlowConfig()),
	})
	defer stop()

	presence, err := monitor.NotifyConnected(ch, "sim")
	require.NoError(t, err)
	<-blocked
	require.NoError(t, monitor.NotifyDisconnected(presence))

	out := waitOutcome(t, outcomes)
	assert.Equal(t, StateFailed, out.State)
	kind, ok := out.Kind()
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)

	// Exchange 3 was the last one; nothing is retried on the revoked channel.
	assert.Equal(t, 3, ch.Exchanges())
}

func TestControllerSessionTimeout(t *testing.T) {
	tok := newSimToken(t, simulator.Config{})
	ch := tok.Tap()
	ch.SetHook(func(ctx context.Context, n int, _, resp []byte) ([]byte, error) {
		if n == 1 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return resp, nil
	})

	monitor, outcomes, stop := startController(t, ControllerConfig{
		Procedure:      StandardFlow(DefaultFlowConfig()),
		SessionTimeout: 50 * time.Millisecond,
	})
	defer stop()

	_, err := monitor.NotifyConnected(ch, "sim")
	require.NoError(t, err)

	out := waitOutcome(t, outcomes)
	kind, _ := out.Kind()
	assert.Equal(t, KindTransport, kind)
}

func TestControllerProcedureMisuseIsReported(t *testing.T) {
	tok := newSimToken(t, simulator.Config{})
	monitor, outcomes, stop := startController(t, ControllerConfig{
		Procedure: func(ctx context.Context, s *Session) error {
			return s.VerifyPIN(ctx, DefaultPIN)
		},
	})
	defer stop()

	_, err := monitor.NotifyConnected(tok.Tap(), "sim")
	require.NoError(t, err)

	out := waitOutcome(t, outcomes)
	assert.Equal(t, StateFailed, out.State)
	var pe *ProtocolMisuseError
	assert.ErrorAs(t, out.Err, &pe)
}

func TestControllerStopsWhenEventsClose(t *testing.T) {
	monitor := transport.NewMonitor(1)
	c := NewController(ControllerConfig{Procedure: func(context.Context, *Session) error { return nil }})

	done := make(chan error, 1)
	go func() { done <- c.Run(context.Background(), monitor.Events()) }()
	monitor.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, c.Busy())
}
