package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hwlite/hwlite-go/internal/simulator"
	"github.com/hwlite/hwlite-go/pkg/apdu"
	"github.com/hwlite/hwlite-go/pkg/session"
	"github.com/hwlite/hwlite-go/pkg/transport"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()
	if r.registry == nil {
		t.Fatal("registry field is nil")
	}
	if r.SessionsActive == nil || r.SessionsTotal == nil || r.ExchangesTotal == nil {
		t.Error("metric fields are nil")
	}
}

func TestHandler(t *testing.T) {
	r := NewRegistry()
	r.ObserveExchange("SELECT", apdu.SwOK, time.Millisecond, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{"go_goroutines", "hwlite_exchanges_total", `command="SELECT"`} {
		if !strings.Contains(string(body), want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestObserveExchange(t *testing.T) {
	r := NewRegistry()
	r.ObserveExchange("VERIFY_PIN", apdu.Status(0x63C2), time.Millisecond, nil)
	r.ObserveExchange("VERIFY_PIN", apdu.Status(0x63C2), time.Millisecond, nil)
	r.ObserveExchange("SIGN", 0, time.Millisecond, errors.New("link lost"))

	assert.Equal(t, 2.0, testutil.ToFloat64(r.ExchangesTotal.WithLabelValues("VERIFY_PIN", "63C2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ExchangesTotal.WithLabelValues("SIGN", "error")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.ExchangeDuration))
}

func TestObserveStateChange(t *testing.T) {
	r := NewRegistry()
	r.ObserveStateChange("s", session.StateDisconnected, session.StateConnected)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SessionsActive))

	r.ObserveStateChange("s", session.StateConnected, session.StateAppletSelected)
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SessionsActive))

	r.ObserveStateChange("s", session.StateAppletSelected, session.StateFailed)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Transitions.WithLabelValues("FAILED")))
}

func TestResultLabel(t *testing.T) {
	tests := []struct {
		name string
		out  session.Outcome
		want string
	}{
		{"success", session.Outcome{State: session.StateTerminated}, ResultSuccess},
		{"transport", session.Outcome{State: session.StateFailed, Err: &session.TransportError{Op: session.OpSelect, Err: io.EOF}}, "transport"},
		{"status", session.Outcome{State: session.StateFailed, Err: &session.StatusError{Op: session.OpVerifyPIN, Code: 0x63C1}}, "status"},
		{"malformed", session.Outcome{State: session.StateFailed, Err: &session.MalformedResponseError{Op: session.OpSign, Err: io.ErrUnexpectedEOF}}, "malformed"},
		{"misuse", session.Outcome{State: session.StateFailed, Err: &session.ProtocolMisuseError{Op: session.OpSign, State: session.StatePaired, Reason: session.ErrWrongState}}, "misuse"},
		{"unclassified", session.Outcome{State: session.StateFailed, Err: errors.New("x")}, ResultUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResultLabel(tt.out); got != tt.want {
				t.Errorf("ResultLabel() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInstrumentController(t *testing.T) {
	tok, err := simulator.New(simulator.Config{})
	require.NoError(t, err)

	r := NewRegistry()
	outcomes := make(chan session.Outcome, 1)
	cfg := session.ControllerConfig{
		Procedure: session.StandardFlow(session.DefaultFlowConfig()),
		OnOutcome: func(o session.Outcome) { outcomes <- o },
	}
	r.Instrument(&cfg)

	monitor := transport.NewMonitor(4)
	c := session.NewController(cfg)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, monitor.Events())

	_, err = monitor.NotifyConnected(tok.Tap(), "sim")
	require.NoError(t, err)

	select {
	case o := <-outcomes:
		require.True(t, o.Success(), "err = %v", o.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome")
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(r.SessionsTotal.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.SessionsActive))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.ExchangesTotal.WithLabelValues("SIGN", "9000")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.Transitions.WithLabelValues("AUTHENTICATED")))
	assert.Equal(t, 1, testutil.CollectAndCount(r.SessionDuration))
}
