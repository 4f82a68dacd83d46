package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout bounds how long one session may hold the gate.
const DefaultSessionTimeout = 60 * time.Second

// GateState is the state of the single-session gate.
type GateState uint8

const (
	// GateIdle means no session is being driven.
	GateIdle GateState = iota

	// GateBusy means a session owns the token field.
	GateBusy
)

// String returns the gate state name.
func (s GateState) String() string {
	switch s {
	case GateIdle:
		return "IDLE"
	case GateBusy:
		return "BUSY"
	default:
		return "UNKNOWN"
	}
}

// Gate errors.
var (
	ErrGateBusy       = errors.New("a session is already active")
	ErrGateIdle       = errors.New("no session is active")
	ErrUnknownSession = errors.New("session does not own the gate")
)

// Gate admits at most one session at a time. A timer fires onTimeout when
// the active session exceeds its time budget; the owner still has to call
// End.
type Gate struct {
	mu sync.RWMutex

	state      GateState
	sessionID  string
	presenceID string
	startedAt  time.Time
	timeout    time.Duration
	timer      *time.Timer

	onStateChange func(oldState, newState GateState)
	onTimeout     func(sessionID string)
}

// NewGate creates an idle gate. A timeout of zero disables the timer.
func NewGate(timeout time.Duration) *Gate {
	return &Gate{timeout: timeout}
}

// State returns the gate state.
func (g *Gate) State() GateState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Active returns the session and presence holding the gate.
func (g *Gate) Active() (sessionID, presenceID string, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessionID, g.presenceID, g.state == GateBusy
}

// Begin claims the gate for presenceID and returns a new session ID.
func (g *Gate) Begin(presenceID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == GateBusy {
		return "", ErrGateBusy
	}

	oldState := g.state
	g.state = GateBusy
	g.sessionID = uuid.NewString()
	g.presenceID = presenceID
	g.startedAt = time.Now()

	if g.timeout > 0 {
		id := g.sessionID
		g.timer = time.AfterFunc(g.timeout, func() {
			g.handleTimeout(id)
		})
	}

	if g.onStateChange != nil {
		g.onStateChange(oldState, g.state)
	}
	return g.sessionID, nil
}

// End releases the gate held by sessionID.
func (g *Gate) End(sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != GateBusy {
		return ErrGateIdle
	}
	if g.sessionID != sessionID {
		return ErrUnknownSession
	}

	oldState := g.state
	g.state = GateIdle
	g.sessionID = ""
	g.presenceID = ""
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}

	if g.onStateChange != nil {
		g.onStateChange(oldState, g.state)
	}
	return nil
}

// Elapsed returns how long the active session has held the gate.
func (g *Gate) Elapsed() time.Duration {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.state == GateIdle {
		return 0
	}
	return time.Since(g.startedAt)
}

// OnStateChange sets a callback for state changes.
func (g *Gate) OnStateChange(fn func(oldState, newState GateState)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onStateChange = fn
}

// OnTimeout sets a callback for when the active session runs out of time.
func (g *Gate) OnTimeout(fn func(sessionID string)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onTimeout = fn
}

func (g *Gate) handleTimeout(sessionID string) {
	g.mu.Lock()
	if g.state != GateBusy || g.sessionID != sessionID {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	fn := g.onTimeout
	g.mu.Unlock()

	// Called outside the lock so the callback may End the session.
	if fn != nil {
		fn(sessionID)
	}
}
