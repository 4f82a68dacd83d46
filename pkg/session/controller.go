package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hwlite/hwlite-go/pkg/command"
	"github.com/hwlite/hwlite-go/pkg/log"
	"github.com/hwlite/hwlite-go/pkg/transport"
)

// ErrSessionTimeout cancels a session that exceeded its time budget.
var ErrSessionTimeout = errors.New("session timed out")

// Procedure drives one session. It is called with a session in
// StateConnected and returns when it is done with the token. A nil return
// on a non-terminal session finishes it cleanly.
type Procedure func(ctx context.Context, s *Session) error

// CodecFactory builds the codec for a new presence.
type CodecFactory func(ch transport.Channel, sessionID string) Codec

// ControllerConfig configures a Controller.
type ControllerConfig struct {
	// Procedure is run for every admitted presence. Required.
	Procedure Procedure

	// NewCodec overrides the default command.CommandSet codec.
	NewCodec CodecFactory

	// CommandOptions are passed to the default codec.
	CommandOptions []command.Option

	// SessionTimeout bounds one session. Zero uses DefaultSessionTimeout;
	// negative disables the limit.
	SessionTimeout time.Duration

	Logger         *slog.Logger
	ProtocolLogger log.Logger

	// OnOutcome receives exactly one report per admitted presence.
	OnOutcome func(Outcome)

	// OnStateChange observes session transitions.
	OnStateChange func(sessionID string, old, new State)

	// OnIgnored is called for presence events dropped while busy.
	OnIgnored func(ev transport.Event)
}

// Controller consumes presence events and drives at most one session at a
// time. Connect events that arrive while a session is active are ignored;
// a disconnect of the active presence cancels its session.
type Controller struct {
	cfg    ControllerConfig
	gate   *Gate
	logger *slog.Logger

	mu     sync.Mutex
	active *activeSession
	wg     sync.WaitGroup
}

type activeSession struct {
	id         string
	presenceID string
	ch         transport.Channel
	cancel     context.CancelCauseFunc
	removed    atomic.Bool
}

// NewController creates a controller.
func NewController(cfg ControllerConfig) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.SessionTimeout
	switch {
	case timeout == 0:
		timeout = DefaultSessionTimeout
	case timeout < 0:
		timeout = 0
	}

	c := &Controller{
		cfg:    cfg,
		gate:   NewGate(timeout),
		logger: logger,
	}
	c.gate.OnTimeout(c.handleTimeout)
	return c
}

// Busy reports whether a session is active.
func (c *Controller) Busy() bool {
	return c.gate.State() == GateBusy
}

// Run consumes events until ctx is done or events is closed, then waits
// for the active session to end.
func (c *Controller) Run(ctx context.Context, events <-chan transport.Event) error {
	defer c.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			c.cancelActive(context.Cause(ctx))
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			c.handleEvent(ctx, ev)
		}
	}
}

func (c *Controller) handleEvent(ctx context.Context, ev transport.Event) {
	c.logPresence(ev)

	switch ev.Kind {
	case transport.EventConnected:
		c.admit(ctx, ev)
	case transport.EventDisconnected:
		c.mu.Lock()
		a := c.active
		c.mu.Unlock()
		if a == nil || a.presenceID != ev.PresenceID {
			c.logger.Debug("disconnect for inactive presence", "presence", ev.PresenceID)
			return
		}
		a.removed.Store(true)
		a.cancel(ErrTokenRemoved)
	}
}

func (c *Controller) admit(ctx context.Context, ev transport.Event) {
	if ev.Channel == nil {
		c.logger.Warn("connect event without channel", "presence", ev.PresenceID)
		return
	}
	id, err := c.gate.Begin(ev.PresenceID)
	if err != nil {
		activeID, activePresence, _ := c.gate.Active()
		c.logger.Info("ignoring overlapping presence",
			"presence", ev.PresenceID, "active_session", activeID, "active_presence", activePresence)
		if c.cfg.OnIgnored != nil {
			c.cfg.OnIgnored(ev)
		}
		return
	}

	sessCtx, cancel := context.WithCancelCause(ctx)
	a := &activeSession{id: id, presenceID: ev.PresenceID, ch: ev.Channel, cancel: cancel}
	c.mu.Lock()
	c.active = a
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.drive(sessCtx, a)
	}()
}

func (c *Controller) drive(ctx context.Context, a *activeSession) {
	defer a.cancel(nil)

	var onState func(old, new State)
	if c.cfg.OnStateChange != nil {
		onState = func(old, new State) { c.cfg.OnStateChange(a.id, old, new) }
	}
	s := New(c.newCodec(a.ch, a.id), Config{
		ID:             a.id,
		PresenceID:     a.presenceID,
		Logger:         c.logger,
		ProtocolLogger: c.cfg.ProtocolLogger,
		OnStateChange:  onState,
	})

	err := c.cfg.Procedure(ctx, s)
	switch {
	case s.State().IsTerminal():
	case a.removed.Load():
		s.Abort(&TransportError{Op: OpPresence, Err: ErrTokenRemoved})
	case err != nil:
		s.Abort(err)
	default:
		s.Finish()
	}

	if cerr := a.ch.Close(); cerr != nil {
		c.logger.Debug("channel close", "session", a.id, "error", cerr)
	}

	outcome := s.Report()
	if outcome.Success() {
		c.logger.Info("session complete", "session", a.id, "token", outcome.TokenID(), "duration", outcome.Duration())
	} else {
		c.logger.Warn("session failed", "session", a.id, "token", outcome.TokenID(), "error", outcome.Err)
	}

	c.mu.Lock()
	if c.active == a {
		c.active = nil
	}
	c.mu.Unlock()
	if err := c.gate.End(a.id); err != nil {
		c.logger.Error("gate release", "session", a.id, "error", err)
	}

	if c.cfg.OnOutcome != nil {
		c.cfg.OnOutcome(outcome)
	}
}

func (c *Controller) newCodec(ch transport.Channel, sessionID string) Codec {
	if c.cfg.NewCodec != nil {
		return c.cfg.NewCodec(ch, sessionID)
	}
	opts := c.cfg.CommandOptions
	if c.cfg.ProtocolLogger != nil {
		ch = transport.NewTracingChannel(ch, c.cfg.ProtocolLogger, sessionID)
		opts = append([]command.Option{command.WithProtocolLogger(c.cfg.ProtocolLogger, sessionID)}, opts...)
	}
	return command.NewCommandSet(ch, opts...)
}

func (c *Controller) handleTimeout(sessionID string) {
	c.mu.Lock()
	a := c.active
	c.mu.Unlock()
	if a != nil && a.id == sessionID {
		c.logger.Warn("session timeout", "session", sessionID)
		a.cancel(ErrSessionTimeout)
	}
}

func (c *Controller) cancelActive(cause error) {
	c.mu.Lock()
	a := c.active
	c.mu.Unlock()
	if a != nil {
		a.cancel(cause)
	}
}

func (c *Controller) logPresence(ev transport.Event) {
	if c.cfg.ProtocolLogger == nil {
		return
	}
	state := "PRESENT"
	if ev.Kind == transport.EventDisconnected {
		state = "REMOVED"
	}
	log.Emit(c.cfg.ProtocolLogger, log.Event{
		Timestamp:  ev.At,
		SessionID:  ev.PresenceID,
		Layer:      log.LayerSession,
		Category:   log.CategoryPresence,
		RemoteAddr: ev.RemoteAddr,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityPresence,
			NewState: state,
			Reason:   ev.Kind.String(),
		},
	})
}
