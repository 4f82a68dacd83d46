package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// StreamChannel is a Channel over a framed stream connection.
type StreamChannel struct {
	mu      sync.Mutex
	conn    net.Conn
	framer  *Framer
	timeout time.Duration
	failed  error

	closed    atomic.Bool
	closeOnce sync.Once
	onClose   func()
}

// StreamOption configures a StreamChannel.
type StreamOption func(*StreamChannel)

// WithExchangeTimeout bounds exchanges whose context has no deadline.
func WithExchangeTimeout(d time.Duration) StreamOption {
	return func(c *StreamChannel) { c.timeout = d }
}

// WithCloseHook runs fn once when the channel closes.
func WithCloseHook(fn func()) StreamOption {
	return func(c *StreamChannel) { c.onClose = fn }
}

// NewStreamChannel wraps conn. The channel owns conn from now on.
func NewStreamChannel(conn net.Conn, opts ...StreamOption) *StreamChannel {
	c := &StreamChannel{
		conn:   conn,
		framer: NewFramer(conn),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange writes request and reads one response frame. Exchanges are
// serialized; a failed exchange revokes the channel.
func (c *StreamChannel) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return nil, &Error{Op: "exchange", Err: ErrClosed}
	}
	if c.failed != nil {
		return nil, &Error{Op: "exchange", Err: errors.Join(ErrRevoked, c.failed)}
	}
	if err := ctx.Err(); err != nil {
		return nil, c.fail(err)
	}

	deadline, ok := ctx.Deadline()
	if !ok && c.timeout > 0 {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return nil, c.fail(err)
	}
	// Cancellation interrupts blocked I/O by moving the deadline into the past.
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	if err := c.framer.WriteFrame(request); err != nil {
		return nil, c.fail(c.cause(ctx, err))
	}
	resp, err := c.framer.ReadFrame()
	if err != nil {
		return nil, c.fail(c.cause(ctx, err))
	}
	return resp, nil
}

// cause prefers the context error over the I/O error it produced.
func (c *StreamChannel) cause(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if c.closed.Load() {
		return ErrClosed
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	if errors.Is(err, io.EOF) {
		return ErrClosed
	}
	return err
}

func (c *StreamChannel) fail(err error) error {
	c.failed = err
	return Wrap("exchange", err)
}

// Close closes the connection and unblocks any exchange in progress.
func (c *StreamChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

// RemoteAddr returns the peer address.
func (c *StreamChannel) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

var _ Channel = (*StreamChannel)(nil)
