package simulator

import (
	"context"
	"sync"

	"github.com/hwlite/hwlite-go/pkg/transport"
)

// Hook intercepts an exchange. n counts exchanges on the channel from 1.
// resp is what the token answered; the hook returns what the host sees.
type Hook func(ctx context.Context, n int, req, resp []byte) ([]byte, error)

// Channel is an in-memory transport.Channel to a Token.
type Channel struct {
	token *Token

	mu       sync.Mutex
	closed   bool
	count    int
	hook     Hook
	requests [][]byte
}

var _ transport.Channel = (*Channel)(nil)

// Tap brings the token into the field: transient state is reset and a new
// channel is returned.
func (t *Token) Tap() *Channel {
	t.Reset()
	return &Channel{token: t}
}

// SetHook installs a fault-injection hook.
func (c *Channel) SetHook(h Hook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hook = h
}

// Exchange implements transport.Channel.
func (c *Channel) Exchange(ctx context.Context, req []byte) ([]byte, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, transport.Wrap("exchange", transport.ErrClosed)
	}
	c.count++
	n := c.count
	hook := c.hook
	c.requests = append(c.requests, append([]byte(nil), req...))
	c.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, transport.Wrap("exchange", err)
	}

	resp := c.token.Process(req)
	if hook == nil {
		return resp, nil
	}
	out, err := hook(ctx, n, req, resp)
	if err != nil {
		return nil, transport.Wrap("exchange", err)
	}
	return out, nil
}

// Close implements transport.Channel. The token leaves the field.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.token.Reset()
	}
	return nil
}

// Exchanges returns the number of Exchange calls.
func (c *Channel) Exchanges() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Requests returns copies of every request frame sent.
func (c *Channel) Requests() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.requests))
	copy(out, c.requests)
	return out
}
