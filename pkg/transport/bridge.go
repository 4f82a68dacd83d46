package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"
)

// BridgeConfig configures a Bridge.
type BridgeConfig struct {
	// Address to listen on, for example "127.0.0.1:7816".
	Address string

	// ExchangeTimeout bounds each exchange without a context deadline.
	ExchangeTimeout time.Duration

	// Logger for operational messages. Nil discards.
	Logger *slog.Logger
}

// Bridge accepts token connections and reports each one as a presence.
type Bridge struct {
	config   BridgeConfig
	monitor  *Monitor
	listener net.Listener
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[string]*StreamChannel
}

// NewBridge starts listening on config.Address.
func NewBridge(config BridgeConfig, monitor *Monitor) (*Bridge, error) {
	ln, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, err
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Bridge{
		config:   config,
		monitor:  monitor,
		listener: ln,
		logger:   logger,
		channels: make(map[string]*StreamChannel),
	}, nil
}

// Addr returns the listen address.
func (b *Bridge) Addr() net.Addr {
	return b.listener.Addr()
}

// Serve accepts connections until ctx is done or the listener fails.
func (b *Bridge) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { b.listener.Close() })
	defer stop()
	defer b.closeAll()

	for {
		conn, err := b.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		b.accept(conn)
	}
}

func (b *Bridge) accept(conn net.Conn) {
	remote := conn.RemoteAddr().String()

	var id string
	ready := make(chan struct{})
	ch := NewStreamChannel(conn,
		WithExchangeTimeout(b.config.ExchangeTimeout),
		WithCloseHook(func() {
			<-ready
			b.mu.Lock()
			delete(b.channels, id)
			b.mu.Unlock()
			if id == "" {
				return
			}
			// Reported asynchronously: the closer may be the event consumer.
			go func() { _ = b.monitor.NotifyDisconnected(id) }()
			b.logger.Debug("token removed", "presence", id, "remote", remote)
		}),
	)

	var err error
	id, err = b.monitor.NotifyConnected(ch, remote)
	if err == nil {
		b.mu.Lock()
		b.channels[id] = ch
		b.mu.Unlock()
	}
	close(ready)
	if err != nil {
		b.logger.Warn("dropping token connection", "remote", remote, "error", err)
		ch.Close()
		return
	}
	b.logger.Debug("token present", "presence", id, "remote", remote)
}

// Active returns the number of open presences.
func (b *Bridge) Active() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

func (b *Bridge) closeAll() {
	b.mu.Lock()
	chans := make([]*StreamChannel, 0, len(b.channels))
	for _, ch := range b.channels {
		chans = append(chans, ch)
	}
	b.mu.Unlock()

	for _, ch := range chans {
		ch.Close()
	}
}

// Close stops accepting connections.
func (b *Bridge) Close() error {
	return b.listener.Close()
}
