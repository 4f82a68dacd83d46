package transport

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/hwlite/hwlite-go/pkg/log"
)

// FrameHandler answers one request frame on the token side.
type FrameHandler func(request []byte) []byte

// ServeConfig configures ServeFrames.
type ServeConfig struct {
	// ProtocolLogger records frames as RoleToken. Nil disables.
	ProtocolLogger log.Logger

	// SessionID tags logged frames.
	SessionID string
}

// ServeFrames answers request frames on conn until the peer closes it or
// ctx is done. A clean peer close returns nil.
func ServeFrames(ctx context.Context, conn net.Conn, handler FrameHandler, config ServeConfig) error {
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	framer := NewFramer(conn)
	if config.ProtocolLogger != nil {
		framer.SetLogger(config.ProtocolLogger, config.SessionID, log.RoleToken)
	}

	for {
		req, err := framer.ReadFrame()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		if err := framer.WriteFrame(handler(req)); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}
