package transport

import (
	"context"
	"time"

	"github.com/hwlite/hwlite-go/pkg/log"
)

// TracingChannel records every frame of the wrapped Channel to a protocol log.
type TracingChannel struct {
	inner     Channel
	logger    log.Logger
	sessionID string
}

// NewTracingChannel wraps ch. A nil logger returns ch unchanged.
func NewTracingChannel(ch Channel, logger log.Logger, sessionID string) Channel {
	if logger == nil {
		return ch
	}
	return &TracingChannel{inner: ch, logger: logger, sessionID: sessionID}
}

// Exchange forwards to the wrapped channel and logs both frames.
func (c *TracingChannel) Exchange(ctx context.Context, request []byte) ([]byte, error) {
	c.logger.Log(frameEvent(c.sessionID, log.RoleHost, log.DirectionOut, request))

	resp, err := c.inner.Exchange(ctx, request)
	if err != nil {
		c.logger.Log(log.Event{
			Timestamp: time.Now(),
			SessionID: c.sessionID,
			Layer:     log.LayerTransport,
			Category:  log.CategoryError,
			LocalRole: log.RoleHost,
			Error: &log.ErrorEventData{
				Layer:   log.LayerTransport,
				Message: err.Error(),
				Context: "exchange",
			},
		})
		return nil, err
	}

	c.logger.Log(frameEvent(c.sessionID, log.RoleHost, log.DirectionIn, resp))
	return resp, nil
}

// Close closes the wrapped channel.
func (c *TracingChannel) Close() error {
	return c.inner.Close()
}

func frameEvent(sessionID string, role log.Role, dir log.Direction, data []byte) log.Event {
	frame := &log.FrameEvent{Size: len(data), Data: data}
	if len(data) > MaxLogFrameDataSize {
		frame.Data = data[:MaxLogFrameDataSize]
		frame.Truncated = true
	}
	return log.Event{
		Timestamp: time.Now(),
		SessionID: sessionID,
		Direction: dir,
		Layer:     log.LayerTransport,
		Category:  log.CategoryMessage,
		LocalRole: role,
		Frame:     frame,
	}
}

var _ Channel = (*TracingChannel)(nil)
