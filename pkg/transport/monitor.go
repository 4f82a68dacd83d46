package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultEventBuffer is the default capacity of the presence event queue.
const DefaultEventBuffer = 16

// ErrMonitorClosed is returned when notifying a closed Monitor.
var ErrMonitorClosed = errors.New("monitor closed")

// Monitor publishes token presence events to a single consumer.
type Monitor struct {
	mu        sync.RWMutex
	events    chan Event
	done      chan struct{}
	closed    bool
	closeOnce sync.Once

	now func() time.Time
}

// NewMonitor creates a Monitor with the given event buffer size.
func NewMonitor(buffer int) *Monitor {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Monitor{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

// Events returns the presence event stream. It is closed by Close.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// NotifyConnected announces a new token presence and returns its id.
func (m *Monitor) NotifyConnected(ch Channel, remoteAddr string) (string, error) {
	id := uuid.NewString()
	err := m.publish(Event{
		Kind:       EventConnected,
		PresenceID: id,
		Channel:    ch,
		RemoteAddr: remoteAddr,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// NotifyDisconnected announces that the presence left the field.
func (m *Monitor) NotifyDisconnected(presenceID string) error {
	return m.publish(Event{Kind: EventDisconnected, PresenceID: presenceID})
}

// publish blocks until the consumer accepts the event or the monitor closes.
func (m *Monitor) publish(e Event) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrMonitorClosed
	}
	e.At = m.now()
	select {
	case m.events <- e:
		return nil
	case <-m.done:
		return ErrMonitorClosed
	}
}

// Close stops the monitor and closes the event stream.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
		m.mu.Lock()
		m.closed = true
		close(m.events)
		m.mu.Unlock()
	})
}
