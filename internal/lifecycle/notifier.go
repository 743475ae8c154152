// Package lifecycle carries connection lifecycle notifications from a
// producer or consumer to whoever owns it. The owner polls a channel.
package lifecycle

import (
	"sync"
	"time"
)

type EventType string

const (
	Connected    EventType = "connected"
	Disconnected EventType = "disconnected"
	Crashed      EventType = "crashed"
	Stopped      EventType = "stopped"
)

type Event struct {
	Type      EventType
	Component string
	Timestamp time.Time
	Err       error
}

const defaultBuffer = 16

// Notifier never blocks the publishing side. When the buffer is full the
// oldest pending event is discarded in favour of the new one.
type Notifier struct {
	mu        sync.Mutex
	component string
	ch        chan Event
	closed    bool
}

func NewNotifier(component string, buffer int) *Notifier {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Notifier{
		component: component,
		ch:        make(chan Event, buffer),
	}
}

func (n *Notifier) C() <-chan Event {
	return n.ch
}

func (n *Notifier) Notify(eventType EventType, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	ev := Event{Type: eventType, Component: n.component, Timestamp: time.Now().UTC(), Err: err}
	for {
		select {
		case n.ch <- ev:
			return
		default:
		}
		select {
		case <-n.ch:
		default:
		}
	}
}

// Close closes the channel. Later notifications are ignored.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.closed = true
		close(n.ch)
	}
}
