package connection

import (
	"sync"
	"time"

	"github.com/nerrad567/drivelink/internal/driver"
)

// EventKind names a connection state transition.
type EventKind string

const (
	EventConnected         EventKind = "connected"
	EventDisconnected      EventKind = "disconnected"
	EventLost              EventKind = "lost"
	EventRecovered         EventKind = "recovered"
	EventAttemptFailed     EventKind = "attempt_failed"
	EventIdentityMismatch  EventKind = "identity_mismatch"
	EventExhausted         EventKind = "exhausted"
	EventProtectedStarted  EventKind = "protected_started"
	EventProtectedFailed   EventKind = "protected_failed"
	EventRecoveryAttempted EventKind = "recovery_attempted"
)

// Event describes one transition. Status is the snapshot taken at the
// moment of the transition.
type Event struct {
	Seq      uint64          `json:"seq"`
	Kind     EventKind       `json:"kind"`
	Identity driver.Identity `json:"device_serial,omitempty"`
	Session  string          `json:"session_id,omitempty"`
	Attempt  int             `json:"attempt,omitempty"`
	Detail   string          `json:"detail,omitempty"`
	At       time.Time       `json:"at"`
	Status   Snapshot        `json:"status"`
}

// Sink receives events in the order they happened.
//
// Sinks run on a single dispatch goroutine; a slow sink delays the others
// and, once the queue is full, causes events to be dropped.
type Sink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// HandleEvent calls f(e).
func (f SinkFunc) HandleEvent(e Event) {
	f(e)
}

// eventQueueSize bounds the events waiting for dispatch.
const eventQueueSize = 128

// notifier fans events out to sinks without ever blocking the emitter.
type notifier struct {
	mu     sync.RWMutex
	sinks  []Sink
	closed bool
	queue  chan Event
	done   chan struct{}
	onDrop func(Event)
}

func newNotifier(onDrop func(Event)) *notifier {
	n := &notifier{
		queue:  make(chan Event, eventQueueSize),
		done:   make(chan struct{}),
		onDrop: onDrop,
	}
	go n.dispatch()
	return n
}

func (n *notifier) add(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// emit queues e. It returns false if the event was dropped.
func (n *notifier) emit(e Event) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return false
	}
	select {
	case n.queue <- e:
		return true
	default:
		if n.onDrop != nil {
			n.onDrop(e)
		}
		return false
	}
}

func (n *notifier) dispatch() {
	defer close(n.done)

	for e := range n.queue {
		n.mu.RLock()
		sinks := make([]Sink, len(n.sinks))
		copy(sinks, n.sinks)
		n.mu.RUnlock()

		for _, s := range sinks {
			s.HandleEvent(e)
		}
	}
}

// close stops accepting events and waits until queued ones are delivered.
func (n *notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		<-n.done
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	<-n.done
}
