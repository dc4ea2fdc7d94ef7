// Package eventbus implements the tagged-union lifecycle event type
// and a copy-on-write handler registry: session connected/
// disconnected, input received, stream pause/resume/stop, and
// session-fatal events are published here and fanned out to every
// registered handler in the order they were fired by the publishing
// goroutine.
package eventbus

import "sync"

// Kind identifies an event's shape without resorting to interface type
// switches at every subscriber.
type Kind int

const (
	SessionConnected Kind = iota
	SessionDisconnected
	InputReceived
	StreamPause
	StreamResume
	StreamStop
	SessionFatal
	LossStats
	FrameStats
	ControlSessionOpening
	StreamStart
)

func (k Kind) String() string {
	switch k {
	case SessionConnected:
		return "SessionConnected"
	case SessionDisconnected:
		return "SessionDisconnected"
	case InputReceived:
		return "InputReceived"
	case StreamPause:
		return "StreamPause"
	case StreamResume:
		return "StreamResume"
	case StreamStop:
		return "StreamStop"
	case SessionFatal:
		return "SessionFatal"
	case LossStats:
		return "LossStats"
	case FrameStats:
		return "FrameStats"
	case ControlSessionOpening:
		return "ControlSessionOpening"
	case StreamStart:
		return "StreamStart"
	default:
		return "Unknown"
	}
}

// Event is the tagged union delivered to handlers. SessionID is 0 for
// events not bound to a particular session.
type Event struct {
	Kind      Kind
	SessionID uint32
	Reason    string
	Payload   any
}

// Handler receives events synchronously on the publisher's goroutine.
type Handler func(Event)

type subscriber struct {
	id int
	fn Handler
}

// Bus is the copy-on-write handler registry. Zero value is usable.
type Bus struct {
	mu       sync.Mutex
	nextID   int
	handlers []subscriber
}

// Subscribe registers h and returns an unsubscribe function. Safe to
// call concurrently with Publish.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID

	next := make([]subscriber, len(b.handlers)+1)
	copy(next, b.handlers)
	next[len(b.handlers)] = subscriber{id: id, fn: h}
	b.handlers = next

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		filtered := make([]subscriber, 0, len(b.handlers))
		for _, existing := range b.handlers {
			if existing.id != id {
				filtered = append(filtered, existing)
			}
		}
		b.handlers = filtered
	}
}

// Publish delivers ev to every currently-registered handler, in
// registration order, on the calling goroutine. Cross-publisher
// ordering is intentionally undefined.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	snapshot := b.handlers
	b.mu.Unlock()

	for _, s := range snapshot {
		s.fn(ev)
	}
}
