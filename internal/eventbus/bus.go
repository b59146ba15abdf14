package eventbus

import (
	"sync"
	"time"

	"github.com/mcpterminal/assistant/internal/errs"
)

// Event is a single notification delivered to subscribers. The fields
// used depend on Kind (e.g. Status for KindStatusChange, a 0..1 fraction
// in Progress for KindProgress).
type Event struct {
	Kind      Kind
	RequestID string
	Status    string
	Message   string
	Progress  float64
	ErrKind   errs.Kind
	At        time.Time
}

// Bus is a typed, in-process, channel-based pub/sub used to decouple the
// UI from controller internals. Delivery is best-effort and in-order per
// publisher: a slow or absent subscriber never blocks the publisher, but
// never reorders what it does receive.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	bufSize     int
}

// New creates an empty Bus. bufSize bounds each subscriber's channel;
// events published while a subscriber's buffer is full are dropped for
// that subscriber rather than blocking the publisher.
func New(bufSize int) *Bus {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Bus{
		subscribers: make(map[int]chan Event),
		bufSize:     bufSize,
	}
}

// Subscribe registers a new listener and returns its channel plus an
// unsubscribe function. Callers must drain the channel or call
// unsubscribe to avoid leaking the registration.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.bufSize)
	b.subscribers[id] = ch

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			close(existing)
		}
	}
	return ch, unsub
}

// Publish fans e out to every current subscriber, non-blocking.
func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- e:
		default:
			// Subscriber's buffer is full; drop rather than block the
			// publisher (a slow UI must never stall the controller).
		}
	}
}

// StatusChange publishes a KindStatusChange event.
func (b *Bus) StatusChange(requestID string, status string) {
	b.Publish(Event{Kind: KindStatusChange, RequestID: requestID, Status: status})
}

// Progress publishes a KindProgress event.
func (b *Bus) Progress(requestID string, fraction float64) {
	b.Publish(Event{Kind: KindProgress, RequestID: requestID, Progress: fraction})
}

// Error publishes a KindError event built from a taxonomy error.
func (b *Bus) Error(requestID string, kind errs.Kind, humanMessage string) {
	b.Publish(Event{Kind: KindError, RequestID: requestID, ErrKind: kind, Message: humanMessage})
}

// PasteDetected publishes a KindPasteDetected event.
func (b *Bus) PasteDetected() {
	b.Publish(Event{Kind: KindPasteDetected})
}

// MultilineBegin publishes a KindMultilineBegin event.
func (b *Bus) MultilineBegin() {
	b.Publish(Event{Kind: KindMultilineBegin})
}

// MultilineEnd publishes a KindMultilineEnd event.
func (b *Bus) MultilineEnd() {
	b.Publish(Event{Kind: KindMultilineEnd})
}
