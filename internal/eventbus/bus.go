// Package eventbus implements the non-blocking fan-out described in §4.7:
// price updates are lossy under backpressure, fills and state changes are
// never dropped — a subscriber whose queue is full of those is
// disconnected instead.
package eventbus

import (
	"sync"

	"github.com/wubbalubsbadubdub/Coinbase-Gridbot/internal/core"
)

// DefaultQueueDepth is the per-subscriber buffered channel depth (§4.7
// default Q=64).
const DefaultQueueDepth = 64

// subscriber is one fan-out destination (a WebSocket session, in the
// httpapi package).
type subscriber struct {
	ch        chan core.BusEvent
	closed    bool
	overflow  bool // true once a must-deliver event was dropped: caller disconnects
	mu        sync.Mutex
}

func (s *subscriber) deliver(evt core.BusEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	select {
	case s.ch <- evt:
		return
	default:
	}

	// Queue full. Price updates are lossy: drop the oldest queued entry
	// and retry once. Fills and state changes are never dropped; if the
	// queue is saturated with those, flag overflow so Publish can
	// disconnect the subscriber.
	if evt.Type == core.EventPriceUpdate {
		select {
		case old := <-s.ch:
			// Only a queued price update may be discarded; removing a
			// fill or state change would lose it, so disconnect instead.
			if old.Type != core.EventPriceUpdate {
				s.overflow = true
				return
			}
		default:
		}
		select {
		case s.ch <- evt:
		default:
		}
		return
	}

	s.overflow = true
}

func (s *subscriber) isOverflowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.overflow
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Bus is the IEventBus implementation. Subscribe/Publish/unsubscribe are
// all safe for concurrent use; Publish never blocks on a slow subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*subscriber]struct{}
	queueDepth  int
	logger      core.ILogger
}

// NewBus constructs a Bus with the given per-subscriber queue depth (0
// uses DefaultQueueDepth).
func NewBus(queueDepth int, logger core.ILogger) *Bus {
	if queueDepth <= 0 {
		queueDepth = DefaultQueueDepth
	}
	return &Bus{
		subscribers: make(map[*subscriber]struct{}),
		queueDepth:  queueDepth,
		logger:      logger.With("component", "eventbus"),
	}
}

// Publish fans evt out to every live subscriber. Per §5's event-ordering
// guarantee, callers are responsible for invoking Publish in the required
// price_update -> order_filled -> state_change order within a tick; Bus
// itself imposes no reordering.
func (b *Bus) Publish(evt core.BusEvent) {
	b.mu.RLock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	var overflowed []*subscriber
	for _, s := range subs {
		s.deliver(evt)
		if s.isOverflowed() {
			overflowed = append(overflowed, s)
		}
	}

	for _, s := range overflowed {
		b.logger.Warn("subscriber backpressure: disconnecting", "event_type", evt.Type)
		b.disconnect(s)
	}
}

// Subscribe registers a new subscriber and returns its receive channel and
// an idempotent unsubscribe func.
func (b *Bus) Subscribe() (<-chan core.BusEvent, func()) {
	s := &subscriber{ch: make(chan core.BusEvent, b.queueDepth)}

	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { b.disconnect(s) })
	}
	return s.ch, unsubscribe
}

func (b *Bus) disconnect(s *subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	s.close()
}

// SubscriberCount reports the current number of live subscribers (used by
// the HTTP status endpoint).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

var _ core.IEventBus = (*Bus)(nil)
