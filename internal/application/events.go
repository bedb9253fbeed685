package application

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ericfisherdev/shotrun/internal/domain/model"
)

// EventHandler receives events published on an EventBus.
type EventHandler func(model.Event)

// EventBus fans run events out to subscribers. Each subscriber owns an
// unbounded mailbox drained by its own goroutine, so:
//   - every event published after Subscribe returns is delivered at least once,
//   - a subscriber sees events in publish order,
//   - there is no ordering guarantee across subscribers or event kinds,
//   - Publish never blocks on a slow handler.
type EventBus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	logger *slog.Logger
}

// NewEventBus creates an empty bus.
func NewEventBus(logger *slog.Logger) *EventBus {
	return &EventBus{
		subs:   make(map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is a registered handler. Unsubscribe stops it.
type Subscription struct {
	bus     *EventBus
	kinds   map[model.EventKind]struct{}
	handler EventHandler

	mu     sync.Mutex
	queue  []model.Event
	closed bool
	wake   chan struct{}
	done   chan struct{}
}

// Subscribe registers handler for the given kinds, or for every kind when
// none are given.
func (b *EventBus) Subscribe(handler EventHandler, kinds ...model.EventKind) *Subscription {
	sub := &Subscription{
		bus:     b,
		kinds:   make(map[model.EventKind]struct{}, len(kinds)),
		handler: handler,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, k := range kinds {
		sub.kinds[k] = struct{}{}
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go sub.run(b.logger)
	return sub
}

// Publish enqueues ev for every matching subscriber.
func (b *EventBus) Publish(ev model.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if sub.matches(ev.Kind) {
			sub.push(ev)
		}
	}
}

// Close unsubscribes every subscriber and waits for their mailboxes to drain.
func (b *EventBus) Close() {
	b.mu.Lock()
	subs := make([]*Subscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	for _, sub := range subs {
		<-sub.done
	}
}

// Unsubscribe stops delivery of new events and blocks until every event
// already queued has been handled. It must not be called from the
// subscription's own handler.
func (s *Subscription) Unsubscribe() {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.stop()
	<-s.done
}

func (s *Subscription) matches(kind model.EventKind) bool {
	if len(s.kinds) == 0 {
		return true
	}
	_, ok := s.kinds[kind]
	return ok
}

func (s *Subscription) push(ev model.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) stop() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run(logger *slog.Logger) {
	defer close(s.done)

	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			s.deliver(logger, ev)
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
		}
	}
}

func (s *Subscription) deliver(logger *slog.Logger, ev model.Event) {
	defer func() {
		if v := recover(); v != nil {
			logger.Error("event handler panicked", "kind", ev.Kind, "panic", v)
		}
	}()
	s.handler(ev)
}
