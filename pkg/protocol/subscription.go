package protocol

import (
	"context"
	"sync"
)

// Subscription is a stream of events of one method.
//
// Delivery into the subscription never blocks the receive loop: events are
// queued without bound and pumped to Events by a dedicated goroutine.
type Subscription struct {
	id     uint64
	method string
	conn   *Connection
	events chan Event

	mu     sync.Mutex
	queue  []Event
	ended  bool
	notify chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

func newSubscription(conn *Connection, method string, id uint64) *Subscription {
	return &Subscription{
		id:     id,
		method: method,
		conn:   conn,
		events: make(chan Event),
		notify: make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// ID identifies the subscriber for Unsubscribe
func (s *Subscription) ID() uint64 {
	return s.id
}

// Method returns the event method this subscription receives
func (s *Subscription) Method() string {
	return s.method
}

// Events yields events in arrival order. The channel is closed when the
// subscription is closed or the connection terminates.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close unsubscribes and stops delivery. Events still queued are dropped.
func (s *Subscription) Close(ctx context.Context) error {
	defer s.halt()

	select {
	case <-s.conn.done:
		return nil
	default:
	}
	return s.conn.Unsubscribe(ctx, s.method, s.id)
}

func (s *Subscription) push(event Event) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, event)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// finish ends the stream after the queued events are delivered
func (s *Subscription) finish() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// halt ends the stream immediately
func (s *Subscription) halt() {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Subscription) run() {
	defer close(s.events)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}

			select {
			case <-s.notify:
			case <-s.stop:
				return
			case <-s.conn.done:
				s.finish()
			}
			continue
		}

		event := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- event:
		case <-s.stop:
			return
		}
	}
}
