package progress

import (
	"sync"

	"github.com/nexus-fiscal/fiscal-cli/internal/model"
)

// subscriber buffers events for one consumer. Publishers append to the
// pending queue and never block; a dedicated pump goroutine drains the queue
// into the outbound channel at whatever pace the consumer reads. The queue is
// bounded only by process memory, a trade-off accepted so that one slow
// consumer cannot stall publication to the others.
type subscriber struct {
	mu      sync.Mutex
	pending []model.Event
	ended   bool
	stopped bool
	signal  chan struct{}
	quit    chan struct{}
	out     chan model.Event
}

func newSubscriber() *subscriber {
	return &subscriber{
		signal: make(chan struct{}, 1),
		quit:   make(chan struct{}),
		out:    make(chan model.Event),
	}
}

// enqueue queues one event for delivery. Safe to call from under the
// Registry lock; it only touches the subscriber's own state.
func (s *subscriber) enqueue(ev model.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.stopped {
		return
	}
	s.pending = append(s.pending, ev)
	s.wake()
}

// end marks the stream complete: once the pending queue drains, the pump
// closes the outbound channel.
func (s *subscriber) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended || s.stopped {
		return
	}
	s.ended = true
	s.wake()
}

// stop tears the subscriber down without waiting for the consumer.
func (s *subscriber) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	close(s.quit)
}

func (s *subscriber) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

// pump delivers queued events in order, exactly once, and closes the
// outbound channel after the final event of an ended stream.
func (s *subscriber) pump() {
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		ended := s.ended
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.quit:
				return
			}
		}

		if ended {
			close(s.out)
			return
		}

		select {
		case <-s.signal:
		case <-s.quit:
			return
		}
	}
}
